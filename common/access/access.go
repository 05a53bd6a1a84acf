// Package access decides whether a caller may read or derive from a minutes blob.
package access

import (
	"fmt"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/naming"
)

// CheckPath applies the path-prefix tier only. It needs no storage round trip,
// so callers run it before fetching anything.
func CheckPath(callerID, name string) error {
	if callerID == "" {
		return nil
	}
	if !naming.ValidUserID(callerID) {
		return apperrors.Wrap(apperrors.ErrForbidden, "access", "path", "caller id is not a valid owner", nil)
	}
	if owner, ok := naming.ExtractUserIDFromPath(name); ok && owner != callerID {
		return apperrors.Wrap(apperrors.ErrForbidden, "access", "path",
			fmt.Sprintf("%s is not owned by caller", name), nil)
	}
	return nil
}

// Check applies both tiers: a users/{id}/ name must match the caller, and a
// recorded metadata owner must match too. Only an explicit mismatch is
// rejected, so legacy blobs without an owner stay readable.
func Check(callerID, name string, meta metadata.Map) error {
	if err := CheckPath(callerID, name); err != nil {
		return err
	}
	owner := meta.UserID()
	if owner != "" && callerID != "" && owner != callerID {
		return apperrors.Wrap(apperrors.ErrForbidden, "access", "metadata",
			fmt.Sprintf("%s is owned by another user", name), nil)
	}
	return nil
}

// Visible reports whether a listed blob belongs in the caller's listing.
// Known callers see their own prefix and legacy blobs they own; anonymous
// callers see only unprefixed blobs without an owner.
func Visible(callerID, name string, meta metadata.Map) bool {
	owner, prefixed := naming.ExtractUserIDFromPath(name)
	if prefixed {
		return naming.ValidUserID(callerID) && owner == callerID &&
			(meta.UserID() == "" || meta.UserID() == callerID)
	}
	if callerID == "" {
		return meta.UserID() == ""
	}
	return meta.UserID() == callerID
}
