// Package metadata implements the key/value protocol that carries provenance
// from an upload through audio, transcript and minutes blobs. Free text is
// base64 encoded because storage metadata values must be ASCII.
package metadata

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/lyzr/minutes/common/apperrors"
)

const (
	KeyPrompt      = "original_prompt_b64"
	KeyFilename    = "original_filename_b64"
	KeyUserID      = "user_id"
	KeyUserDetails = "user_details_b64"
	KeyTranscript  = "transcript_blob_name"

	KeyTranslatedFrom   = "translated_from_name"
	KeyTranslatedTo     = "translated_to"
	KeyDetectedLanguage = "detected_language"
)

// Field names accepted by DecodeField. The stored key is the field plus "_b64".
const (
	FieldPrompt      = "original_prompt"
	FieldFilename    = "original_filename"
	FieldUserDetails = "user_details"
)

var recognized = []string{KeyPrompt, KeyFilename, KeyUserID, KeyUserDetails, KeyTranscript}

// Map is a blob's user metadata.
type Map map[string]string

// UserID returns the owner recorded in the map, or "".
func (m Map) UserID() string { return m[KeyUserID] }

// Clone returns a shallow copy that is safe to mutate.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Encode returns the base64 form of a UTF-8 string.
func Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// BuildInitial creates the metadata attached to a freshly extracted audio blob.
// Empty optional values are omitted rather than stored as empty strings.
func BuildInitial(prompt, originalFilename, userID, userDetails string) Map {
	m := Map{}
	if prompt != "" {
		m[KeyPrompt] = Encode(prompt)
	}
	if originalFilename != "" {
		m[KeyFilename] = Encode(originalFilename)
	}
	if userID != "" {
		m[KeyUserID] = userID
	}
	if userDetails != "" {
		m[KeyUserDetails] = Encode(userDetails)
	}
	return m
}

// Propagate copies only the recognized keys of source, then merges extra.
// Keys in extra win over copied keys.
func Propagate(source, extra Map) Map {
	out := Map{}
	for _, k := range recognized {
		if v, ok := source[k]; ok && v != "" {
			out[k] = v
		}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// DecodeField decodes the base64 value stored under field+"_b64".
func DecodeField(m Map, field string) (string, error) {
	key := field + "_b64"
	raw, ok := m[key]
	if !ok || raw == "" {
		return "", apperrors.Wrap(apperrors.ErrMissingMetadata, "metadata", "decode", key, nil)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrMissingMetadata, "metadata", "decode", key+" is not base64", err)
	}
	if !utf8.Valid(decoded) {
		return "", apperrors.Wrap(apperrors.ErrMissingMetadata, "metadata", "decode", key+" is not utf-8", nil)
	}
	return string(decoded), nil
}

// DecodeOr returns the decoded field or fallback when it is absent or unreadable.
func DecodeOr(m Map, field, fallback string) string {
	v, err := DecodeField(m, field)
	if err != nil {
		return fallback
	}
	return v
}

// Normalize converts SDK metadata into a Map. Keys are lower-cased because
// header canonicalization can change their case on the way back.
func Normalize(in map[string]*string) Map {
	out := make(Map, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		out[strings.ToLower(k)] = *v
	}
	return out
}

// ToPointers converts a Map into the pointer form storage SDKs expect.
func ToPointers(m Map) map[string]*string {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		v := v
		out[k] = &v
	}
	return out
}
