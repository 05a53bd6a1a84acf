// Package naming derives and inverts the blob names that carry a job's
// identity between stages. Every function here is pure.
package naming

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/lyzr/minutes/common/apperrors"
)

const (
	usersRoot = "users"

	// MinutesSuffix terminates every primary minutes blob name.
	MinutesSuffix = "_minutes.txt"

	// TagRegenerated marks minutes produced by an explicit regeneration.
	TagRegenerated = "regen"

	translationTagPrefix = "tr-"
	versionTimeLayout    = "20060102T150405"
	maxBaseRunes         = 120
	fallbackBase         = "upload"
)

var versionedPattern = regexp.MustCompile(`^(.+)_(regen|tr-[A-Za-z0-9-]+)_(\d{8}T\d{9}Z)\.txt$`)

// Kind classifies a minutes blob by how it was produced.
type Kind string

const (
	KindMinutes     Kind = "minutes"
	KindRegenerated Kind = "regen"
	KindTranslation Kind = "translation"
)

// MinutesName is the parsed form of a minutes blob name.
type MinutesName struct {
	UserID    string
	AudioBase string
	Kind      Kind
	Tag       string
	Version   string
}

// UserPrefix returns the per-user namespace prefix, or "" when the owner is
// unknown or cannot be used as a single path segment.
func UserPrefix(userID string) string {
	if !ValidUserID(userID) {
		return ""
	}
	return usersRoot + "/" + userID + "/"
}

// ValidUserID reports whether id round-trips through a users/{id}/ prefix.
// ExtractUserIDFromPath reads back one segment, so separators, dot segments
// and control characters are refused.
func ValidUserID(id string) bool {
	if id == "" || id == "." || id == ".." || !utf8.ValidString(id) {
		return false
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// TranslationTag returns the version tag used for a saved translation.
func TranslationTag(lang string) string {
	return translationTagPrefix + SanitizeTag(lang)
}

// SanitizeTag keeps letters, digits and hyphens so a tag can never break the
// versioned-name grammar.
func SanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

// SanitizeBase makes a user-supplied file base safe to embed in a blob name.
// Unicode is kept (NFC) but separators, control characters and URL-reserved
// characters are replaced.
func SanitizeBase(base string) string {
	base = norm.NFC.String(base)

	var b strings.Builder
	count := 0
	for _, r := range base {
		if count >= maxBaseRunes {
			break
		}
		switch {
		case unicode.IsControl(r), r == '/', r == '\\', r == '?', r == '#', r == '%', r == '"':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
		count++
	}

	out := strings.TrimRight(strings.TrimSpace(b.String()), ". ")
	if out == "" {
		return fallbackBase
	}
	return out
}

// FileBase returns the final path element of a filename without its extension.
func FileBase(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// DeriveAudioName builds a unique audio blob name from the original upload
// filename and the extension of the produced audio format.
func DeriveAudioName(originalFilename, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return SanitizeBase(FileBase(originalFilename)) + "_" + uuid.NewString() + ext
}

// AudioBaseName strips the directory and the final extension of an audio blob name.
func AudioBaseName(audioName string) string {
	base := path.Base(audioName)
	return strings.TrimSuffix(base, path.Ext(base))
}

// DeriveMinutesName returns {prefix}{audioBase}_minutes.txt.
func DeriveMinutesName(audioBase, userID string) string {
	return UserPrefix(userID) + audioBase + MinutesSuffix
}

// DeriveVersionedMinutesName returns {prefix}{audioBase}_{tag}_{timestamp}.txt.
// The timestamp has millisecond precision so successive versions never collide
// with each other or with the primary minutes blob.
func DeriveVersionedMinutesName(audioBase, userID, tag string, ts time.Time) string {
	return fmt.Sprintf("%s%s_%s_%s.txt", UserPrefix(userID), audioBase, tag, versionStamp(ts))
}

func versionStamp(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%03dZ", ts.Format(versionTimeLayout), ts.Nanosecond()/int(time.Millisecond))
}

// ParseMinutesName inverts DeriveMinutesName and DeriveVersionedMinutesName.
// Inversion is by fixed suffix or the versioned grammar, never by substring search.
func ParseMinutesName(name string) (MinutesName, bool) {
	userID, _ := ExtractUserIDFromPath(name)
	base := path.Base(name)

	if strings.HasSuffix(base, MinutesSuffix) && len(base) > len(MinutesSuffix) {
		return MinutesName{
			UserID:    userID,
			AudioBase: strings.TrimSuffix(base, MinutesSuffix),
			Kind:      KindMinutes,
		}, true
	}

	m := versionedPattern.FindStringSubmatch(base)
	if m == nil {
		return MinutesName{}, false
	}
	kind := KindRegenerated
	if strings.HasPrefix(m[2], translationTagPrefix) {
		kind = KindTranslation
	}
	return MinutesName{
		UserID:    userID,
		AudioBase: m[1],
		Kind:      kind,
		Tag:       m[2],
		Version:   m[3],
	}, true
}

// JobIDFromMinutesName returns the audio base a minutes blob was derived from.
func JobIDFromMinutesName(name string) (string, bool) {
	parsed, ok := ParseMinutesName(name)
	if !ok {
		return "", false
	}
	return parsed.AudioBase, true
}

// ExtractUserIDFromPath returns the second path segment of a users/{id}/ name.
func ExtractUserIDFromPath(name string) (string, bool) {
	parts := strings.Split(name, "/")
	if len(parts) >= 2 && parts[0] == usersRoot && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}

// IsDetailedResult reports whether a transcript blob is the per-file detailed
// result the minutes stage reacts to.
func IsDetailedResult(name, prefix string) bool {
	return strings.HasPrefix(path.Base(name), prefix)
}

// ResolveBlobNameFromURL returns the blob path following /{container}/ in a
// blob URL, keeping virtual folders. Query strings (SAS tokens) are ignored.
func ResolveBlobNameFromURL(rawURL, container string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrMalformedReference, "naming", "resolve", rawURL, err)
	}

	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg != container {
			continue
		}
		rest := strings.Join(segments[i+1:], "/")
		if rest == "" {
			break
		}
		return rest, nil
	}
	return "", apperrors.Wrap(apperrors.ErrMalformedReference, "naming", "resolve",
		fmt.Sprintf("url %q has no blob in container %q", rawURL, container), nil)
}

// SplitSubject parses an Event Grid storage subject of the form
// /blobServices/default/containers/{container}/blobs/{name}.
func SplitSubject(subject string) (container, name string, ok bool) {
	const marker = "/containers/"
	i := strings.Index(subject, marker)
	if i < 0 {
		return "", "", false
	}
	rest := subject[i+len(marker):]
	container, name, found := strings.Cut(rest, "/blobs/")
	if !found || container == "" || name == "" {
		return "", "", false
	}
	return container, name, true
}

// SplitURL returns the container and blob name of a blob URL. Emulator URLs
// carry the account name as the first path segment.
func SplitURL(rawURL string) (container, name string, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrMalformedReference, "naming", "split", rawURL, err)
	}
	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) >= 3 && segments[0] == "devstoreaccount1" {
		segments = segments[1:]
	}
	if len(segments) < 2 || segments[0] == "" || segments[len(segments)-1] == "" {
		return "", "", apperrors.Wrap(apperrors.ErrMalformedReference, "naming", "split",
			fmt.Sprintf("url %q is not a blob url", rawURL), nil)
	}
	return segments[0], strings.Join(segments[1:], "/"), nil
}
