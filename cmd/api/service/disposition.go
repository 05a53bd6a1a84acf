package service

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContentDisposition builds an attachment header with an ASCII fallback
// filename and an RFC 5987 UTF-8 filename* parameter.
func ContentDisposition(filename string) string {
	filename = path.Base(filename)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		asciiFilename(filename), encodeRFC5987(filename))
}

// asciiFilename strips accents and replaces any remaining non-ASCII or
// header-breaking character with an underscore.
func asciiFilename(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '"' || r == '\\' || r == ';' || r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case r > unicode.MaxASCII:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	ext := path.Ext(folded)
	out := b.String()
	if strings.Trim(strings.TrimSuffix(out, ext), "_") == "" {
		return "minutes" + ext
	}
	return out
}

func encodeRFC5987(s string) string {
	// PathEscape leaves a few sub-delims RFC 5987 does not allow.
	escaped := url.PathEscape(s)
	return strings.NewReplacer("'", "%27", "(", "%28", ")", "%29", "*", "%2A", "&", "%26", "+", "%2B", "=", "%3D", ",", "%2C", ";", "%3B", "$", "%24", ":", "%3A", "@", "%40").Replace(escaped)
}
