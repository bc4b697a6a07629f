package stream

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContentDisposition builds an inline or attachment header value. The plain
// filename parameter is ASCII only; when transliteration changed the name the
// original is added as an RFC 5987 filename* parameter.
func ContentDisposition(attachment bool, name string) string {
	kind := "inline"
	if attachment {
		kind = "attachment"
	}

	ascii := ASCIIFilename(name)
	value := kind + `; filename="` + ascii + `"`
	if ascii != name {
		value += "; filename*=UTF-8''" + strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	}
	return value
}

// ASCIIFilename strips diacritics and replaces whatever is still outside
// printable ASCII, plus quotes and backslashes, with '_'.
func ASCIIFilename(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	for _, r := range stripped {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	out := b.String()
	if strings.Trim(out, "_ .") == "" {
		return "download"
	}
	return out
}
