package header

import (
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader turns a raw header body into UTF-8. Raw 8-bit text that is
// not valid UTF-8 is converted from fallbackCharset first, then RFC 2047
// encoded words are decoded. Undecodable words are left as they are.
func DecodeHeader(s, fallbackCharset string) string {
	if !isASCII(s) && !utf8.ValidString(s) {
		s = convertFromCharset(s, fallbackCharset)
	}
	if !strings.Contains(s, "=?") {
		return s
	}
	dec, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return dec
}

func convertFromCharset(s, cs string) string {
	if cs != "" {
		if r, err := charset.Reader(cs, strings.NewReader(s)); err == nil {
			if b, err := io.ReadAll(r); err == nil {
				return string(b)
			}
		}
	}
	if out, err := charmap.Windows1252.NewDecoder().String(s); err == nil {
		return out
	}
	return strings.ToValidUTF8(s, "?")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// substControl replaces control characters with spaces.
func substControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

// ExtractDisplayName returns the display name of a From value, or the bare
// address when there is no name.
func ExtractDisplayName(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		if addr.Name != "" {
			return addr.Name
		}
		return addr.Address
	}

	if i := strings.IndexByte(from, '<'); i > 0 {
		if name := strings.Trim(strings.TrimSpace(from[:i]), `"`); name != "" {
			return name
		}
	}
	if i := strings.IndexByte(from, '('); i >= 0 {
		if j := strings.LastIndexByte(from, ')'); j > i+1 {
			return strings.TrimSpace(from[i+1 : j])
		}
	}
	return strings.Trim(strings.TrimSpace(from), "<>")
}

// extractBracketed returns the contents of every <...> token in s with
// embedded whitespace removed.
func extractBracketed(s string) []string {
	var ids []string
	for {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			return ids
		}
		j := strings.IndexByte(s[i+1:], '>')
		if j < 0 {
			return ids
		}
		id := strings.Join(strings.Fields(s[i+1:i+1+j]), "")
		if id != "" {
			ids = append(ids, id)
		}
		s = s[i+1+j+1:]
	}
}
