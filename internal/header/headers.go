package header

import (
	"bufio"
	"io"
	"strings"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// DisplayRule is one entry of the user's header display list.
type DisplayRule struct {
	Name   string `yaml:"name"`
	Hidden bool   `yaml:"hidden"`
}

type DisplayRules struct {
	ShowOther bool          `yaml:"show_other_headers"`
	Headers   []DisplayRule `yaml:"headers"`
}

func DefaultDisplayRules() DisplayRules {
	return DisplayRules{
		Headers: []DisplayRule{
			{Name: "From"},
			{Name: "To"},
			{Name: "Cc"},
			{Name: "Subject"},
			{Name: "Date"},
			{Name: "Reply-To", Hidden: true},
			{Name: "Sender", Hidden: true},
			{Name: "User-Agent", Hidden: true},
			{Name: "X-Mailer", Hidden: true},
			{Name: "Received", Hidden: true},
		},
	}
}

// NameEqual compares header names case-insensitively, ignoring a trailing colon.
func NameEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, ":"), strings.TrimSuffix(b, ":"))
}

// GetHeaderList reads every field of the header block in order, with bodies
// MIME-decoded using fallbackCharset for raw 8-bit text.
func GetHeaderList(r *bufio.Reader, fallbackCharset string) ([]models.Header, error) {
	return readHeaders(r, func(body string) string {
		return DecodeHeader(body, fallbackCharset)
	})
}

// GetHeaderArrayAsis is GetHeaderList without any decoding of the bodies.
func GetHeaderArrayAsis(r *bufio.Reader) ([]models.Header, error) {
	return readHeaders(r, func(body string) string { return body })
}

func readHeaders(r *bufio.Reader, decode func(string) string) ([]models.Header, error) {
	var headers []models.Header
	for {
		line, err := GetUnfoldedLine(r)
		if err == io.EOF {
			return headers, nil
		}
		if err != nil {
			return headers, err
		}

		name, body, ok := strings.Cut(line, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		body = strings.TrimLeft(body, " \t")
		headers = append(headers, models.Header{Name: name, Body: decode(body)})
	}
}

// GetHeaderArrayForDisplay reads the header block and orders it for display.
// Fields named by visible rules come first, in rule order. When ShowOther is
// set, the remaining fields not hidden by a rule follow in their original order.
func GetHeaderArrayForDisplay(r *bufio.Reader, fallbackCharset string, rules DisplayRules) ([]models.Header, error) {
	headers, err := GetHeaderList(r, fallbackCharset)
	if err != nil {
		return nil, err
	}
	return SortForDisplay(headers, rules), nil
}

// SortForDisplay applies rules to an already read header list.
func SortForDisplay(headers []models.Header, rules DisplayRules) []models.Header {
	remaining := append([]models.Header(nil), headers...)
	sorted := make([]models.Header, 0, len(headers))

	for _, rule := range rules.Headers {
		if rule.Hidden {
			continue
		}
		kept := remaining[:0]
		for _, h := range remaining {
			if NameEqual(h.Name, rule.Name) {
				sorted = append(sorted, h)
			} else {
				kept = append(kept, h)
			}
		}
		remaining = kept
	}

	if !rules.ShowOther {
		return sorted
	}

	for _, h := range remaining {
		if !isHidden(h.Name, rules) {
			sorted = append(sorted, h)
		}
	}
	return sorted
}

func isHidden(name string, rules DisplayRules) bool {
	for _, rule := range rules.Headers {
		if rule.Hidden && NameEqual(name, rule.Name) {
			return true
		}
	}
	return false
}
