package header

import (
	"fmt"
	"io"
	"strings"

	"github.com/jhillyerd/enmime"
)

// MIMEScanner decides whether a multipart body carries an HTML part that
// should be preferred for display.
type MIMEScanner interface {
	HasHTMLPart(contentType string, body io.Reader) (bool, error)
}

// EnmimeScanner walks the part tree built by enmime. The result is true only
// when the tree consists of text and multipart parts and at least one of
// them is text/html.
type EnmimeScanner struct{}

func (EnmimeScanner) HasHTMLPart(contentType string, body io.Reader) (bool, error) {
	head := "MIME-Version: 1.0\r\nContent-Type: " + strings.ReplaceAll(contentType, "\n", "\r\n") + "\r\n\r\n"
	root, err := enmime.ReadParts(io.MultiReader(strings.NewReader(head), body))
	if err != nil {
		return false, fmt.Errorf("failed to read MIME parts: %w", err)
	}

	hasHTML := false
	for part := root; part != nil; part = nextPart(part) {
		ct := strings.ToLower(part.ContentType)
		switch {
		case strings.HasPrefix(ct, "multipart/"):
		case ct == "text/html":
			hasHTML = true
		case ct == "" || strings.HasPrefix(ct, "text/"):
		default:
			return false, nil
		}
	}
	return hasHTML, nil
}

// nextPart returns the next part in depth-first order.
func nextPart(p *enmime.Part) *enmime.Part {
	if p.FirstChild != nil {
		return p.FirstChild
	}
	for ; p != nil; p = p.Parent {
		if p.NextSibling != nil {
			return p.NextSibling
		}
	}
	return nil
}
