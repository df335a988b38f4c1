package imap

import (
	"strings"

	"github.com/emersion/go-imap/utf7"
)

// EncodeMailboxName converts a UTF-8 folder name to modified UTF-7. A name
// the codec cannot represent is returned unchanged.
func EncodeMailboxName(name string) string {
	enc, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return name
	}
	return enc
}

// DecodeMailboxName converts a modified UTF-7 mailbox name to UTF-8. A
// malformed name is returned unchanged.
func DecodeMailboxName(name string) string {
	dec, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return dec
}

// SubstSeparator replaces every from byte with to, leaving the encoded
// runs of a modified UTF-7 name (from '&' up to the next '-') untouched.
func SubstSeparator(name string, from, to byte) string {
	if from == to || from == 0 || to == 0 {
		return name
	}
	b := []byte(name)
	escaped := false
	for i, c := range b {
		switch {
		case escaped:
			if c == '-' {
				escaped = false
			}
		case c == '&':
			escaped = true
		case c == from:
			b[i] = to
		}
	}
	return string(b)
}

// Namespace is one entry of a NAMESPACE response: a mailbox name prefix
// and the hierarchy delimiter used below it. Separator 0 means the
// namespace is flat.
type Namespace struct {
	Prefix    string
	Separator byte
}

// Namespaces groups the personal, other users' and shared namespaces.
type Namespaces struct {
	Personal []Namespace
	Other    []Namespace
	Shared   []Namespace
}

// Find returns the namespace whose prefix is the longest match for the
// server-side name, or nil when none matches. Prefixes are compared with
// their trailing separator stripped so that "INBOX" matches "INBOX.".
func (ns *Namespaces) Find(name string) *Namespace {
	if ns == nil {
		return nil
	}
	var best *Namespace
	bestLen := -1
	for _, group := range [][]Namespace{ns.Personal, ns.Other, ns.Shared} {
		for i := range group {
			n := &group[i]
			prefix := n.Prefix
			if n.Separator != 0 {
				prefix = strings.TrimSuffix(prefix, string(n.Separator))
			}
			if !strings.HasPrefix(name, prefix) || len(prefix) <= bestLen {
				continue
			}
			rest := name[len(prefix):]
			if prefix != "" && rest != "" && (n.Separator == 0 || rest[0] != n.Separator) {
				continue
			}
			best, bestLen = n, len(prefix)
		}
	}
	return best
}

// separatorFor returns the delimiter governing the display path. The
// path uses '/' and is compared against prefixes translated the same way.
func (ns *Namespaces) separatorFor(path string) byte {
	if ns == nil {
		return '/'
	}
	var sep byte = '/'
	bestLen := -1
	for _, group := range [][]Namespace{ns.Personal, ns.Other, ns.Shared} {
		for _, n := range group {
			prefix := n.Prefix
			if n.Separator != 0 {
				prefix = SubstSeparator(strings.TrimSuffix(prefix, string(n.Separator)), n.Separator, '/')
			}
			prefix = DecodeMailboxName(prefix)
			if !strings.HasPrefix(path, prefix) || len(prefix) <= bestLen {
				continue
			}
			rest := path[len(prefix):]
			if prefix != "" && rest != "" && rest[0] != '/' {
				continue
			}
			sep, bestLen = n.Separator, len(prefix)
		}
	}
	return sep
}

// ServerName maps a display path ("Work/Reports") to the mailbox name
// sent to the server.
func (ns *Namespaces) ServerName(path string) string {
	name := EncodeMailboxName(path)
	if sep := ns.separatorFor(path); sep != 0 {
		name = SubstSeparator(name, '/', sep)
	}
	return name
}

// DisplayPath maps a mailbox name reported with delimiter sep back to a
// display path.
func DisplayPath(name string, sep byte) string {
	if sep != 0 {
		name = SubstSeparator(name, sep, '/')
	}
	return DecodeMailboxName(name)
}
