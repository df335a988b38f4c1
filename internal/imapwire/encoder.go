package imapwire

import (
	"bufio"
	"strconv"
	"strings"
)

// Literal is a command argument sent as a synchronizing literal.
type Literal []byte

// Encoder writes one command line at a time. Arguments are strings
// written verbatim, or Literal values.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w *bufio.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteCommand writes tag, name and args followed by CRLF. Before the
// bytes of each literal the line so far is flushed and cont is called; it
// must return once the server sent its continuation request.
func (e *Encoder) WriteCommand(tag, name string, args []any, cont func() error) error {
	e.w.WriteString(tag)
	e.w.WriteByte(' ')
	e.w.WriteString(name)
	for _, arg := range args {
		e.w.WriteByte(' ')
		switch v := arg.(type) {
		case Literal:
			e.w.WriteByte('{')
			e.w.WriteString(strconv.Itoa(len(v)))
			e.w.WriteString("}\r\n")
			if err := e.w.Flush(); err != nil {
				return err
			}
			if err := cont(); err != nil {
				return err
			}
			e.w.Write(v)
		case string:
			e.w.WriteString(v)
		}
	}
	e.w.WriteString("\r\n")
	return e.w.Flush()
}

// WriteLine writes a bare line, used to answer continuation requests.
func (e *Encoder) WriteLine(line string) error {
	e.w.WriteString(line)
	e.w.WriteString("\r\n")
	return e.w.Flush()
}

// Quote returns s as a quoted string.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

// NeedsLiteral reports whether s cannot be sent as a quoted string.
func NeedsLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '\r' || c == '\n' || c == 0 || c >= 0x80 {
			return true
		}
	}
	return false
}

// AString returns s encoded as an astring argument: a quoted string when
// possible, a literal otherwise.
func AString(s string) any {
	if NeedsLiteral(s) {
		return Literal(s)
	}
	return Quote(s)
}
