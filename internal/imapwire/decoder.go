// Package imapwire reads IMAP4rev1 server responses and writes client
// commands.
package imapwire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed reports a response line that does not follow the grammar.
// The decoder skips the rest of the offending line, so the stream stays
// usable.
var ErrMalformed = errors.New("imapwire: malformed response")

// DefaultMaxLiteral bounds the size of a single literal.
const DefaultMaxLiteral = 64 << 20

type Kind int

const (
	KindAtom Kind = iota
	KindString
	KindList
	KindNil
)

// Value is one field of a response: an atom, a string (quoted or
// literal), a parenthesized list or NIL.
type Value struct {
	Kind Kind
	Str  string
	List []Value
}

// String returns the text of an atom or string; NIL and lists yield "".
func (v Value) String() string {
	if v.Kind == KindAtom || v.Kind == KindString {
		return v.Str
	}
	return ""
}

// Is reports whether v is the atom name, compared case-insensitively.
func (v Value) Is(name string) bool {
	return v.Kind == KindAtom && strings.EqualFold(v.Str, name)
}

func (v Value) Number() (uint32, bool) {
	if v.Kind != KindAtom {
		return 0, false
	}
	n, err := strconv.ParseUint(v.Str, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (v Value) Number64() (int64, bool) {
	if v.Kind != KindAtom {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Str, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Response is one complete server response, literals included.
type Response struct {
	// Tag is "*" for untagged data, "+" for a continuation request and the
	// command tag otherwise.
	Tag string
	// Num is the message number of EXISTS, RECENT, EXPUNGE and FETCH.
	Num    uint32
	HasNum bool
	// Name is the upper-cased response keyword (OK, NO, FETCH, LIST, ...).
	Name string
	// Code and CodeArgs hold the bracketed response code of status responses.
	Code     string
	CodeArgs []Value
	// Text is the human readable part of status and continuation responses.
	Text   string
	Fields []Value
}

// IsStatus reports whether r is an OK, NO, BAD, BYE or PREAUTH response.
func (r *Response) IsStatus() bool {
	switch r.Name {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		return true
	}
	return false
}

type Decoder struct {
	r          *bufio.Reader
	MaxLiteral int64
}

func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r, MaxLiteral: DefaultMaxLiteral}
}

// ReadResponse reads the next response. Transport errors are returned as
// is; grammar errors wrap ErrMalformed.
func (d *Decoder) ReadResponse() (*Response, error) {
	resp, err := d.readResponse()
	if err != nil && errors.Is(err, ErrMalformed) {
		_, _ = d.r.ReadString('\n')
	}
	return resp, err
}

func (d *Decoder) readResponse() (*Response, error) {
	tag, err := d.readWord()
	if err != nil {
		return nil, err
	}
	resp := &Response{Tag: tag}

	if tag == "+" {
		if err := d.acceptSP(); err != nil {
			return nil, err
		}
		resp.Text, err = d.readText()
		return resp, err
	}

	if err := d.expectSP(); err != nil {
		return nil, err
	}
	word, err := d.readWord()
	if err != nil {
		return nil, err
	}
	if tag == "*" {
		if n, perr := strconv.ParseUint(word, 10, 32); perr == nil {
			resp.Num, resp.HasNum = uint32(n), true
			if err := d.expectSP(); err != nil {
				return nil, err
			}
			if word, err = d.readWord(); err != nil {
				return nil, err
			}
		}
	}
	resp.Name = strings.ToUpper(word)

	if resp.IsStatus() {
		return resp, d.readRespText(resp)
	}
	resp.Fields, err = d.readFields(0)
	return resp, err
}

// readRespText reads [SP ["[" code "]" SP] text] CRLF.
func (d *Decoder) readRespText(resp *Response) error {
	if err := d.acceptSP(); err != nil {
		return err
	}
	b, err := d.peek()
	if err != nil {
		return err
	}
	if b == '[' {
		_, _ = d.r.ReadByte()
		code, err := d.readAtom()
		if err != nil {
			return err
		}
		resp.Code = strings.ToUpper(code)
		if b, err = d.peek(); err != nil {
			return err
		}
		if b == ' ' {
			if resp.CodeArgs, err = d.readFields(']'); err != nil {
				return err
			}
		}
		if err := d.expectByte(']'); err != nil {
			return err
		}
		if err := d.acceptSP(); err != nil {
			return err
		}
	}
	resp.Text, err = d.readText()
	return err
}

// readFields reads values separated by spaces up to term, or up to the
// end of the line when term is 0. The terminator itself is left unread;
// the line end is consumed.
func (d *Decoder) readFields(term byte) ([]Value, error) {
	var fields []Value
	for {
		b, err := d.peek()
		if err != nil {
			return nil, err
		}
		switch {
		case b == ' ':
			_, _ = d.r.ReadByte()
			continue
		case b == '\r' || b == '\n':
			if term != 0 {
				return nil, fmt.Errorf("%w: unterminated list", ErrMalformed)
			}
			return fields, d.readCRLF()
		case term != 0 && b == term:
			return fields, nil
		case b == ')' || b == ']':
			return nil, fmt.Errorf("%w: unexpected %q", ErrMalformed, b)
		}

		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		fields = append(fields, v)
	}
}

func (d *Decoder) readValue() (Value, error) {
	b, err := d.peek()
	if err != nil {
		return Value{}, err
	}
	switch b {
	case '(':
		_, _ = d.r.ReadByte()
		list, err := d.readFields(')')
		if err != nil {
			return Value{}, err
		}
		if err := d.expectByte(')'); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindList, List: list}, nil
	case '"':
		s, err := d.readQuoted()
		return Value{Kind: KindString, Str: s}, err
	case '{':
		s, err := d.readLiteral()
		return Value{Kind: KindString, Str: s}, err
	}

	atom, err := d.readAtom()
	if err != nil {
		return Value{}, err
	}
	if strings.EqualFold(atom, "NIL") {
		return Value{Kind: KindNil}, nil
	}
	return Value{Kind: KindAtom, Str: atom}, nil
}

// readAtom reads an atom. Brackets are kept together with their content so
// that section specs like BODY[HEADER.FIELDS (DATE)] form a single atom.
func (d *Decoder) readAtom() (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		b, err := d.peek()
		if err != nil {
			return "", err
		}
		if depth == 0 {
			switch b {
			case ' ', '(', ')', '"', '{', '\r', '\n', ']':
				if sb.Len() == 0 {
					return "", fmt.Errorf("%w: expected atom, got %q", ErrMalformed, b)
				}
				return sb.String(), nil
			}
		} else if b == '\r' || b == '\n' {
			return "", fmt.Errorf("%w: unterminated section", ErrMalformed)
		}
		switch b {
		case '[':
			depth++
		case ']':
			depth--
		}
		_, _ = d.r.ReadByte()
		sb.WriteByte(b)
	}
}

func (d *Decoder) readQuoted() (string, error) {
	if err := d.expectByte('"'); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		switch b {
		case '"':
			return sb.String(), nil
		case '\\':
			if b, err = d.readByte(); err != nil {
				return "", err
			}
		case '\r', '\n':
			return "", fmt.Errorf("%w: line break in quoted string", ErrMalformed)
		}
		sb.WriteByte(b)
	}
}

// readLiteral reads {n} CRLF followed by exactly n bytes.
func (d *Decoder) readLiteral() (string, error) {
	if err := d.expectByte('{'); err != nil {
		return "", err
	}
	var digits strings.Builder
	for {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		if b == '}' {
			break
		}
		if b == '+' {
			continue
		}
		if b < '0' || b > '9' {
			return "", fmt.Errorf("%w: bad literal size", ErrMalformed)
		}
		digits.WriteByte(b)
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad literal size", ErrMalformed)
	}
	if d.MaxLiteral > 0 && n > d.MaxLiteral {
		return "", fmt.Errorf("%w: literal of %d bytes exceeds limit", ErrMalformed, n)
	}
	if err := d.readCRLF(); err != nil {
		return "", err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", unexpectedEOF(err)
	}
	return string(buf), nil
}

// readText returns the rest of the line without the line end.
func (d *Decoder) readText() (string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return "", unexpectedEOF(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (d *Decoder) readWord() (string, error) {
	var sb strings.Builder
	for {
		b, err := d.peek()
		if err != nil {
			return "", err
		}
		if b == ' ' || b == '\r' || b == '\n' {
			break
		}
		_, _ = d.r.ReadByte()
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty word", ErrMalformed)
	}
	return sb.String(), nil
}

func (d *Decoder) readCRLF() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	if b == '\r' {
		if b, err = d.readByte(); err != nil {
			return err
		}
	}
	if b != '\n' {
		return fmt.Errorf("%w: expected CRLF", ErrMalformed)
	}
	return nil
}

func (d *Decoder) acceptSP() error {
	b, err := d.peek()
	if err != nil {
		return err
	}
	if b == ' ' {
		_, _ = d.r.ReadByte()
	}
	return nil
}

func (d *Decoder) expectSP() error {
	return d.expectByte(' ')
}

func (d *Decoder) expectByte(want byte) error {
	b, err := d.peek()
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("%w: expected %q, got %q", ErrMalformed, want, b)
	}
	_, _ = d.r.ReadByte()
	return nil
}

func (d *Decoder) peek() (byte, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return 0, unexpectedEOF(err)
	}
	return b[0], nil
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, unexpectedEOF(err)
	}
	return b, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
