// Package header reads RFC 822 style message headers and builds message
// summaries from them.
package header

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxLineLen bounds the length of one (unfolded) header line. Anything past
// it is read and discarded.
const MaxLineLen = 8192

// NoMatch is the index ReadOneField reports when no interest table is given.
const NoMatch = -1

// Entry names one header of interest. Name includes the trailing colon and
// is matched case-insensitively as a prefix of the line. Continuation lines
// of an Unfold entry are joined with a single space; otherwise they are kept
// with their line breaks.
type Entry struct {
	Name   string
	Unfold bool
}

// ReadOneField reads the next header field. With a table, lines that match
// no entry are skipped together with their continuations, and the index of
// the matching entry is returned. Without a table every field is returned
// unfolded, with index NoMatch. io.EOF signals the end of the header block.
func ReadOneField(r *bufio.Reader, table []Entry) (int, string, error) {
	for {
		line, err := readLine(r)
		if err != nil {
			return NoMatch, "", err
		}
		if line == "" {
			return NoMatch, "", io.EOF
		}

		if table == nil {
			return NoMatch, appendContinuations(r, line, true), nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		if idx := matchEntry(table, line); idx >= 0 {
			return idx, appendContinuations(r, line, table[idx].Unfold), nil
		}
		skipContinuations(r)
	}
}

// GetUnfoldedLine reads one logical header line with all folding removed.
// io.EOF signals the end of the header block.
func GetUnfoldedLine(r *bufio.Reader) (string, error) {
	line, err := readLine(r)
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", io.EOF
	}
	return appendContinuations(r, line, true), nil
}

// SkipHeaders consumes the header block so that r is positioned at the body.
func SkipHeaders(r *bufio.Reader) error {
	for {
		line, err := readLine(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

func matchEntry(table []Entry, line string) int {
	for i, e := range table {
		if len(line) >= len(e.Name) && strings.EqualFold(line[:len(e.Name)], e.Name) {
			return i
		}
	}
	return NoMatch
}

// readLine returns one physical line without its terminator.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		if room := MaxLineLen - len(buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				break
			}
			return "", err
		}
		break
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

func isContinuation(r *bufio.Reader) bool {
	b, err := r.Peek(1)
	return err == nil && (b[0] == ' ' || b[0] == '\t')
}

func skipContinuations(r *bufio.Reader) {
	for isContinuation(r) {
		if _, err := readLine(r); err != nil {
			return
		}
	}
}

func appendContinuations(r *bufio.Reader, line string, unfold bool) string {
	for isContinuation(r) {
		next, err := readLine(r)
		if err != nil {
			break
		}
		if unfold {
			next = strings.TrimLeft(next, " \t")
			if next == "" {
				continue
			}
			line = appendLimited(line, " "+next)
		} else {
			line = appendLimited(line, "\n"+next)
		}
	}
	return line
}

func appendLimited(line, more string) string {
	if len(line) >= MaxLineLen {
		return line
	}
	s := line + more
	if len(s) <= MaxLineLen {
		return s
	}
	n := MaxLineLen
	for n > len(line) && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
