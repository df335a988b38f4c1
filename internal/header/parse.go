package header

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

const (
	hDate = iota
	hFrom
	hTo
	hCc
	hNewsgroups
	hSubject
	hMessageID
	hReferences
	hInReplyTo
	hContentType
	hSeen
	hStatus
	hXStatus
	hXFace
)

var summaryEntries = []Entry{
	hDate:        {Name: "Date:"},
	hFrom:        {Name: "From:", Unfold: true},
	hTo:          {Name: "To:", Unfold: true},
	hCc:          {Name: "Cc:", Unfold: true},
	hNewsgroups:  {Name: "Newsgroups:", Unfold: true},
	hSubject:     {Name: "Subject:", Unfold: true},
	hMessageID:   {Name: "Message-ID:"},
	hReferences:  {Name: "References:"},
	hInReplyTo:   {Name: "In-Reply-To:"},
	hContentType: {Name: "Content-Type:"},
	hSeen:        {Name: "Seen:"},
	hStatus:      {Name: "Status:"},
	hXStatus:     {Name: "X-Status:"},
	hXFace:       {Name: "X-Face:"},
}

// shortEntries leaves out the fields only recorded for full summaries.
var shortEntries = summaryEntries[:hXFace]

// Parser builds message summaries from header blocks.
type Parser struct {
	// FallbackCharset is used for raw 8-bit header text when the message
	// declares no charset.
	FallbackCharset string
	Scanner         MIMEScanner
	log             zerolog.Logger
}

func NewParser(log zerolog.Logger, fallbackCharset string) *Parser {
	return &Parser{
		FallbackCharset: fallbackCharset,
		Scanner:         EnmimeScanner{},
		log:             log,
	}
}

type rawFields struct {
	from, to, cc, subject string
	contentType           string
	seen                  uint32
}

// first reports whether field idx is met for the first time. An empty
// first occurrence still wins over later ones.
func (r *rawFields) first(idx int) bool {
	bit := uint32(1) << uint(idx)
	if r.seen&bit != 0 {
		return false
	}
	r.seen |= bit
	return true
}

// ParseFile parses the message stored at path. Size and MTime come from
// the file itself.
func (p *Parser) ParseFile(path string, flags models.Flags, full, decrypted bool) (*models.MsgInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat message file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("failed to parse %s: not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message file: %w", err)
	}
	defer f.Close()

	msg, err := p.ParseStream(f, flags, full, decrypted)
	if err != nil {
		return nil, err
	}
	msg.Size = fi.Size()
	msg.MTime = fi.ModTime()
	msg.File = path
	return msg, nil
}

// ParseStream reads the header block of r and returns its summary. When
// full is set, fields only needed for display (X-Face) are kept too. For
// multipart messages the body is scanned to decide the HTML flag.
func (p *Parser) ParseStream(r io.Reader, flags models.Flags, full, decrypted bool) (*models.MsgInfo, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	table := shortEntries
	if full {
		table = summaryEntries
	}

	msg := &models.MsgInfo{Flags: flags}
	var raw rawFields
	for {
		idx, line, err := ReadOneField(br, table)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		body := strings.TrimLeft(line[len(table[idx].Name):], " \t")
		p.applyField(msg, &raw, idx, body, decrypted)
	}

	cs := msg.Charset
	if cs == "" {
		cs = p.FallbackCharset
	}
	if raw.from != "" {
		msg.From = substControl(DecodeHeader(raw.from, cs))
		msg.FromName = ExtractDisplayName(msg.From)
	}
	msg.To = substControl(DecodeHeader(raw.to, cs))
	msg.Cc = substControl(DecodeHeader(raw.cc, cs))
	msg.Subject = substControl(DecodeHeader(raw.subject, cs))

	if msg.InReplyTo == "" && len(msg.References) > 0 {
		msg.InReplyTo = msg.References[0]
	}

	if msg.Flags.HasTmp(models.TmpMIME) && !msg.Flags.HasTmp(models.TmpEncrypted) && p.Scanner != nil {
		html, err := p.Scanner.HasHTMLPart(raw.contentType, br)
		if err != nil {
			p.log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to scan MIME structure")
		} else if html {
			msg.Flags.SetTmp(models.TmpHTML)
		}
	}

	return msg, nil
}

func (p *Parser) applyField(msg *models.MsgInfo, raw *rawFields, idx int, body string, decrypted bool) {
	switch idx {
	case hDate:
		if !raw.first(idx) {
			return
		}
		msg.Date = strings.Join(strings.Fields(body), " ")
		t, err := ParseDate(body)
		if err != nil {
			p.log.Warn().Str("date", msg.Date).Msg("Invalid date header")
			return
		}
		msg.DateTime = t
	case hFrom:
		if raw.first(idx) {
			raw.from = body
		}
	case hTo:
		raw.to = joinNonEmpty(raw.to, body, ", ")
	case hCc:
		raw.cc = joinNonEmpty(raw.cc, body, ", ")
	case hNewsgroups:
		msg.Newsgroups = joinNonEmpty(msg.Newsgroups, strings.TrimSpace(body), ",")
	case hSubject:
		if raw.first(idx) {
			raw.subject = body
		}
	case hMessageID:
		if raw.first(idx) {
			msg.MessageID = firstID(body)
		}
	case hReferences:
		for _, id := range extractBracketed(body) {
			msg.References = append([]string{id}, msg.References...)
		}
	case hInReplyTo:
		if raw.first(idx) {
			if ids := extractBracketed(body); len(ids) > 0 {
				msg.InReplyTo = ids[0]
			}
		}
	case hContentType:
		if raw.first(idx) {
			raw.contentType = body
		}
		p.applyContentType(msg, body, decrypted)
	case hSeen:
		msg.Flags.UnsetPerm(models.FlagUnread)
	case hStatus:
		if strings.ContainsRune(body, 'R') {
			msg.Flags.UnsetPerm(models.FlagUnread)
		} else if strings.ContainsRune(body, 'O') {
			msg.Flags.UnsetPerm(models.FlagNew)
		}
	case hXStatus:
		if strings.ContainsRune(body, 'F') {
			msg.Flags.SetPerm(models.FlagMarked)
		}
		if strings.ContainsRune(body, 'A') {
			msg.Flags.SetPerm(models.FlagReplied)
		}
	case hXFace:
		if raw.first(idx) {
			msg.XFace = strings.Join(strings.Fields(body), "")
		}
	}
}

func (p *Parser) applyContentType(msg *models.MsgInfo, body string, decrypted bool) {
	lower := strings.ToLower(strings.TrimSpace(body))
	switch {
	case strings.HasPrefix(lower, "multipart/encrypted") && !decrypted:
		msg.Flags.SetTmp(models.TmpMIME | models.TmpEncrypted)
	case strings.HasPrefix(lower, "multipart/"):
		msg.Flags.SetTmp(models.TmpMIME)
	case strings.HasPrefix(lower, "text/html"):
		msg.Flags.SetTmp(models.TmpHTML)
	}

	if msg.Charset != "" || !strings.HasPrefix(lower, "text/plain") {
		return
	}
	if _, params, err := mime.ParseMediaType(body); err == nil {
		msg.Charset = params["charset"]
	}
}

func firstID(body string) string {
	if ids := extractBracketed(body); len(ids) > 0 {
		return ids[0]
	}
	return strings.Join(strings.Fields(body), "")
}

func joinNonEmpty(a, b, sep string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + sep + b
	}
}
