package imap

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeServer is a scripted IMAP server good enough to drive the session
// and the sync algorithm. It records every command line it receives.
type fakeServer struct {
	t  *testing.T
	ln net.Listener

	mu        sync.Mutex
	caps      []string
	user      string
	pass      string
	mailboxes map[string]*fakeMailbox
	commands  []string
	// noSearch makes UID SEARCH fail with BAD.
	noSearch bool
	// uidPlus adds APPENDUID and COPYUID to completions.
	uidPlus bool
	// namespace enables the NAMESPACE command.
	namespace bool
	// noopExtra is sent as untagged lines before the next NOOP completes.
	noopExtra []string
	// hang stops answering once a command with this verb arrives.
	hang string
}

type fakeMailbox struct {
	validity uint32
	next     uint32
	msgs     []*fakeMsg
	// noselect mailboxes only exist as parents of others.
	noselect bool
}

type fakeMsg struct {
	uid   uint32
	flags []string
	body  string
}

func (m *fakeMsg) has(flag string) bool {
	for _, f := range m.flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fakeServer{
		t:         t,
		ln:        ln,
		caps:      []string{"IMAP4rev1"},
		user:      "tim",
		pass:      "tanstaaftanstaaf",
		mailboxes: map[string]*fakeMailbox{"INBOX": {validity: 1, next: 1}},
	}
	go srv.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return srv
}

func (srv *fakeServer) account() Account {
	return Account{Addr: srv.ln.Addr().String(), User: srv.user, ReadTimeout: 2 * time.Second}
}

// addMsg stores a message with the given UID in mailbox, creating it.
func (srv *fakeServer) addMsg(mailbox string, uid uint32, subject string, flags ...string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	mb := srv.mailbox(mailbox)
	mb.msgs = append(mb.msgs, &fakeMsg{uid: uid, flags: flags, body: fakeMessage(subject)})
	sort.Slice(mb.msgs, func(i, j int) bool { return mb.msgs[i].uid < mb.msgs[j].uid })
	if uid >= mb.next {
		mb.next = uid + 1
	}
}

func (srv *fakeServer) mailbox(name string) *fakeMailbox {
	mb, ok := srv.mailboxes[name]
	if !ok {
		mb = &fakeMailbox{validity: 1, next: 1}
		srv.mailboxes[name] = mb
	}
	return mb
}

func (srv *fakeServer) removeMsg(mailbox string, uid uint32) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	mb := srv.mailboxes[mailbox]
	for i, m := range mb.msgs {
		if m.uid == uid {
			mb.msgs = append(mb.msgs[:i], mb.msgs[i+1:]...)
			return
		}
	}
}

func (srv *fakeServer) setFlags(mailbox string, uid uint32, flags ...string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, m := range srv.mailboxes[mailbox].msgs {
		if m.uid == uid {
			m.flags = flags
		}
	}
}

func (srv *fakeServer) set(fn func()) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	fn()
}

// recorded returns the commands received so far, without tags.
func (srv *fakeServer) recorded() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]string(nil), srv.commands...)
}

func (srv *fakeServer) resetRecorded() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.commands = nil
}

// recordedWithPrefix returns the recorded commands starting with prefix.
func (srv *fakeServer) recordedWithPrefix(prefix string) []string {
	var out []string
	for _, c := range srv.recorded() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func fakeMessage(subject string) string {
	return "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 3 Jun 2024 10:00:00 +0000\r\n" +
		"Message-ID: <" + strings.ReplaceAll(subject, " ", ".") + "@example.com>\r\n" +
		"\r\n" +
		"Hello.\r\n"
}

func (srv *fakeServer) serve() {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		go srv.handle(conn)
	}
}

type fakeConn struct {
	srv      *fakeServer
	r        *bufio.Reader
	w        *bufio.Writer
	c        net.Conn
	selected string
}

func (fc *fakeConn) send(format string, args ...any) {
	fmt.Fprintf(fc.w, format+"\r\n", args...)
}

func (srv *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	fc := &fakeConn{srv: srv, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), c: conn}

	srv.mu.Lock()
	fc.send("* OK [CAPABILITY %s] fake server ready", strings.Join(srv.caps, " "))
	srv.mu.Unlock()
	_ = fc.w.Flush()

	for {
		line, err := fc.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		tag, rest, _ := strings.Cut(line, " ")

		srv.mu.Lock()
		srv.commands = append(srv.commands, rest)
		hang := srv.hang != "" && strings.HasPrefix(strings.ToUpper(rest), srv.hang)
		srv.mu.Unlock()
		if hang {
			_, _ = io.Copy(io.Discard, fc.r)
			return
		}

		var literal string
		if strings.HasSuffix(rest, "}") {
			i := strings.LastIndexByte(rest, '{')
			n, _ := strconv.Atoi(rest[i+1 : len(rest)-1])
			fc.send("+ Ready for literal data")
			_ = fc.w.Flush()
			buf := make([]byte, n)
			if _, err := io.ReadFull(fc.r, buf); err != nil {
				return
			}
			literal = string(buf)
			more, _ := fc.r.ReadString('\n')
			rest = rest[:i] + strings.TrimRight(more, "\r\n")
		}

		if quit := fc.dispatch(tag, rest, literal); quit {
			_ = fc.w.Flush()
			return
		}
		if err := fc.w.Flush(); err != nil {
			return
		}
	}
}

func (fc *fakeConn) dispatch(tag, rest, literal string) bool {
	srv := fc.srv
	verb, args, _ := strings.Cut(rest, " ")
	verb = strings.ToUpper(verb)
	if verb == "UID" {
		var sub string
		sub, args, _ = strings.Cut(args, " ")
		verb += " " + strings.ToUpper(sub)
	}
	fields := splitArgs(args)

	if verb == "AUTHENTICATE" {
		fc.authenticate(tag, fields)
		return false
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	switch verb {
	case "CAPABILITY":
		fc.send("* CAPABILITY %s", strings.Join(srv.caps, " "))
	case "NOOP":
		for _, l := range srv.noopExtra {
			fc.send("%s", l)
		}
		srv.noopExtra = nil
	case "LOGOUT":
		fc.send("* BYE logging out")
		fc.send("%s OK LOGOUT completed", tag)
		return true
	case "LOGIN":
		if len(fields) != 2 || fields[0] != srv.user || fields[1] != srv.pass {
			fc.send("%s NO [AUTHENTICATIONFAILED] invalid credentials", tag)
			return false
		}
	case "NAMESPACE":
		if !srv.namespace {
			fc.send("%s BAD unknown command", tag)
			return false
		}
		fc.send(`* NAMESPACE (("" "/")) NIL NIL`)
	case "LIST":
		if len(fields) == 2 && fields[1] == "" {
			fc.send(`* LIST (\Noselect) "/" ""`)
			break
		}
		names := make([]string, 0, len(srv.mailboxes))
		for name := range srv.mailboxes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			attrs := ""
			switch {
			case srv.mailboxes[name].noselect:
				attrs = `\Noselect`
			case name == "Sent":
				attrs = `\Sent`
			}
			fc.send(`* LIST (%s) "/" "%s"`, attrs, name)
		}
	case "SELECT", "EXAMINE":
		mb, ok := srv.mailboxes[fields[0]]
		if !ok || mb.noselect {
			fc.selected = ""
			fc.send("%s NO [NONEXISTENT] no such mailbox", tag)
			return false
		}
		fc.selected = fields[0]
		fc.send("* %d EXISTS", len(mb.msgs))
		fc.send("* 0 RECENT")
		fc.send(`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
		fc.send("* OK [UIDVALIDITY %d] UIDs valid", mb.validity)
		fc.send("* OK [UIDNEXT %d] predicted next UID", mb.next)
		fc.send("%s OK [READ-WRITE] %s completed", tag, verb)
		return false
	case "STATUS":
		mb, ok := srv.mailboxes[fields[0]]
		if !ok {
			fc.send("%s NO [NONEXISTENT] no such mailbox", tag)
			return false
		}
		unseen := 0
		for _, m := range mb.msgs {
			if !m.has(`\Seen`) {
				unseen++
			}
		}
		fc.send(`* STATUS "%s" (MESSAGES %d RECENT 0 UIDNEXT %d UIDVALIDITY %d UNSEEN %d)`,
			fields[0], len(mb.msgs), mb.next, mb.validity, unseen)
	case "UID SEARCH":
		if srv.noSearch {
			fc.send("%s BAD SEARCH not supported", tag)
			return false
		}
		var uids []string
		for _, m := range srv.mailboxes[fc.selected].msgs {
			match := false
			switch strings.ToUpper(fields[0]) {
			case "ALL":
				match = true
			case "UNSEEN":
				match = !m.has(`\Seen`)
			case "FLAGGED":
				match = m.has(`\Flagged`)
			case "ANSWERED":
				match = m.has(`\Answered`)
			}
			if match {
				uids = append(uids, strconv.FormatUint(uint64(m.uid), 10))
			}
		}
		if len(uids) == 0 {
			fc.send("* SEARCH")
		} else {
			fc.send("* SEARCH %s", strings.Join(uids, " "))
		}
	case "UID FETCH":
		fc.fetch(fields[0], strings.ToUpper(fields[1]))
	case "APPEND":
		mb, ok := srv.mailboxes[fields[0]]
		if !ok {
			fc.send("%s NO [TRYCREATE] no such mailbox", tag)
			return false
		}
		var flags []string
		if len(fields) > 1 {
			flags = strings.Fields(strings.Trim(fields[1], "()"))
		}
		uid := mb.next
		mb.next++
		mb.msgs = append(mb.msgs, &fakeMsg{uid: uid, flags: flags, body: literal})
		if srv.uidPlus {
			fc.send("%s OK [APPENDUID %d %d] APPEND completed", tag, mb.validity, uid)
			return false
		}
	case "UID STORE":
		mb := srv.mailboxes[fc.selected]
		flags := strings.Fields(strings.Trim(fields[2], "()"))
		for _, m := range mb.msgs {
			if !inSet(fields[0], m.uid, mb) {
				continue
			}
			switch strings.ToUpper(fields[1]) {
			case "+FLAGS.SILENT":
				for _, f := range flags {
					if !m.has(f) {
						m.flags = append(m.flags, f)
					}
				}
			case "-FLAGS.SILENT":
				var kept []string
				for _, have := range m.flags {
					drop := false
					for _, f := range flags {
						drop = drop || strings.EqualFold(have, f)
					}
					if !drop {
						kept = append(kept, have)
					}
				}
				m.flags = kept
			}
		}
	case "EXPUNGE":
		mb := srv.mailboxes[fc.selected]
		var kept []*fakeMsg
		for _, m := range mb.msgs {
			if m.has(`\Deleted`) {
				fc.send("* %d EXPUNGE", len(kept)+1)
				continue
			}
			kept = append(kept, m)
		}
		mb.msgs = kept
	case "UID COPY":
		src := srv.mailboxes[fc.selected]
		dst, ok := srv.mailboxes[fields[1]]
		if !ok {
			fc.send("%s NO [TRYCREATE] no such mailbox", tag)
			return false
		}
		var from, to []string
		for _, m := range src.msgs {
			if !inSet(fields[0], m.uid, src) {
				continue
			}
			uid := dst.next
			dst.next++
			dst.msgs = append(dst.msgs, &fakeMsg{uid: uid, flags: append([]string(nil), m.flags...), body: m.body})
			from = append(from, strconv.FormatUint(uint64(m.uid), 10))
			to = append(to, strconv.FormatUint(uint64(uid), 10))
		}
		if srv.uidPlus && len(from) > 0 {
			fc.send("%s OK [COPYUID %d %s %s] COPY completed", tag, dst.validity,
				strings.Join(from, ","), strings.Join(to, ","))
			return false
		}
	case "CREATE":
		if _, ok := srv.mailboxes[fields[0]]; ok {
			fc.send("%s NO [ALREADYEXISTS] mailbox exists", tag)
			return false
		}
		srv.mailboxes[fields[0]] = &fakeMailbox{validity: 1, next: 1}
	case "RENAME":
		if _, ok := srv.mailboxes[fields[0]]; !ok {
			fc.send("%s NO [NONEXISTENT] no such mailbox", tag)
			return false
		}
		for name, mb := range srv.mailboxes {
			if name == fields[0] || strings.HasPrefix(name, fields[0]+"/") {
				delete(srv.mailboxes, name)
				srv.mailboxes[fields[1]+name[len(fields[0]):]] = mb
			}
		}
	case "DELETE":
		if _, ok := srv.mailboxes[fields[0]]; !ok {
			fc.send("%s NO [NONEXISTENT] no such mailbox", tag)
			return false
		}
		delete(srv.mailboxes, fields[0])
	case "CLOSE":
		fc.selected = ""
	default:
		fc.send("%s BAD unknown command", tag)
		return false
	}
	fc.send("%s OK %s completed", tag, verb)
	return false
}

func (fc *fakeConn) authenticate(tag string, fields []string) {
	if len(fields) == 0 || !strings.EqualFold(fields[0], "CRAM-MD5") {
		fc.send("%s NO unsupported mechanism", tag)
		return
	}
	challenge := "<1896.697170952@postoffice.reston.mci.net>"
	fc.send("+ %s", base64.StdEncoding.EncodeToString([]byte(challenge)))
	_ = fc.w.Flush()

	line, err := fc.r.ReadString('\n')
	if err != nil {
		return
	}
	resp, err := base64.StdEncoding.DecodeString(strings.TrimRight(line, "\r\n"))
	if err != nil {
		fc.send("%s BAD invalid base64", tag)
		return
	}

	fc.srv.mu.Lock()
	mac := hmac.New(md5.New, []byte(fc.srv.pass))
	mac.Write([]byte(challenge))
	want := fc.srv.user + " " + hex.EncodeToString(mac.Sum(nil))
	fc.srv.mu.Unlock()

	if string(resp) != want {
		fc.send("%s NO [AUTHENTICATIONFAILED] invalid credentials", tag)
		return
	}
	fc.send("%s OK AUTHENTICATE completed", tag)
}

func (fc *fakeConn) fetch(set, items string) {
	mb := fc.srv.mailboxes[fc.selected]
	for i, m := range mb.msgs {
		if !inSet(set, m.uid, mb) {
			continue
		}
		data := fmt.Sprintf("UID %d FLAGS (%s)", m.uid, strings.Join(m.flags, " "))
		switch {
		case strings.Contains(items, "RFC822.HEADER"):
			hdr, _, _ := strings.Cut(m.body, "\r\n\r\n")
			hdr += "\r\n\r\n"
			data += fmt.Sprintf(" RFC822.SIZE %d RFC822.HEADER {%d}\r\n%s", len(m.body), len(hdr), hdr)
		case strings.Contains(items, "BODY.PEEK[]"):
			data += fmt.Sprintf(" BODY[] {%d}\r\n%s", len(m.body), m.body)
		}
		fc.send("* %d FETCH (%s)", i+1, data)
	}
}

// inSet reports whether uid is in a UID set such as "1:*" or "4,6".
func inSet(set string, uid uint32, mb *fakeMailbox) bool {
	for _, part := range strings.Split(set, ",") {
		lo, hi, isRange := strings.Cut(part, ":")
		start, _ := strconv.ParseUint(lo, 10, 32)
		if !isRange {
			if uint32(start) == uid {
				return true
			}
			continue
		}
		end := uint64(mb.next)
		if hi != "*" {
			end, _ = strconv.ParseUint(hi, 10, 32)
		}
		if uint64(uid) >= start && uint64(uid) <= end {
			return true
		}
	}
	return false
}

// splitArgs splits a command tail into arguments: quoted strings are
// unquoted, parenthesized lists are kept whole.
func splitArgs(s string) []string {
	var out []string
	for i := 0; i < len(s); {
		switch s[i] {
		case ' ':
			i++
		case '"':
			var sb strings.Builder
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				sb.WriteByte(s[i])
				i++
			}
			i++
			out = append(out, sb.String())
		case '(':
			j := strings.IndexByte(s[i:], ')')
			if j < 0 {
				j = len(s) - i - 1
			}
			out = append(out, s[i:i+j+1])
			i += j + 1
		default:
			j := strings.IndexByte(s[i:], ' ')
			if j < 0 {
				j = len(s) - i
			}
			out = append(out, s[i:i+j])
			i += j
		}
	}
	return out
}

// staticPassword is a PasswordSource that remembers whether it was
// asked to forget.
type staticPassword struct {
	mu        sync.Mutex
	password  string
	forgotten bool
}

func (p *staticPassword) Password(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.password, nil
}

func (p *staticPassword) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = true
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
