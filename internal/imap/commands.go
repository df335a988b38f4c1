package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"strconv"
	"strings"

	goimap "github.com/emersion/go-imap"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/imapwire"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
)

// MailboxStatus is what SELECT, EXAMINE or STATUS reported for a mailbox.
type MailboxStatus struct {
	Name        string
	Exists      uint32
	Recent      uint32
	Unseen      uint32
	UIDValidity uint32
	UIDNext     uint32
	Flags       []string
	ReadOnly    bool
}

// ListEntry is one LIST response line. Name is the raw server name.
type ListEntry struct {
	Attrs     []string
	Delimiter byte
	Name      string
}

func (e ListEntry) HasAttr(attr string) bool {
	for _, a := range e.Attrs {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// FetchItem carries the data items of one FETCH response.
type FetchItem struct {
	SeqNum uint32
	UID    uint32
	Flags  []string
	Size   int64
	Header []byte
	Body   []byte
}

func (s *Session) Capability(ctx context.Context) error {
	_, err := s.execute(ctx, &command{name: "CAPABILITY"})
	return err
}

func (s *Session) Noop(ctx context.Context) error {
	_, err := s.execute(ctx, &command{name: "NOOP"})
	return err
}

// StartTLS upgrades the connection and refreshes the capabilities, which
// the server may only reveal once the channel is protected.
func (s *Session) StartTLS(ctx context.Context) error {
	if !s.HasCap("STARTTLS") {
		return mailerr.NotSupported("STARTTLS")
	}

	s.mu.Lock()
	if _, err := s.executeLocked(ctx, &command{name: "STARTTLS"}); err != nil {
		s.mu.Unlock()
		return err
	}
	tlsConn := tls.Client(s.conn, s.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		s.disconnect()
		s.mu.Unlock()
		return mailerr.New(mailerr.KindNetwork, "STARTTLS", s.account.Addr, err)
	}
	s.attach(tlsConn)
	s.caps = nil
	s.mu.Unlock()

	return s.Capability(ctx)
}

// Logout ends the session and closes the connection, even if the server
// does not answer.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutLocked(ctx)
}

func (s *Session) logoutLocked(ctx context.Context) error {
	if s.conn == nil {
		s.state = StateLoggedOut
		return nil
	}
	_, err := s.executeLocked(ctx, &command{name: "LOGOUT"})
	s.state = StateLoggedOut
	s.disconnect()
	return err
}

// Namespace returns the server's namespaces. Servers without the
// extension yield a KindNotSupported error.
func (s *Session) Namespace(ctx context.Context) (*Namespaces, error) {
	if !s.HasCap("NAMESPACE") {
		return nil, mailerr.NotSupported("NAMESPACE")
	}
	var ns *Namespaces
	_, err := s.execute(ctx, &command{
		name: "NAMESPACE",
		untagged: func(resp *imapwire.Response) error {
			if resp.Name != "NAMESPACE" || len(resp.Fields) < 3 {
				return nil
			}
			ns = &Namespaces{
				Personal: parseNamespaceGroup(resp.Fields[0]),
				Other:    parseNamespaceGroup(resp.Fields[1]),
				Shared:   parseNamespaceGroup(resp.Fields[2]),
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if ns == nil {
		ns = &Namespaces{}
	}
	return ns, nil
}

func parseNamespaceGroup(v imapwire.Value) []Namespace {
	if v.Kind != imapwire.KindList {
		return nil
	}
	var out []Namespace
	for _, entry := range v.List {
		if entry.Kind != imapwire.KindList || len(entry.List) < 2 {
			continue
		}
		out = append(out, Namespace{
			Prefix:    entry.List[0].String(),
			Separator: delimiterOf(entry.List[1]),
		})
	}
	return out
}

func delimiterOf(v imapwire.Value) byte {
	if d := v.String(); d != "" {
		return d[0]
	}
	return 0
}

// List runs LIST ref pattern. Names are returned as sent by the server.
func (s *Session) List(ctx context.Context, ref, pattern string) ([]ListEntry, error) {
	var entries []ListEntry
	_, err := s.execute(ctx, &command{
		name: "LIST",
		args: []any{imapwire.AString(ref), imapwire.AString(pattern)},
		untagged: func(resp *imapwire.Response) error {
			if resp.Name != "LIST" || len(resp.Fields) < 3 {
				return nil
			}
			e := ListEntry{
				Delimiter: delimiterOf(resp.Fields[1]),
				Name:      resp.Fields[2].String(),
			}
			for _, a := range resp.Fields[0].List {
				e.Attrs = append(e.Attrs, a.String())
			}
			entries = append(entries, e)
			return nil
		},
	})
	return entries, err
}

// Delimiter learns the hierarchy delimiter from a blank-pattern LIST.
func (s *Session) Delimiter(ctx context.Context) (byte, error) {
	entries, err := s.List(ctx, "", "")
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Delimiter != 0 {
			return e.Delimiter, nil
		}
	}
	return 0, nil
}

func (s *Session) Select(ctx context.Context, mailbox string) (*MailboxStatus, error) {
	return s.selectMailbox(ctx, "SELECT", mailbox)
}

// Examine selects mailbox read-only.
func (s *Session) Examine(ctx context.Context, mailbox string) (*MailboxStatus, error) {
	return s.selectMailbox(ctx, "EXAMINE", mailbox)
}

func (s *Session) selectMailbox(ctx context.Context, verb, mailbox string) (*MailboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Whatever happens next, the previous selection is gone.
	s.selected = ""
	s.mailbox = nil
	if s.state == StateSelected {
		s.state = StateAuthenticated
	}

	status := &MailboxStatus{Name: mailbox, ReadOnly: verb == "EXAMINE"}
	resp, err := s.executeLocked(ctx, &command{
		name:    verb,
		args:    []any{imapwire.AString(mailbox)},
		mailbox: mailbox,
		noKind:  mailerr.KindNotFound,
		untagged: func(resp *imapwire.Response) error {
			switch resp.Name {
			case "EXISTS":
				status.Exists = resp.Num
			case "RECENT":
				status.Recent = resp.Num
			case "FLAGS":
				if len(resp.Fields) > 0 {
					status.Flags = stringList(resp.Fields[0])
				}
			case "OK":
				applyStatusCode(status, resp)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	switch resp.Code {
	case "READ-ONLY":
		status.ReadOnly = true
	case "READ-WRITE":
		status.ReadOnly = false
	}

	s.selected = mailbox
	s.mailbox = status
	s.state = StateSelected
	snapshot := *status
	return &snapshot, nil
}

func applyStatusCode(status *MailboxStatus, resp *imapwire.Response) {
	if len(resp.CodeArgs) == 0 {
		return
	}
	n, ok := resp.CodeArgs[0].Number()
	if !ok {
		return
	}
	switch resp.Code {
	case "UIDVALIDITY":
		status.UIDValidity = n
	case "UIDNEXT":
		status.UIDNext = n
	case "UNSEEN":
		// The first unseen sequence number, only informative.
		status.Unseen = n
	}
}

// SelectedMailbox returns the name of the selected mailbox, or "".
func (s *Session) SelectedMailbox() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Status runs STATUS without selecting the mailbox.
func (s *Session) Status(ctx context.Context, mailbox string) (*MailboxStatus, error) {
	status := &MailboxStatus{Name: mailbox}
	_, err := s.execute(ctx, &command{
		name:    "STATUS",
		args:    []any{imapwire.AString(mailbox), "(MESSAGES RECENT UIDNEXT UIDVALIDITY UNSEEN)"},
		mailbox: mailbox,
		noKind:  mailerr.KindNotFound,
		untagged: func(resp *imapwire.Response) error {
			if resp.Name != "STATUS" || len(resp.Fields) < 2 {
				return nil
			}
			items := resp.Fields[1].List
			for i := 0; i+1 < len(items); i += 2 {
				n, ok := items[i+1].Number()
				if !ok {
					continue
				}
				switch strings.ToUpper(items[i].String()) {
				case "MESSAGES":
					status.Exists = n
				case "RECENT":
					status.Recent = n
				case "UIDNEXT":
					status.UIDNext = n
				case "UIDVALIDITY":
					status.UIDValidity = n
				case "UNSEEN":
					status.Unseen = n
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// UIDSearch runs UID SEARCH with criteria written verbatim.
func (s *Session) UIDSearch(ctx context.Context, criteria string) ([]uint32, error) {
	var uids []uint32
	_, err := s.execute(ctx, &command{
		name:    "UID SEARCH",
		args:    []any{criteria},
		mailbox: s.SelectedMailbox(),
		untagged: func(resp *imapwire.Response) error {
			if resp.Name != "SEARCH" {
				return nil
			}
			for _, f := range resp.Fields {
				if n, ok := f.Number(); ok {
					uids = append(uids, n)
				}
			}
			return nil
		},
	})
	return uids, err
}

// UIDFetch runs UID FETCH set items and calls fn for every response that
// carries a UID. An error from fn stops further calls; the remaining
// responses are read and discarded and the error is returned.
func (s *Session) UIDFetch(ctx context.Context, set, items string, fn func(*FetchItem) error) error {
	_, err := s.execute(ctx, &command{
		name:    "UID FETCH",
		args:    []any{set, items},
		mailbox: s.SelectedMailbox(),
		untagged: func(resp *imapwire.Response) error {
			if resp.Name != "FETCH" || len(resp.Fields) == 0 {
				return nil
			}
			item := parseFetch(resp)
			if item.UID == 0 {
				return nil
			}
			return fn(item)
		},
	})
	return err
}

func parseFetch(resp *imapwire.Response) *FetchItem {
	item := &FetchItem{SeqNum: resp.Num}
	fields := resp.Fields[0].List
	for i := 0; i+1 < len(fields); i += 2 {
		key, val := strings.ToUpper(fields[i].String()), fields[i+1]
		switch key {
		case "UID":
			item.UID, _ = val.Number()
		case "FLAGS":
			item.Flags = stringList(val)
		case "RFC822.SIZE":
			item.Size, _ = val.Number64()
		case "RFC822.HEADER", "BODY[HEADER]":
			item.Header = []byte(val.String())
		case "BODY[]", "RFC822":
			item.Body = []byte(val.String())
		}
	}
	return item
}

// FetchBody downloads the full message without setting \Seen.
func (s *Session) FetchBody(ctx context.Context, uid uint32) ([]byte, error) {
	var body []byte
	found := false
	err := s.UIDFetch(ctx, strconv.FormatUint(uint64(uid), 10), "(UID BODY.PEEK[])", func(item *FetchItem) error {
		if item.UID == uid {
			body, found = item.Body, true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, mailerr.NotFound("UID FETCH", s.SelectedMailbox()+"/"+strconv.FormatUint(uint64(uid), 10))
	}
	return body, nil
}

// Append uploads msg to mailbox. The returned UID is 0 unless the server
// answered with APPENDUID.
func (s *Session) Append(ctx context.Context, mailbox string, flags []string, msg []byte) (uint32, error) {
	resp, err := s.execute(ctx, &command{
		name:    "APPEND",
		args:    []any{imapwire.AString(mailbox), "(" + strings.Join(flags, " ") + ")", imapwire.Literal(msg)},
		mailbox: mailbox,
	})
	if err != nil {
		return 0, err
	}
	if resp.Code == "APPENDUID" && len(resp.CodeArgs) >= 2 {
		uid, _ := resp.CodeArgs[1].Number()
		return uid, nil
	}
	return 0, nil
}

// UIDCopy copies the messages of set to dest. The returned map from
// source to destination UID is nil unless the server answered with
// COPYUID.
func (s *Session) UIDCopy(ctx context.Context, set, dest string) (map[uint32]uint32, error) {
	resp, err := s.execute(ctx, &command{
		name:    "UID COPY",
		args:    []any{set, imapwire.AString(dest)},
		mailbox: dest,
	})
	if err != nil {
		return nil, err
	}
	if resp.Code != "COPYUID" || len(resp.CodeArgs) < 3 {
		return nil, nil
	}
	src := expandSet(resp.CodeArgs[1].String())
	dst := expandSet(resp.CodeArgs[2].String())
	if len(src) != len(dst) {
		s.log.Warn().Str("src", resp.CodeArgs[1].String()).Str("dst", resp.CodeArgs[2].String()).
			Msg("Ignoring inconsistent COPYUID")
		return nil, nil
	}
	m := make(map[uint32]uint32, len(src))
	for i := range src {
		m[src[i]] = dst[i]
	}
	return m, nil
}

// UIDStore changes flags silently; op is "+FLAGS" or "-FLAGS".
func (s *Session) UIDStore(ctx context.Context, set, op string, flags []string) error {
	if op != "+FLAGS" && op != "-FLAGS" && op != "FLAGS" {
		return errors.New("invalid store operation " + op)
	}
	_, err := s.execute(ctx, &command{
		name:    "UID STORE",
		args:    []any{set, op + ".SILENT", "(" + strings.Join(flags, " ") + ")"},
		mailbox: s.SelectedMailbox(),
	})
	return err
}

func (s *Session) Expunge(ctx context.Context) error {
	_, err := s.execute(ctx, &command{name: "EXPUNGE", mailbox: s.SelectedMailbox()})
	return err
}

// CloseMailbox runs CLOSE, expunging deleted messages silently.
func (s *Session) CloseMailbox(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.executeLocked(ctx, &command{name: "CLOSE", mailbox: s.selected})
	s.selected = ""
	s.mailbox = nil
	if s.state == StateSelected {
		s.state = StateAuthenticated
	}
	return err
}

func (s *Session) Create(ctx context.Context, mailbox string) error {
	_, err := s.execute(ctx, &command{name: "CREATE", args: []any{imapwire.AString(mailbox)}, mailbox: mailbox})
	return err
}

func (s *Session) Rename(ctx context.Context, from, to string) error {
	_, err := s.execute(ctx, &command{
		name:    "RENAME",
		args:    []any{imapwire.AString(from), imapwire.AString(to)},
		mailbox: from,
		noKind:  mailerr.KindNotFound,
	})
	return err
}

func (s *Session) Delete(ctx context.Context, mailbox string) error {
	_, err := s.execute(ctx, &command{
		name:    "DELETE",
		args:    []any{imapwire.AString(mailbox)},
		mailbox: mailbox,
		noKind:  mailerr.KindNotFound,
	})
	return err
}

func stringList(v imapwire.Value) []string {
	out := make([]string, 0, len(v.List))
	for _, f := range v.List {
		out = append(out, f.String())
	}
	return out
}

// uidSet formats uids as a compact sequence set such as "2:4,7".
func uidSet(uids []uint32) string {
	set := new(goimap.SeqSet)
	for _, uid := range uids {
		set.AddNum(uid)
	}
	return set.String()
}

// expandSet lists the UIDs of a COPYUID set in the order the server gave
// them, which pairs source and destination UIDs.
func expandSet(s string) []uint32 {
	var out []uint32
	for _, part := range strings.Split(s, ",") {
		set, err := goimap.ParseSeqSet(part)
		if err != nil || len(set.Set) != 1 {
			return nil
		}
		seq := set.Set[0]
		if seq.Start == 0 || seq.Stop == 0 {
			return nil
		}
		for n := seq.Start; n <= seq.Stop; n++ {
			out = append(out, n)
		}
	}
	return out
}
