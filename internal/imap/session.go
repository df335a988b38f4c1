// Package imap implements an IMAP4rev1 client session and a folder
// backend that keeps a local cache in sync with a remote mailbox.
package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/imapwire"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
)

const (
	dialTimeout        = 10 * time.Second
	defaultReadTimeout = 60 * time.Second
)

var errNotConnected = errors.New("not connected")

type State int

const (
	StateDisconnected State = iota
	// StateConnected: greeting received, not authenticated yet.
	StateConnected
	StateAuthenticated
	StateSelected
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	case StateLoggedOut:
		return "logged out"
	default:
		return "disconnected"
	}
}

type Security int

const (
	SecurityNone Security = iota
	SecuritySSL
	SecuritySTARTTLS
)

// ParseSecurity accepts "none", "ssl" (or "tls") and "starttls".
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(s) {
	case "", "none", "plain":
		return SecurityNone, nil
	case "ssl", "tls":
		return SecuritySSL, nil
	case "starttls":
		return SecuritySTARTTLS, nil
	}
	return SecurityNone, fmt.Errorf("unknown security mode %q", s)
}

// Account describes how to reach and log in to a server.
type Account struct {
	// Addr is host:port.
	Addr     string
	User     string
	Security Security
	Auth     AuthMethod
	// TLSConfig is used for SSL and STARTTLS; a nil config verifies
	// against the host name of Addr.
	TLSConfig   *tls.Config
	ReadTimeout time.Duration
}

// ID identifies the account in logs and in the session registry.
func (a Account) ID() string {
	return a.User + "@" + a.Addr
}

// StatusError is a NO or BAD completion of a command.
type StatusError struct {
	Command string
	Status  string
	Code    string
	Text    string
}

func (e *StatusError) Error() string {
	msg := e.Command + " " + e.Status
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Text != "" {
		msg += " " + e.Text
	}
	return msg
}

// Session is one connection to an IMAP server. Commands are strictly
// sequential: a tagged command is sent, its untagged responses are
// collected and its completion is awaited before the next one goes out.
type Session struct {
	account Account
	log     zerolog.Logger
	// Debug, when set, receives every line sent and received.
	Debug io.Writer

	mu       sync.Mutex
	conn     net.Conn
	dec      *imapwire.Decoder
	enc      *imapwire.Encoder
	tag      uint64
	state    State
	caps     map[string]bool
	lastUsed time.Time

	selected string
	mailbox  *MailboxStatus
}

// command describes one tagged command in flight.
type command struct {
	name string
	args []any
	// untagged is called for every untagged response before completion.
	untagged func(*imapwire.Response) error
	// cont answers continuation requests; nil means none are expected
	// except for literals.
	cont func(*imapwire.Response) error
	// mailbox is used for error reporting.
	mailbox string
	// sensitive keeps the arguments out of debug output.
	sensitive bool
	// noKind classifies a NO completion; KindProtocol when unset.
	noKind mailerr.Kind
}

// Dial connects to the server and reads its greeting and capabilities.
// With SecuritySTARTTLS the connection is upgraded before returning.
func Dial(ctx context.Context, account Account, log zerolog.Logger) (*Session, error) {
	if account.ReadTimeout <= 0 {
		account.ReadTimeout = defaultReadTimeout
	}
	s := &Session{
		account: account,
		log:     log.With().Str("account", account.ID()).Logger(),
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if account.Security == SecuritySSL {
		td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig()}
		conn, err = td.DialContext(ctx, "tcp", account.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", account.Addr)
	}
	if err != nil {
		return nil, mailerr.New(mailerr.KindNetwork, "connect", account.Addr, err)
	}

	if err := s.start(ctx, conn); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSession runs the greeting phase over an established connection.
func NewSession(ctx context.Context, conn net.Conn, account Account, log zerolog.Logger) (*Session, error) {
	if account.ReadTimeout <= 0 {
		account.ReadTimeout = defaultReadTimeout
	}
	s := &Session{
		account: account,
		log:     log.With().Str("account", account.ID()).Logger(),
	}
	if err := s.start(ctx, conn); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) start(ctx context.Context, conn net.Conn) error {
	s.attach(conn)
	s.state = StateConnected

	if err := s.readGreeting(); err != nil {
		s.disconnect()
		return err
	}
	if len(s.caps) == 0 {
		if err := s.Capability(ctx); err != nil {
			s.disconnect()
			return err
		}
	}
	if s.account.Security == SecuritySTARTTLS {
		if err := s.StartTLS(ctx); err != nil {
			s.disconnect()
			return err
		}
	}
	return nil
}

func (s *Session) attach(conn net.Conn) {
	s.conn = conn
	tc := &timeoutConn{Conn: conn, timeout: s.account.ReadTimeout}
	s.dec = imapwire.NewDecoder(bufio.NewReader(tc))
	s.enc = imapwire.NewEncoder(bufio.NewWriter(conn))
	s.lastUsed = time.Now()
}

func (s *Session) tlsConfig() *tls.Config {
	if s.account.TLSConfig != nil {
		return s.account.TLSConfig
	}
	host, _, err := net.SplitHostPort(s.account.Addr)
	if err != nil {
		host = s.account.Addr
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

func (s *Session) readGreeting() error {
	resp, err := s.dec.ReadResponse()
	if err != nil {
		return s.readError("greeting", err)
	}
	s.trace("S", resp)
	if resp.Tag != "*" {
		return mailerr.New(mailerr.KindProtocol, "greeting", s.account.Addr, fmt.Errorf("unexpected greeting %q", resp.Name))
	}
	switch resp.Name {
	case "OK":
	case "PREAUTH":
		s.state = StateAuthenticated
	case "BYE":
		return mailerr.New(mailerr.KindNetwork, "greeting", s.account.Addr, fmt.Errorf("server closed connection: %s", resp.Text))
	default:
		return mailerr.New(mailerr.KindProtocol, "greeting", s.account.Addr, fmt.Errorf("unexpected greeting %q", resp.Name))
	}
	if resp.Code == "CAPABILITY" {
		s.setCaps(resp.CodeArgs)
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Account() Account {
	return s.account
}

// Alive reports whether the connection is open and authenticated.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && (s.state == StateAuthenticated || s.state == StateSelected)
}

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// HasCap reports whether the server advertised capability name.
func (s *Session) HasCap(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps[strings.ToUpper(name)]
}

// Selected returns the status of the selected mailbox, or nil.
func (s *Session) Selected() *MailboxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mailbox == nil {
		return nil
	}
	st := *s.mailbox
	return &st
}

// TryLock reserves the session for the caller, without blocking. Used by
// the registry to skip sessions that are busy.
func (s *Session) TryLock() bool {
	return s.mu.TryLock()
}

func (s *Session) Unlock() {
	s.mu.Unlock()
}

// Disconnect closes the connection without logging out.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnect()
}

func (s *Session) disconnect() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.state != StateLoggedOut {
		s.state = StateDisconnected
	}
	s.selected = ""
	s.mailbox = nil
}

func (s *Session) setCaps(fields []imapwire.Value) {
	s.caps = make(map[string]bool, len(fields))
	for _, f := range fields {
		if name := f.String(); name != "" {
			s.caps[strings.ToUpper(name)] = true
		}
	}
}

// execute sends cmd and reads responses up to its completion. The
// completion response is returned for OK; NO and BAD become a
// *StatusError wrapped as a protocol error. Transport failures close the
// connection.
func (s *Session) execute(ctx context.Context, cmd *command) (*imapwire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeLocked(ctx, cmd)
}

func (s *Session) executeLocked(ctx context.Context, cmd *command) (*imapwire.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, mailerr.New(mailerr.KindCancelled, cmd.name, cmd.mailbox, err)
	}
	if s.conn == nil {
		return nil, mailerr.New(mailerr.KindNetwork, cmd.name, cmd.mailbox, errNotConnected)
	}

	s.tag++
	tag := strconv.FormatUint(s.tag, 10)
	s.lastUsed = time.Now()
	s.traceCommand(tag, cmd)

	var handlerErr error
	err := s.enc.WriteCommand(tag, cmd.name, cmd.args, func() error {
		return s.awaitContinuation(tag, cmd, &handlerErr)
	})
	if err != nil {
		if mailerr.KindOf(err) != mailerr.KindUnknown {
			return nil, err
		}
		s.disconnect()
		return nil, mailerr.New(mailerr.KindNetwork, cmd.name, cmd.mailbox, err)
	}

	for {
		resp, err := s.dec.ReadResponse()
		if err != nil {
			if errors.Is(err, imapwire.ErrMalformed) {
				// The bad line was skipped; keep reading up to the completion.
				s.log.Warn().Err(err).Str("command", cmd.name).Msg("Skipping malformed response")
				if handlerErr == nil {
					handlerErr = s.readError(cmd.name, err)
				}
				continue
			}
			return nil, s.readError(cmd.name, err)
		}
		s.trace("S", resp)

		switch resp.Tag {
		case "*":
			if err := s.handleUntagged(resp); err != nil {
				return nil, err
			}
			if cmd.untagged != nil && handlerErr == nil {
				handlerErr = cmd.untagged(resp)
			}
		case "+":
			if cmd.cont == nil {
				return nil, mailerr.New(mailerr.KindProtocol, cmd.name, cmd.mailbox, errors.New("unexpected continuation request"))
			}
			if err := cmd.cont(resp); err != nil {
				return nil, err
			}
		case tag:
			s.lastUsed = time.Now()
			if handlerErr != nil {
				return resp, handlerErr
			}
			return resp, s.completion(cmd, resp)
		default:
			// The stream is out of step; nothing after this can be trusted.
			s.disconnect()
			return nil, mailerr.New(mailerr.KindProtocol, cmd.name, cmd.mailbox,
				fmt.Errorf("tag mismatch: got %q, want %q", resp.Tag, tag))
		}
	}
}

// awaitContinuation reads until the server asks for the literal.
func (s *Session) awaitContinuation(tag string, cmd *command, handlerErr *error) error {
	for {
		resp, err := s.dec.ReadResponse()
		if err != nil {
			return s.readError(cmd.name, err)
		}
		s.trace("S", resp)
		switch resp.Tag {
		case "+":
			return nil
		case "*":
			if err := s.handleUntagged(resp); err != nil {
				return err
			}
			if cmd.untagged != nil && *handlerErr == nil {
				*handlerErr = cmd.untagged(resp)
			}
		case tag:
			if err := s.completion(cmd, resp); err != nil {
				return err
			}
			return mailerr.New(mailerr.KindProtocol, cmd.name, cmd.mailbox, errors.New("command completed before literal was sent"))
		default:
			return mailerr.New(mailerr.KindProtocol, cmd.name, cmd.mailbox,
				fmt.Errorf("tag mismatch: got %q, want %q", resp.Tag, tag))
		}
	}
}

func (s *Session) completion(cmd *command, resp *imapwire.Response) error {
	if resp.Code == "CAPABILITY" {
		s.setCaps(resp.CodeArgs)
	}
	switch resp.Name {
	case "OK":
		return nil
	case "NO", "BAD":
		se := &StatusError{Command: cmd.name, Status: resp.Name, Code: resp.Code, Text: resp.Text}
		kind := mailerr.KindProtocol
		switch {
		case resp.Code == "NONEXISTENT":
			kind = mailerr.KindNotFound
		case resp.Name == "NO" && cmd.noKind != mailerr.KindUnknown:
			kind = cmd.noKind
		}
		return mailerr.New(kind, cmd.name, cmd.mailbox, se)
	}
	return mailerr.New(mailerr.KindProtocol, cmd.name, cmd.mailbox, fmt.Errorf("unexpected completion %q", resp.Name))
}

// handleUntagged keeps session state current from unsolicited data.
func (s *Session) handleUntagged(resp *imapwire.Response) error {
	switch resp.Name {
	case "CAPABILITY":
		s.setCaps(resp.Fields)
	case "BYE":
		s.log.Debug().Str("text", resp.Text).Msg("Server said goodbye")
	case "EXISTS":
		if s.mailbox != nil {
			s.mailbox.Exists = resp.Num
		}
	case "RECENT":
		if s.mailbox != nil {
			s.mailbox.Recent = resp.Num
		}
	case "EXPUNGE":
		if s.mailbox != nil && s.mailbox.Exists > 0 {
			s.mailbox.Exists--
		}
	}
	return nil
}

// readError converts a decoder error: grammar errors leave the session
// usable, everything else tears the connection down.
func (s *Session) readError(op string, err error) error {
	if errors.Is(err, imapwire.ErrMalformed) {
		return mailerr.New(mailerr.KindProtocol, op, "", err)
	}
	s.disconnect()
	return mailerr.New(mailerr.KindNetwork, op, s.account.Addr, err)
}

func (s *Session) traceCommand(tag string, cmd *command) {
	if s.Debug == nil {
		return
	}
	line := tag + " " + cmd.name
	if cmd.sensitive {
		line += " [redacted]"
	} else {
		for _, a := range cmd.args {
			switch v := a.(type) {
			case string:
				line += " " + v
			case imapwire.Literal:
				line += " {" + strconv.Itoa(len(v)) + "}"
			}
		}
	}
	_, _ = io.WriteString(s.Debug, line+"\r\n")
}

func (s *Session) trace(dir string, resp *imapwire.Response) {
	if s.Debug == nil {
		return
	}
	line := resp.Tag
	if resp.HasNum {
		line += " " + strconv.FormatUint(uint64(resp.Num), 10)
	}
	if resp.Name != "" {
		line += " " + resp.Name
	}
	if resp.Code != "" {
		line += " [" + resp.Code + "]"
	}
	if resp.Text != "" {
		line += " " + resp.Text
	}
	if n := len(resp.Fields); n > 0 {
		line += " (" + strconv.Itoa(n) + " fields)"
	}
	_, _ = io.WriteString(s.Debug, dir+": "+line+"\r\n")
}

// timeoutConn applies the read timeout to every read, so a silent server
// fails the pending command instead of blocking forever.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}
