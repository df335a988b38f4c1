package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is a real IMAP server with an in-memory store.
//
// The memory backend has a single user "username" with password "password"
// whose INBOX already holds one seen message with UID 6.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
}

// NewTestIMAPServer starts a server on a random loopback port and stops it
// when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := NewTestIMAPServerForE2E("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// NewTestIMAPServerForE2E starts a server outside of a test, for example
// for cmd/test-server. The caller must Close it.
func NewTestIMAPServerForE2E(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}, nil
}

// Close shuts the server down.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

// Username returns the login of the only user.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the password of the only user.
func (s *TestIMAPServer) Password() string {
	return s.password
}

func (s *TestIMAPServer) connect() (*imapclient.Client, error) {
	c, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	return c, nil
}

// CreateMailbox creates name through a separate client connection.
func (s *TestIMAPServer) CreateMailbox(t *testing.T, name string) {
	t.Helper()

	if err := s.CreateMailboxForE2E(name); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
}

func (s *TestIMAPServer) CreateMailboxForE2E(name string) error {
	c, err := s.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	return c.Create(name)
}

// AddMessage appends a small message to mailbox with the given flags.
func (s *TestIMAPServer) AddMessage(t *testing.T, mailbox, subject string, flags ...string) {
	t.Helper()

	if err := s.AddMessageForE2E(mailbox, subject, time.Now(), flags...); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

func (s *TestIMAPServer) AddMessageForE2E(mailbox, subject string, sentAt time.Time, flags ...string) error {
	c, err := s.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	body := fmt.Sprintf("Message-ID: <%d@test>\r\nDate: %s\r\nFrom: sender@example.com\r\nTo: username@example.com\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nTest message body.\r\n",
		sentAt.UnixNano(), sentAt.Format(time.RFC1123Z), subject)

	if flags == nil {
		flags = []string{}
	}
	if err := c.Append(mailbox, flags, sentAt, strings.NewReader(body)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", mailbox, err)
	}
	return nil
}

// SeenFlag is re-exported so callers need not import go-imap.
const SeenFlag = imap.SeenFlag
