package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/testutil"
)

// test-server runs an in-memory IMAP server with a few folders and
// messages, for trying mailctl and maild by hand.
func main() {
	var addr string
	cmd := &cobra.Command{
		Use:   "test-server",
		Short: "Run a seeded in-memory IMAP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:1143", "listen address")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(addr string) error {
	imapServer, err := testutil.NewTestIMAPServerForE2E(addr)
	if err != nil {
		return fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	defer imapServer.Close()

	if err := seedTestData(imapServer); err != nil {
		return fmt.Errorf("failed to seed test data: %w", err)
	}

	log.Printf("Test IMAP server: %s (username: %s, password: %s)", imapServer.Address, imapServer.Username(), imapServer.Password())
	log.Printf("Try: IMAP_SERVER=%s IMAP_SECURITY=none IMAP_USER=%s mailctl scan", imapServer.Address, imapServer.Username())
	log.Println("Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)
	return nil
}

// seedTestData creates a small folder tree with read and unread mail.
func seedTestData(imapServer *testutil.TestIMAPServer) error {
	for _, name := range []string{"Sent", "Drafts", "Trash", "Archive", "Archive/2024", "Entwürfe"} {
		if err := imapServer.CreateMailboxForE2E(name); err != nil {
			log.Printf("Warning: Failed to create folder %s: %v", name, err)
		}
	}

	messages := []struct {
		mailbox string
		subject string
		age     time.Duration
		flags   []string
	}{
		{"INBOX", "Welcome", 3 * time.Hour, []string{testutil.SeenFlag}},
		{"INBOX", "Meeting Tomorrow", 2 * time.Hour, nil},
		{"INBOX", "Special Report Q3", time.Hour, nil},
		{"Archive/2024", "Old thread", 24 * time.Hour, []string{testutil.SeenFlag}},
	}
	for _, msg := range messages {
		if err := imapServer.AddMessageForE2E(msg.mailbox, msg.subject, time.Now().Add(-msg.age), msg.flags...); err != nil {
			return fmt.Errorf("failed to add message %q: %w", msg.subject, err)
		}
	}
	return nil
}
