package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// WriteMessage stores a small message with the given subject as file num
// in dir and returns its path. Extra header lines are inserted before the
// subject.
func WriteMessage(t *testing.T, dir string, num uint32, subject string, extra ...string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("Failed to create %s: %v", dir, err)
	}

	msg := fmt.Sprintf("From: Alice <alice@example.com>\nTo: bob@example.com\nDate: Mon, 2 Jan 2006 15:04:05 +0000\nMessage-ID: <%d@example.com>\n", num)
	for _, line := range extra {
		msg += line + "\n"
	}
	msg += "Subject: " + subject + "\n\nHello.\n"

	path := filepath.Join(dir, strconv.FormatUint(uint64(num), 10))
	if err := os.WriteFile(path, []byte(msg), 0o600); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	return path
}

// MakeMHTree creates the named folders below a fresh root and returns it.
func MakeMHTree(t *testing.T, folders ...string) string {
	t.Helper()

	root := t.TempDir()
	for _, name := range folders {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(name)), 0o700); err != nil {
			t.Fatalf("Failed to create folder %s: %v", name, err)
		}
	}
	return root
}
