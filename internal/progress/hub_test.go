package progress

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readProgress(t *testing.T, conn *websocket.Conn) folder.Progress {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var p folder.Progress
	require.NoError(t, conn.ReadJSON(&p))
	return p
}

func TestHub(t *testing.T) {
	t.Run("routes events by folder", func(t *testing.T) {
		hub := NewHub(0, zerolog.Nop())
		srv := httptest.NewServer(hub)
		defer srv.Close()

		all := dial(t, srv, "")
		inbox := dial(t, srv, "?folder=INBOX")
		require.Eventually(t, func() bool {
			return hub.ActiveConnections(AllFolders) == 1 && hub.ActiveConnections("INBOX") == 1
		}, 2*time.Second, 10*time.Millisecond)

		hub.Publish(folder.Progress{Backend: "imap", Folder: "Sent", Stage: "fetch", Done: 1, Total: 3})
		hub.Publish(folder.Progress{Backend: "imap", Folder: "INBOX", Stage: "done", Done: 4, Total: 4})

		assert.Equal(t, "Sent", readProgress(t, all).Folder)
		assert.Equal(t, "INBOX", readProgress(t, all).Folder)
		p := readProgress(t, inbox)
		assert.Equal(t, folder.Progress{Backend: "imap", Folder: "INBOX", Stage: "done", Done: 4, Total: 4}, p)
	})

	t.Run("enforces the connection limit", func(t *testing.T) {
		hub := NewHub(1, zerolog.Nop())
		srv := httptest.NewServer(hub)
		defer srv.Close()

		dial(t, srv, "")
		require.Eventually(t, func() bool { return hub.ActiveConnections(AllFolders) == 1 }, 2*time.Second, 10*time.Millisecond)
		second := dial(t, srv, "")

		require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := second.ReadMessage()

		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
		assert.Equal(t, 1, hub.ActiveConnections(AllFolders))
	})

	t.Run("unregisters closed clients", func(t *testing.T) {
		hub := NewHub(0, zerolog.Nop())
		srv := httptest.NewServer(hub)
		defer srv.Close()

		conn := dial(t, srv, "?folder=INBOX")
		require.Eventually(t, func() bool { return hub.ActiveConnections("INBOX") == 1 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, conn.Close())

		assert.Eventually(t, func() bool { return hub.ActiveConnections("INBOX") == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("publish without listeners", func(t *testing.T) {
		hub := NewHub(0, zerolog.Nop())
		assert.NotPanics(t, func() { hub.Publish(folder.Progress{Folder: "INBOX"}) })
	})
}
