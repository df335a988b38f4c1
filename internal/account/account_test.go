package account

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/config"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/testutil"
)

func baseConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:         t.TempDir(),
		IMAPSecurity:    "none",
		IMAPAuth:        "auto",
		IMAPIdleTimeout: time.Minute,
		IMAPReadTimeout: 5 * time.Second,
	}
}

func TestOpen(t *testing.T) {
	t.Run("mh only", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.MHRoot = testutil.MakeMHTree(t, "inbox", "outbox")

		stores, err := Open(cfg, Options{}, zerolog.Nop())
		require.NoError(t, err)
		defer stores.Close(context.Background())

		b, err := stores.Backend("")
		require.NoError(t, err)
		assert.Equal(t, stores.MH, b)
		_, err = stores.Backend("imap")
		assert.Error(t, err)
		_, err = stores.Backend("pop3")
		assert.Error(t, err)

		root, err := stores.Tree(context.Background(), b)
		require.NoError(t, err)
		assert.NotNil(t, root.Find("inbox"))
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := Open(baseConfig(t), Options{}, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("bad security", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.IMAPServer, cfg.IMAPUser, cfg.IMAPSecurity = "localhost", "tim", "quantum"

		_, err := Open(cfg, Options{}, zerolog.Nop())

		assert.Error(t, err)
	})

	t.Run("imap with keyring password", func(t *testing.T) {
		srv := testutil.NewTestIMAPServer(t)
		host, port, err := net.SplitHostPort(srv.Address)
		require.NoError(t, err)
		cfg := baseConfig(t)
		cfg.IMAPServer, cfg.IMAPPort, cfg.IMAPUser = host, port, srv.Username()
		ring := keyring.NewArrayKeyring([]keyring.Item{{Key: srv.Username() + "@" + srv.Address, Data: []byte(srv.Password())}})

		stores, err := Open(cfg, Options{Keyring: ring}, zerolog.Nop())
		require.NoError(t, err)
		defer stores.Close(context.Background())

		b, err := stores.Backend("")
		require.NoError(t, err)
		assert.Equal(t, stores.IMAP, b)

		root, err := stores.Tree(context.Background(), b)
		require.NoError(t, err)
		inbox := root.Find("INBOX")
		require.NotNil(t, inbox)
		assert.Equal(t, 1, inbox.Total)
		assert.Equal(t, 1, stores.Registry.Len())
	})
}
