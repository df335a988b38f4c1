// Package account builds the configured mailbox stores.
package account

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/config"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/credential"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/header"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/imap"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/logging"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mh"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

const keyringService = "sylpheed-go"

// Options tune Open. The zero value is usable.
type Options struct {
	// Prompt asks for the IMAP password when neither the configuration nor
	// the keyring has one.
	Prompt credential.Prompter
	// Keyring overrides the platform keyring.
	Keyring keyring.Keyring
	// TraceIMAP logs the protocol exchange at trace level.
	TraceIMAP bool
}

// Stores holds the backends of the configured account.
type Stores struct {
	MH       *mh.Folder
	IMAP     *imap.Folder
	Registry *imap.Registry
	Parser   *header.Parser

	log zerolog.Logger
}

func Open(cfg *config.Config, opts Options, log zerolog.Logger) (*Stores, error) {
	s := &Stores{
		Parser: header.NewParser(log, cfg.FallbackCharset),
		log:    log,
	}

	if cfg.MHRoot != "" {
		s.MH = mh.New(cfg.MHRoot, s.Parser, log)
		s.MH.Strict = cfg.StrictCache
	}

	if cfg.IMAPServer != "" {
		security, err := imap.ParseSecurity(cfg.IMAPSecurity)
		if err != nil {
			return nil, err
		}
		auth, err := imap.ParseAuthMethod(cfg.IMAPAuth)
		if err != nil {
			return nil, err
		}
		acct := imap.Account{
			Addr:        cfg.IMAPAddr(),
			User:        cfg.IMAPUser,
			Security:    security,
			Auth:        auth,
			ReadTimeout: cfg.IMAPReadTimeout,
		}

		ring := opts.Keyring
		if ring == nil {
			ring = openKeyring(cfg, opts.Prompt, log)
		}
		password := credential.NewProvider(acct.ID(), cfg.IMAPPassword, ring, opts.Prompt, log)

		cacheDir := cfg.CacheDir()
		if err := os.MkdirAll(cacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}

		s.Registry = imap.NewRegistry(cfg.IMAPIdleTimeout, log)
		s.IMAP = imap.NewFolder(acct, password, s.Registry, s.Parser, cacheDir, log)
		s.IMAP.TmpDir = filepath.Join(cfg.DataDir, "tmp")
		if err := os.MkdirAll(s.IMAP.TmpDir, 0o700); err != nil {
			s.Registry.Close()
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		if opts.TraceIMAP {
			s.IMAP.Debug = &logging.IMAPDebugWriter{Logger: log, Direction: acct.ID()}
		}
	}

	if s.MH == nil && s.IMAP == nil {
		return nil, fmt.Errorf("no mailbox store configured")
	}
	return s, nil
}

// openKeyring returns nil when no keyring backend is available; the
// provider then relies on the configuration and the prompt alone.
func openKeyring(cfg *config.Config, prompt credential.Prompter, log zerolog.Logger) keyring.Keyring {
	var unlock keyring.PromptFunc
	if prompt != nil {
		unlock = func(msg string) (string, error) {
			return prompt.Prompt(context.Background(), msg)
		}
	} else {
		unlock = keyring.FixedStringPrompt("")
	}
	ring, err := credential.OpenKeyring(keyringService, filepath.Join(cfg.DataDir, "keyring"), unlock)
	if err != nil {
		log.Debug().Err(err).Msg("Keyring unavailable")
		return nil
	}
	return ring
}

// Backend returns the store called name, "mh" or "imap". An empty name
// picks IMAP when configured.
func (s *Stores) Backend(name string) (folder.Backend, error) {
	switch strings.ToLower(name) {
	case "":
		if s.IMAP != nil {
			return s.IMAP, nil
		}
		return s.MH, nil
	case "imap":
		if s.IMAP != nil {
			return s.IMAP, nil
		}
	case "mh":
		if s.MH != nil {
			return s.MH, nil
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return nil, fmt.Errorf("backend %s is not configured", name)
}

// Tree scans the folder tree of b into a fresh root.
func (s *Stores) Tree(ctx context.Context, b folder.Backend) (*models.FolderItem, error) {
	root := models.NewFolderItem("", "")
	if err := b.ScanTree(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to scan folders: %w", err)
	}
	return root, nil
}

// Close logs out of the IMAP server.
func (s *Stores) Close(ctx context.Context) {
	if s.IMAP != nil {
		if err := s.IMAP.Disconnect(ctx); err != nil {
			s.log.Debug().Err(err).Msg("Failed to log out")
		}
	}
	if s.Registry != nil {
		s.Registry.Close()
	}
}
