// Package credential supplies account passwords to the IMAP backend.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"
)

// ErrNoPassword is returned when no source could provide a password.
var ErrNoPassword = errors.New("no password available")

// Prompter asks the user for the password of account.
type Prompter interface {
	Prompt(ctx context.Context, account string) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, account string) (string, error)

func (f PrompterFunc) Prompt(ctx context.Context, account string) (string, error) {
	return f(ctx, account)
}

// Provider looks a password up in order: the temporary cache, the
// configured password, the keyring and finally the prompt. A prompted
// password is kept in the keyring for later runs.
//
// Forget drops the cached password and its source, so that after an
// authentication failure the next lookup moves on instead of retrying a
// password the server already refused.
type Provider struct {
	account string
	ring    keyring.Keyring
	prompt  Prompter
	log     zerolog.Logger

	mu         sync.Mutex
	configured string
	cached     string
	source     string
}

// NewProvider creates a provider for account. ring and prompt may be nil.
func NewProvider(account, configured string, ring keyring.Keyring, prompt Prompter, log zerolog.Logger) *Provider {
	return &Provider{
		account:    account,
		configured: configured,
		ring:       ring,
		prompt:     prompt,
		log:        log.With().Str("account", account).Logger(),
	}
}

func (p *Provider) Password(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source != "" {
		return p.cached, nil
	}

	if p.configured != "" {
		p.remember(p.configured, "config")
		return p.cached, nil
	}

	if p.ring != nil {
		item, err := p.ring.Get(p.account)
		switch {
		case err == nil:
			p.remember(string(item.Data), "keyring")
			return p.cached, nil
		case !errors.Is(err, keyring.ErrKeyNotFound):
			p.log.Warn().Err(err).Msg("Failed to read keyring")
		}
	}

	if p.prompt == nil {
		return "", ErrNoPassword
	}
	password, err := p.prompt.Prompt(ctx, p.account)
	if err != nil {
		return "", fmt.Errorf("failed to prompt for password: %w", err)
	}
	if password == "" {
		return "", ErrNoPassword
	}
	p.remember(password, "prompt")
	if p.ring != nil {
		if err := p.ring.Set(keyring.Item{Key: p.account, Data: []byte(password), Label: "Mail password for " + p.account}); err != nil {
			p.log.Warn().Err(err).Msg("Failed to store password in keyring")
		}
	}
	return password, nil
}

// Forget implements the reaction to an authentication failure.
func (p *Provider) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.source {
	case "config":
		p.configured = ""
	case "keyring", "prompt":
		if p.ring != nil {
			if err := p.ring.Remove(p.account); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
				p.log.Warn().Err(err).Msg("Failed to remove password from keyring")
			}
		}
	}
	if p.source != "" {
		p.log.Info().Str("source", p.source).Msg("Forgetting rejected password")
	}
	p.cached, p.source = "", ""
}

func (p *Provider) remember(password, source string) {
	p.cached, p.source = password, source
}

// OpenKeyring opens the platform keyring, falling back to an encrypted
// file below dir. filePassword unlocks the file backend.
func OpenKeyring(service, dir string, filePassword keyring.PromptFunc) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.FileBackend,
		},
		FileDir:          dir,
		FilePasswordFunc: filePassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}
