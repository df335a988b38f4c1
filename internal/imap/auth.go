package imap

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/imapwire"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
)

type AuthMethod int

const (
	// AuthAuto prefers CRAM-MD5 when advertised, then LOGIN.
	AuthAuto AuthMethod = iota
	AuthLogin
	AuthCRAMMD5
	AuthPlain
)

func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return AuthAuto, nil
	case "login":
		return AuthLogin, nil
	case "cram-md5":
		return AuthCRAMMD5, nil
	case "plain":
		return AuthPlain, nil
	}
	return AuthAuto, fmt.Errorf("unknown auth method %q", s)
}

func (m AuthMethod) String() string {
	switch m {
	case AuthLogin:
		return "login"
	case AuthCRAMMD5:
		return "cram-md5"
	case AuthPlain:
		return "plain"
	default:
		return "auto"
	}
}

// Authenticate logs in with the account's configured method.
func (s *Session) Authenticate(ctx context.Context, password string) error {
	method := s.account.Auth
	if method == AuthAuto {
		method = AuthLogin
		if s.HasCap("AUTH=CRAM-MD5") {
			method = AuthCRAMMD5
		}
	}

	switch method {
	case AuthCRAMMD5:
		if !s.HasCap("AUTH=CRAM-MD5") {
			return mailerr.New(mailerr.KindNotSupported, "AUTHENTICATE", "", errors.New("server does not support CRAM-MD5"))
		}
		return s.AuthenticateSASL(ctx, newCramMD5Client(s.account.User, password))
	case AuthPlain:
		return s.AuthenticateSASL(ctx, sasl.NewPlainClient("", s.account.User, password))
	default:
		return s.Login(ctx, s.account.User, password)
	}
}

// Login issues LOGIN, which the server may forbid before TLS.
func (s *Session) Login(ctx context.Context, user, password string) error {
	if s.HasCap("LOGINDISABLED") {
		return mailerr.New(mailerr.KindNotSupported, "LOGIN", "", errors.New("server advertises LOGINDISABLED"))
	}
	_, err := s.execute(ctx, &command{
		name:      "LOGIN",
		args:      []any{imapwire.AString(user), imapwire.AString(password)},
		sensitive: true,
		noKind:    mailerr.KindAuth,
	})
	if err != nil {
		return err
	}
	s.authenticated(ctx)
	return nil
}

// AuthenticateSASL runs AUTHENTICATE with the given mechanism client.
// Challenges and responses travel base64 encoded on continuation lines.
func (s *Session) AuthenticateSASL(ctx context.Context, client sasl.Client) error {
	mech, ir, err := client.Start()
	if err != nil {
		return mailerr.New(mailerr.KindAuth, "AUTHENTICATE", "", err)
	}
	// SASL-IR is not assumed; an initial response goes out with the
	// first continuation instead.
	pending := ir
	started := ir != nil

	_, err = s.execute(ctx, &command{
		name:      "AUTHENTICATE",
		args:      []any{mech},
		sensitive: true,
		noKind:    mailerr.KindAuth,
		cont: func(resp *imapwire.Response) error {
			var out []byte
			if started && pending != nil {
				out, pending = pending, nil
			} else {
				challenge, err := base64.StdEncoding.DecodeString(resp.Text)
				if err != nil {
					_ = s.enc.WriteLine("*")
					return mailerr.New(mailerr.KindProtocol, "AUTHENTICATE", "", fmt.Errorf("bad challenge: %w", err))
				}
				if out, err = client.Next(challenge); err != nil {
					_ = s.enc.WriteLine("*")
					return mailerr.New(mailerr.KindAuth, "AUTHENTICATE", "", err)
				}
			}
			if err := s.enc.WriteLine(base64.StdEncoding.EncodeToString(out)); err != nil {
				s.disconnect()
				return mailerr.New(mailerr.KindNetwork, "AUTHENTICATE", "", err)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	s.authenticated(ctx)
	return nil
}

// authenticated moves the session on and refreshes capabilities the
// server did not volunteer in its OK response.
func (s *Session) authenticated(ctx context.Context) {
	s.mu.Lock()
	s.state = StateAuthenticated
	s.mu.Unlock()
	if err := s.Capability(ctx); err != nil {
		s.log.Debug().Err(err).Msg("Capability refresh after login failed")
	}
}

// cramMD5Client implements the CRAM-MD5 mechanism, which go-sasl only
// provides on the server side.
type cramMD5Client struct {
	username string
	secret   string
}

func newCramMD5Client(username, secret string) sasl.Client {
	return &cramMD5Client{username: username, secret: secret}
}

func (c *cramMD5Client) Start() (string, []byte, error) {
	return "CRAM-MD5", nil, nil
}

func (c *cramMD5Client) Next(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(c.secret))
	mac.Write(challenge)
	return []byte(c.username + " " + hex.EncodeToString(mac.Sum(nil))), nil
}
