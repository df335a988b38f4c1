package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/header"
)

type Config struct {
	Environment string
	DataDir     string
	LogLevel    string

	MHRoot string

	IMAPServer      string
	IMAPPort        string
	IMAPUser        string
	IMAPPassword    string
	IMAPSecurity    string
	IMAPAuth        string
	IMAPIdleTimeout time.Duration
	IMAPReadTimeout time.Duration
	StrictCache     bool

	FallbackCharset    string
	DisplayHeadersFile string

	MaildAddr    string
	SyncInterval time.Duration
	MaildFolders []string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	security := strings.ToLower(getEnvOrDefault("IMAP_SECURITY", "ssl"))
	defaultPort := "993"
	if security != "ssl" {
		defaultPort = "143"
	}

	config := &Config{
		Environment:        env,
		DataDir:            getEnvOrDefault("MAIL_DATA_DIR", defaultDataDir()),
		LogLevel:           getEnvOrDefault("MAIL_LOG_LEVEL", "info"),
		MHRoot:             os.Getenv("MH_ROOT"),
		IMAPServer:         os.Getenv("IMAP_SERVER"),
		IMAPPort:           getEnvOrDefault("IMAP_PORT", defaultPort),
		IMAPUser:           os.Getenv("IMAP_USER"),
		IMAPPassword:       os.Getenv("IMAP_PASSWORD"),
		IMAPSecurity:       security,
		IMAPAuth:           strings.ToLower(getEnvOrDefault("IMAP_AUTH", "auto")),
		FallbackCharset:    os.Getenv("MAIL_FALLBACK_CHARSET"),
		DisplayHeadersFile: os.Getenv("MAIL_DISPLAY_HEADERS"),
		MaildAddr:          getEnvOrDefault("MAILD_ADDR", "127.0.0.1:8025"),
		MaildFolders:       splitList(getEnvOrDefault("MAILD_FOLDERS", "INBOX")),
	}

	var err error
	if config.IMAPIdleTimeout, err = getDuration("IMAP_IDLE_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if config.IMAPReadTimeout, err = getDuration("IMAP_READ_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if config.SyncInterval, err = getDuration("MAILD_SYNC_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if v := os.Getenv("MH_STRICT_CACHE"); v != "" {
		if config.StrictCache, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("MH_STRICT_CACHE: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.MHRoot == "" && c.IMAPServer == "" {
		return fmt.Errorf("MH_ROOT or IMAP_SERVER is required")
	}

	if c.IMAPServer != "" && c.IMAPUser == "" {
		return fmt.Errorf("IMAP_USER is required when IMAP_SERVER is set")
	}

	switch c.IMAPSecurity {
	case "none", "ssl", "starttls":
	default:
		return fmt.Errorf("IMAP_SECURITY must be none, ssl or starttls, got %q", c.IMAPSecurity)
	}

	switch c.IMAPAuth {
	case "auto", "login", "cram-md5", "plain":
	default:
		return fmt.Errorf("IMAP_AUTH must be auto, login, cram-md5 or plain, got %q", c.IMAPAuth)
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("MAILD_SYNC_INTERVAL must be positive")
	}

	return nil
}

// IMAPAddr returns the host:port to dial.
func (c *Config) IMAPAddr() string {
	return net.JoinHostPort(c.IMAPServer, c.IMAPPort)
}

// CacheDir is where the IMAP backend keeps summaries and message files.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "imapcache")
}

// DisplayRules loads the header display list. Without a configured file
// the built-in defaults are used.
func (c *Config) DisplayRules() (header.DisplayRules, error) {
	if c.DisplayHeadersFile == "" {
		return header.DefaultDisplayRules(), nil
	}
	return LoadDisplayRules(c.DisplayHeadersFile)
}

// LoadDisplayRules reads a YAML display-header file such as
//
//	show_other_headers: false
//	headers:
//	  - name: From
//	  - name: X-Mailer
//	    hidden: true
func LoadDisplayRules(path string) (header.DisplayRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return header.DisplayRules{}, fmt.Errorf("failed to read display headers: %w", err)
	}
	var rules header.DisplayRules
	if err := yaml.UnmarshalStrict(data, &rules); err != nil {
		return header.DisplayRules{}, fmt.Errorf("failed to parse display headers: %w", err)
	}
	for i, h := range rules.Headers {
		if strings.TrimSpace(h.Name) == "" {
			return header.DisplayRules{}, fmt.Errorf("display header %d has no name", i+1)
		}
	}
	return rules, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sylpheed-go")
	}
	return ".sylpheed-go"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
