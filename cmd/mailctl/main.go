package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/account"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/config"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/credential"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/logging"
)

// app is what every subcommand works with once the root command ran.
type app struct {
	cfg     *config.Config
	stores  *account.Stores
	backend folder.Backend
	manager *folder.Manager
}

type rootOptions struct {
	backend  string
	logLevel string
	trace    bool
	progress bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "mailctl",
		Short:        "Inspect and manage MH and IMAP mailboxes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.backend, "backend", "", "mailbox store to use: mh or imap (default imap when configured)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overrides MAIL_LOG_LEVEL")
	flags.BoolVar(&opts.trace, "trace", false, "log the IMAP protocol exchange")
	flags.BoolVar(&opts.progress, "progress", false, "print sync progress to stderr")

	rootCmd.AddCommand(
		newScanCmd(a),
		newListCmd(a),
		newFetchCmd(a),
		newAddCmd(a),
		newCopyCmd(a, false),
		newCopyCmd(a, true),
		newRemoveCmd(a),
		newRemoveAllCmd(a),
		newMkdirCmd(a),
		newRenameCmd(a),
		newRmdirCmd(a),
		newFlagCmd(a),
		newHeadersCmd(a),
	)
	return rootCmd
}

func (a *app) open(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if opts.trace {
		level = "trace"
	}
	log := logging.New(level, term.IsTerminal(int(os.Stderr.Fd())))

	a.stores, err = account.Open(cfg, account.Options{
		Prompt:    credential.PrompterFunc(promptPassword),
		TraceIMAP: opts.trace,
	}, log)
	if err != nil {
		return err
	}
	a.backend, err = a.stores.Backend(opts.backend)
	if err != nil {
		return err
	}

	var report folder.ProgressFunc
	if opts.progress {
		report = func(p folder.Progress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s %d/%d\n", p.Backend, p.Folder, p.Stage, p.Done, p.Total)
		}
	}
	a.manager = folder.NewManager(log, report)
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.stores != nil {
		a.stores.Close(ctx)
	}
}

func promptPassword(_ context.Context, account string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password for %s and stdin is not a terminal", account)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", account)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
