package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/account"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/config"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/imap"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/logging"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/progress"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, term.IsTerminal(int(os.Stderr.Fd())))

	stores, err := account.Open(cfg, account.Options{}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open mailbox store")
	}
	defer stores.Close(context.Background())

	backend, err := stores.Backend("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to pick backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := newDaemon(stores, backend, cfg.MaildFolders, log)
	go d.run(ctx, cfg.SyncInterval)

	srv := &http.Server{
		Addr:              cfg.MaildAddr,
		Handler:           NewServer(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.MaildAddr).Str("backend", backend.ID()).Msg("maild starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("maild stopped")
}

// NewServer returns the HTTP handler of the daemon.
func NewServer(d *daemon) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.Handle("/ws", d.hub)
	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/sync", d.handleSync)
	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "maild is running")
}

type folderStatus struct {
	Folder   string    `json:"folder"`
	LastSync time.Time `json:"last_sync"`
	Messages int       `json:"messages"`
	Unread   int       `json:"unread"`
	Error    string    `json:"error,omitempty"`
}

type statusResponse struct {
	Backend  string             `json:"backend"`
	Folders  []folderStatus     `json:"folders"`
	Sessions []imap.SessionInfo `json:"sessions,omitempty"`
}

// daemon keeps the configured folders in sync and publishes progress.
type daemon struct {
	stores  *account.Stores
	backend folder.Backend
	manager *folder.Manager
	hub     *progress.Hub
	folders []string
	log     zerolog.Logger
	trigger chan struct{}

	mu     sync.Mutex
	status map[string]folderStatus
}

func newDaemon(stores *account.Stores, backend folder.Backend, folders []string, log zerolog.Logger) *daemon {
	hub := progress.NewHub(0, log)
	return &daemon{
		stores:  stores,
		backend: backend,
		manager: folder.NewManager(log, hub.Publish),
		hub:     hub,
		folders: folders,
		log:     log,
		trigger: make(chan struct{}, 1),
		status:  make(map[string]folderStatus),
	}
}

func (d *daemon) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.syncOnce(ctx); err != nil {
			d.log.Warn().Err(err).Msg("Sync round incomplete")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}
	}
}

// syncOnce rescans the tree and syncs the configured folders. "*" selects
// every selectable folder.
func (d *daemon) syncOnce(ctx context.Context) error {
	root, err := d.stores.Tree(ctx, d.backend)
	if err != nil {
		return err
	}

	var items []*models.FolderItem
	for _, name := range d.folders {
		if name == "*" {
			_ = root.Walk(func(item *models.FolderItem) error {
				if item != root && !item.NoSelect {
					items = append(items, item)
				}
				return nil
			})
			continue
		}
		item := root.Find(name)
		if item == nil {
			d.record(folderStatus{Folder: name, LastSync: time.Now(), Error: folder.ErrNoSuchFolder.Error()})
			continue
		}
		items = append(items, item)
	}

	var errs []error
	for _, item := range items {
		list, err := d.manager.Sync(ctx, d.backend, item, true)
		st := folderStatus{Folder: item.Path, LastSync: time.Now(), Messages: len(list), Unread: item.Unread}
		if err != nil {
			st.Error = err.Error()
			errs = append(errs, err)
		}
		d.record(st)
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (d *daemon) record(st folderStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[st.Folder] = st
}

func (d *daemon) snapshot() statusResponse {
	d.mu.Lock()
	res := statusResponse{Backend: d.backend.ID(), Folders: make([]folderStatus, 0, len(d.status))}
	for _, st := range d.status {
		res.Folders = append(res.Folders, st)
	}
	d.mu.Unlock()

	sort.Slice(res.Folders, func(i, j int) bool { return res.Folders[i].Folder < res.Folders[j].Folder })
	if d.stores.Registry != nil {
		res.Sessions = d.stores.Registry.Sessions()
	}
	return res
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.snapshot()); err != nil {
		d.log.Warn().Err(err).Msg("Failed to write status")
	}
}

// handleSync asks the loop for an early round.
func (d *daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	select {
	case d.trigger <- struct{}{}:
	default:
	}
	w.WriteHeader(http.StatusAccepted)
}
