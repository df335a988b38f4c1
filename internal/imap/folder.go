package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/db"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/header"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// defaultIdleCheck is the idle time after which a session is probed with
// NOOP before it is trusted again.
const defaultIdleCheck = 1 * time.Minute

// PasswordSource supplies the account password. Forget is called after an
// authentication failure so a cached password is not tried again.
type PasswordSource interface {
	Password(ctx context.Context) (string, error)
	Forget()
}

// Folder is the IMAP backend for one account. It owns at most one session;
// operations on any folder of the account use it one at a time.
//
// Message summaries and downloaded messages are cached below cacheRoot,
// one directory per folder, with files named by UID.
type Folder struct {
	account   Account
	password  PasswordSource
	registry  *Registry
	parser    *header.Parser
	cacheRoot string
	log       zerolog.Logger

	// IdleCheck is the idle time past which the session is probed first.
	IdleCheck time.Duration
	// TmpDir receives exported messages when copying to another backend.
	TmpDir string
	// Debug receives the protocol trace of every new session.
	Debug io.Writer

	mu      sync.Mutex
	session *Session
	ns      *Namespaces
}

var _ folder.Backend = (*Folder)(nil)

func NewFolder(account Account, password PasswordSource, registry *Registry, parser *header.Parser, cacheRoot string, log zerolog.Logger) *Folder {
	return &Folder{
		account:   account,
		password:  password,
		registry:  registry,
		parser:    parser,
		cacheRoot: cacheRoot,
		log:       log.With().Str("backend", "imap").Str("account", account.ID()).Logger(),
		IdleCheck: defaultIdleCheck,
		TmpDir:    os.TempDir(),
	}
}

func (f *Folder) ID() string { return "imap:" + f.account.ID() }

// Connect opens a new session, replacing any previous one.
func (f *Folder) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropSession()
	_, err := f.connectLocked(ctx)
	return err
}

// EnsureFresh returns a usable session. A session idle for longer than
// IdleCheck is probed with NOOP; a dead one is replaced by a new login.
func (f *Folder) EnsureFresh(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureFreshLocked(ctx)
}

// Disconnect logs out and forgets the session.
func (f *Folder) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	s := f.session
	f.session = nil
	if f.registry != nil {
		f.registry.Remove(s)
	}
	return s.Logout(ctx)
}

func (f *Folder) ensureFreshLocked(ctx context.Context) (*Session, error) {
	s := f.session
	if s != nil && s.Alive() {
		if time.Since(s.LastUsed()) < f.IdleCheck {
			return s, nil
		}
		err := s.Noop(ctx)
		if err == nil {
			return s, nil
		}
		if mailerr.KindOf(err) == mailerr.KindCancelled {
			return nil, err
		}
		f.log.Info().Err(err).Msg("Session went stale, reconnecting")
	}
	f.dropSession()
	return f.connectLocked(ctx)
}

func (f *Folder) dropSession() {
	if f.session == nil {
		return
	}
	f.session.Disconnect()
	if f.registry != nil {
		f.registry.Remove(f.session)
	}
	f.session = nil
}

// connectLocked dials, authenticates and discovers the namespaces.
func (f *Folder) connectLocked(ctx context.Context) (*Session, error) {
	s, err := Dial(ctx, f.account, f.log)
	if err != nil {
		return nil, err
	}
	s.Debug = f.Debug

	if s.State() != StateAuthenticated {
		password, err := f.password.Password(ctx)
		if err != nil {
			s.Disconnect()
			return nil, mailerr.New(mailerr.KindAuth, "login", f.account.ID(), err)
		}
		if err := s.Authenticate(ctx, password); err != nil {
			if mailerr.IsAuth(err) {
				f.password.Forget()
			}
			_ = s.Logout(ctx)
			return nil, err
		}
	}

	ns, err := f.discoverNamespaces(ctx, s)
	if err != nil {
		s.Disconnect()
		return nil, err
	}
	f.ns = ns
	f.session = s
	if f.registry != nil {
		f.registry.Add(s)
	}
	f.log.Debug().Msg("Session established")
	return s, nil
}

// discoverNamespaces asks NAMESPACE and falls back to the delimiter a
// blank LIST reports, and to '/' when even that is unknown.
func (f *Folder) discoverNamespaces(ctx context.Context, s *Session) (*Namespaces, error) {
	ns, err := s.Namespace(ctx)
	if err == nil && len(ns.Personal) > 0 {
		return ns, nil
	}
	if err != nil && !mailerr.IsNotSupported(err) && mailerr.KindOf(err) != mailerr.KindProtocol {
		return nil, err
	}

	sep, err := s.Delimiter(ctx)
	if err != nil {
		if mailerr.KindOf(err) != mailerr.KindProtocol {
			return nil, err
		}
		sep = 0
	}
	if sep == 0 {
		sep = '/'
	}
	return &Namespaces{Personal: []Namespace{{Prefix: "", Separator: sep}}}, nil
}

// Namespaces returns the namespaces learned at login, or nil before the
// first connection.
func (f *Folder) Namespaces() *Namespaces {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ns
}

func (f *Folder) serverName(item *models.FolderItem) string {
	return f.ns.ServerName(item.Path)
}

func (f *Folder) cacheDir(item *models.FolderItem) string {
	return filepath.Join(f.cacheRoot, filepath.FromSlash(item.Path))
}

func (f *Folder) cachePath(item *models.FolderItem, uid uint32) string {
	return filepath.Join(f.cacheDir(item), strconv.FormatUint(uint64(uid), 10))
}

func (f *Folder) openCache(item *models.FolderItem) (*bolt.DB, error) {
	dir := f.cacheDir(item)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "open cache", item.Path, err)
	}
	cache, err := db.Open(filepath.Join(dir, db.FileName))
	if err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "open cache", item.Path, err)
	}
	return cache, nil
}

// selectItem makes item the selected mailbox unless it already is.
func (f *Folder) selectItem(ctx context.Context, s *Session, item *models.FolderItem) (*MailboxStatus, error) {
	name := f.serverName(item)
	if s.SelectedMailbox() == name {
		if st := s.Selected(); st != nil {
			return st, nil
		}
	}
	return s.Select(ctx, name)
}

// ScanTree lists every mailbox of the account and makes the children of
// root match. Counters come from STATUS, so no mailbox gets selected.
func (f *Folder) ScanTree(ctx context.Context, root *models.FolderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return err
	}
	entries, err := s.List(ctx, "", "*")
	if err != nil {
		return err
	}

	seen := map[string]bool{root.Path: true}
	for _, e := range entries {
		p := DisplayPath(e.Name, e.Delimiter)
		if p == "" || e.HasAttr(`\NonExistent`) {
			continue
		}
		if strings.EqualFold(p, "INBOX") {
			p = "INBOX"
		}
		item := f.ensureNode(root, p, seen)
		item.NoSelect = e.HasAttr(goimap.NoSelectAttr)
		if t := specialUse(e); t != models.FolderNormal && item.Type == models.FolderNormal {
			item.Type = t
		}
	}

	var vanished []*models.FolderItem
	_ = root.Walk(func(item *models.FolderItem) error {
		if !seen[item.Path] {
			vanished = append(vanished, item)
		}
		return nil
	})
	for _, item := range vanished {
		if item.Parent != nil {
			f.log.Debug().Str("folder", item.Path).Msg("Folder vanished")
			item.Parent.RemoveChild(item)
		}
	}

	return root.Walk(func(item *models.FolderItem) error {
		if item == root || item.NoSelect {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return mailerr.New(mailerr.KindCancelled, "scan_tree", item.Path, err)
		}
		st, err := s.Status(ctx, f.serverName(item))
		if err != nil {
			if mailerr.IsRetryable(err) {
				return err
			}
			f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to get folder status")
			return nil
		}
		item.Total = int(st.Exists)
		item.Unread = int(st.Unseen)
		item.New = int(st.Recent)
		return nil
	})
}

// ensureNode returns the node for display path p below root, creating it
// and any missing ancestors. Ancestors the server did not list are not
// selectable.
func (f *Folder) ensureNode(root *models.FolderItem, p string, seen map[string]bool) *models.FolderItem {
	parent := root
	parts := strings.Split(p, "/")
	for i, part := range parts {
		cur := strings.Join(parts[:i+1], "/")
		if root.Path != "" {
			cur = root.Path + "/" + cur
		}
		var node *models.FolderItem
		for _, c := range parent.Children {
			if c.Path == cur {
				node = c
				break
			}
		}
		if node == nil {
			node = models.NewFolderItem(part, cur)
			node.NoSelect = i < len(parts)-1
			if parent == root {
				node.Type = specialByName(part)
			}
			parent.AddChild(node)
			f.log.Debug().Str("folder", cur).Msg("Found new folder")
		}
		seen[cur] = true
		parent = node
	}
	return parent
}

func specialUse(e ListEntry) models.FolderType {
	switch {
	case e.HasAttr(attrSent):
		return models.FolderOutbox
	case e.HasAttr(attrDrafts):
		return models.FolderDraft
	case e.HasAttr(attrTrash):
		return models.FolderTrash
	case e.HasAttr(attrJunk):
		return models.FolderJunk
	}
	return models.FolderNormal
}

func specialByName(name string) models.FolderType {
	switch strings.ToLower(name) {
	case "inbox":
		return models.FolderInbox
	case "sent", "sent items", "sent messages":
		return models.FolderOutbox
	case "draft", "drafts":
		return models.FolderDraft
	case "queue":
		return models.FolderQueue
	case "trash", "deleted items", "deleted messages":
		return models.FolderTrash
	case "junk", "spam":
		return models.FolderJunk
	}
	return models.FolderNormal
}

// FetchMsg returns the path of the cached copy of uid, downloading it
// first when needed.
func (f *Folder) FetchMsg(ctx context.Context, item *models.FolderItem, uid uint32) (string, error) {
	if uid == 0 {
		return "", mailerr.NotFound("fetch_msg", item.Path)
	}
	p := f.cachePath(item, uid)
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		return p, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return "", err
	}
	if _, err := f.selectItem(ctx, s, item); err != nil {
		return "", err
	}
	body, err := s.FetchBody(ctx, uid)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.cacheDir(item), 0o700); err != nil {
		return "", mailerr.New(mailerr.KindLocalIO, "fetch_msg", item.Path, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return "", mailerr.New(mailerr.KindLocalIO, "fetch_msg", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", mailerr.New(mailerr.KindLocalIO, "fetch_msg", p, err)
	}
	return p, nil
}

// AddMsgs appends files to dest. Without UIDPLUS the UIDs are assumed to
// continue from the UIDNEXT observed before the batch, which holds as long
// as nobody else appends at the same time.
func (f *Folder) AddMsgs(ctx context.Context, dest *models.FolderItem, files []models.MsgFileInfo, removeSource bool) (uint32, error) {
	if len(files) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return 0, err
	}
	name := f.serverName(dest)
	st, err := s.Status(ctx, name)
	if err != nil {
		return 0, err
	}

	var first uint32
	next := st.UIDNext
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return first, mailerr.New(mailerr.KindCancelled, "add_msgs", dest.Path, err)
		}
		msg, err := os.ReadFile(file.Path)
		if err != nil {
			return first, mailerr.New(mailerr.KindLocalIO, "add_msgs", file.Path, err)
		}

		flags := models.NewFlags()
		if file.Flags != nil {
			flags = *file.Flags
		}
		uid, err := s.Append(ctx, name, imapFlags(flags.Perm), msg)
		if err != nil {
			return first, err
		}
		if uid == 0 {
			uid = next
			f.log.Debug().Str("folder", dest.Path).Uint32("uid", uid).Msg("Assuming UID of appended message")
		}
		next = uid + 1

		if first == 0 {
			first = uid
		}
		if uid > dest.LastNum {
			dest.LastNum = uid
		}
		dest.CountAdded(flags)
	}

	if removeSource {
		for _, file := range files {
			if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				f.log.Warn().Err(err).Str("file", file.Path).Msg("Failed to remove source file")
			}
		}
	}
	return first, nil
}

// CopyMsgs copies nums into dest: with UID COPY inside the account,
// through temporary files otherwise.
func (f *Folder) CopyMsgs(ctx context.Context, dest *models.FolderItem, src folder.Backend, srcItem *models.FolderItem, nums []uint32) (uint32, error) {
	if src.ID() != f.ID() {
		return folder.CopyAcross(ctx, f, dest, src, srcItem, nums, f.TmpDir)
	}
	if dest.Path == srcItem.Path {
		return 0, fmt.Errorf("failed to copy messages: %s is both source and destination", dest.Path)
	}
	if len(nums) == 0 {
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := f.selectItem(ctx, s, srcItem); err != nil {
		return 0, err
	}
	mapping, err := s.UIDCopy(ctx, uidSet(nums), f.serverName(dest))
	if err != nil {
		return 0, err
	}

	var first uint32
	for _, num := range nums {
		flags := models.NewFlags()
		if msg, ok := srcItem.Msg(num); ok {
			flags = msg.Flags
		}
		dest.CountAdded(flags)
		if uid, ok := mapping[num]; ok {
			if first == 0 || uid < first {
				first = uid
			}
			if uid > dest.LastNum {
				dest.LastNum = uid
			}
		}
	}
	return first, nil
}

// MoveMsgs is CopyMsgs followed by removal from srcItem.
func (f *Folder) MoveMsgs(ctx context.Context, dest *models.FolderItem, src folder.Backend, srcItem *models.FolderItem, nums []uint32) (uint32, error) {
	if src.ID() != f.ID() {
		return folder.MoveAcross(ctx, f, dest, src, srcItem, nums, f.TmpDir)
	}
	first, err := f.CopyMsgs(ctx, dest, src, srcItem, nums)
	if err != nil {
		return first, err
	}
	if err := f.RemoveMsgs(ctx, srcItem, nums); err != nil {
		return first, fmt.Errorf("failed to remove moved messages: %w", err)
	}
	return first, nil
}

// RemoveMsgs flags nums \Deleted and expunges the mailbox.
func (f *Folder) RemoveMsgs(ctx context.Context, item *models.FolderItem, nums []uint32) error {
	if len(nums) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return err
	}
	if _, err := f.selectItem(ctx, s, item); err != nil {
		return err
	}
	if err := s.UIDStore(ctx, uidSet(nums), "+FLAGS", []string{goimap.DeletedFlag}); err != nil {
		return err
	}
	if err := s.Expunge(ctx); err != nil {
		return err
	}

	for _, num := range nums {
		item.RemoveMsg(num)
	}
	f.forget(item, nums)
	return nil
}

// forget drops the cached files and summaries of nums.
func (f *Folder) forget(item *models.FolderItem, nums []uint32) {
	for _, num := range nums {
		if err := os.Remove(f.cachePath(item, num)); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.log.Warn().Err(err).Str("folder", item.Path).Uint32("uid", num).Msg("Failed to remove cached message")
		}
	}
	cache, err := f.openCache(item)
	if err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to open cache")
		return
	}
	defer db.Close(cache)
	if err := db.DeleteMessages(cache, nums); err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to drop cached messages")
	}
}

// RemoveAllMsg deletes every message of item on the server and locally.
func (f *Folder) RemoveAllMsg(ctx context.Context, item *models.FolderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return err
	}
	st, err := s.Select(ctx, f.serverName(item))
	if err != nil {
		return err
	}
	if st.Exists > 0 {
		if err := s.UIDStore(ctx, "1:*", "+FLAGS", []string{goimap.DeletedFlag}); err != nil {
			return err
		}
		if err := s.Expunge(ctx); err != nil {
			return err
		}
	}

	if err := f.purgeFiles(item, nil); err != nil {
		return err
	}
	cache, err := f.openCache(item)
	if err != nil {
		return err
	}
	defer db.Close(cache)
	if err := db.Clear(cache); err != nil {
		return mailerr.New(mailerr.KindLocalIO, "remove_all_msg", item.Path, err)
	}
	item.SetMsgs(nil)
	item.CacheDirty = false
	return nil
}

// ChangeFlags stores the difference between the known flags of num and
// perm on the server.
func (f *Folder) ChangeFlags(ctx context.Context, item *models.FolderItem, num uint32, perm models.PermFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var add, remove []string
	if msg, ok := item.Msg(num); ok {
		add, remove = storeChanges(msg.Flags.Perm, perm)
	} else {
		add, remove = storeChanges(^perm, perm)
	}
	if len(add) == 0 && len(remove) == 0 {
		item.UpdateMsgFlags(num, perm)
		return nil
	}

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return err
	}
	if _, err := f.selectItem(ctx, s, item); err != nil {
		return err
	}
	set := strconv.FormatUint(uint64(num), 10)
	if len(add) > 0 {
		if err := s.UIDStore(ctx, set, "+FLAGS", add); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if err := s.UIDStore(ctx, set, "-FLAGS", remove); err != nil {
			return err
		}
	}

	if !item.UpdateMsgFlags(num, perm) {
		return nil
	}
	msg, _ := item.Msg(num)
	cache, err := f.openCache(item)
	if err != nil {
		item.CacheDirty = true
		return nil
	}
	defer db.Close(cache)
	if err := db.PutSummary(cache, msg); err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Uint32("uid", num).Msg("Failed to update cached summary")
		item.CacheDirty = true
	}
	return nil
}

// WriteCache stores the loaded summaries of item under its UIDVALIDITY.
// Flags live on the server, so there are no marks to write.
func (f *Folder) WriteCache(ctx context.Context, item *models.FolderItem) error {
	cache, err := f.openCache(item)
	if err != nil {
		return err
	}
	defer db.Close(cache)

	if err := db.WriteSummaries(cache, item.Mtime, item.LastNum, item.Msgs()); err != nil {
		return mailerr.New(mailerr.KindLocalIO, "write_cache", item.Path, err)
	}
	item.CacheDirty = false
	item.MarkDirty = false
	return nil
}

// CreateFolder creates name below parent on the server.
func (f *Folder) CreateFolder(ctx context.Context, parent *models.FolderItem, name string) (*models.FolderItem, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("failed to create folder: invalid name %q", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return nil, err
	}
	item := models.NewFolderItem(name, path.Join(parent.Path, name))
	if err := s.Create(ctx, f.serverName(item)); err != nil {
		return nil, err
	}
	parent.AddChild(item)
	return item, nil
}

// RenameFolder renames item in place; descendants follow on the server and
// in the tree.
func (f *Folder) RenameFolder(ctx context.Context, item *models.FolderItem, newName string) error {
	if item.Parent == nil {
		return fmt.Errorf("failed to rename folder: cannot rename the root")
	}
	if newName == "" || strings.Contains(newName, "/") {
		return fmt.Errorf("failed to rename folder: invalid name %q", newName)
	}
	if strings.EqualFold(item.Path, "INBOX") {
		return mailerr.New(mailerr.KindNotSupported, "rename_folder", item.Path, errors.New("INBOX cannot be renamed"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return err
	}
	oldPath := item.Path
	newPath := path.Join(item.Parent.Path, newName)
	oldName := f.ns.ServerName(oldPath)
	if s.SelectedMailbox() == oldName {
		if err := s.CloseMailbox(ctx); err != nil {
			return err
		}
	}
	if err := s.Rename(ctx, oldName, f.ns.ServerName(newPath)); err != nil {
		return err
	}

	oldDir := filepath.Join(f.cacheRoot, filepath.FromSlash(oldPath))
	newDir := filepath.Join(f.cacheRoot, filepath.FromSlash(newPath))
	if err := os.MkdirAll(filepath.Dir(newDir), 0o700); err == nil {
		if err := os.Rename(oldDir, newDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.log.Warn().Err(err).Str("folder", oldPath).Msg("Failed to move folder cache")
		}
	}

	item.Name = newName
	folder.RenamePaths(item, oldPath, newPath)
	return nil
}

// RemoveFolder deletes item and its descendants, deepest first.
func (f *Folder) RemoveFolder(ctx context.Context, item *models.FolderItem) error {
	if item.Parent == nil {
		return fmt.Errorf("failed to remove folder: cannot remove the root")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return err
	}
	if err := f.removeFolderLocked(ctx, s, item); err != nil {
		return err
	}
	if err := os.RemoveAll(f.cacheDir(item)); err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to remove folder cache")
	}
	item.Parent.RemoveChild(item)
	return nil
}

func (f *Folder) removeFolderLocked(ctx context.Context, s *Session, item *models.FolderItem) error {
	children := append([]*models.FolderItem(nil), item.Children...)
	for _, c := range children {
		if err := f.removeFolderLocked(ctx, s, c); err != nil {
			return err
		}
	}
	name := f.serverName(item)
	if s.SelectedMailbox() == name {
		if err := s.CloseMailbox(ctx); err != nil {
			return err
		}
	}
	if err := s.Delete(ctx, name); err != nil {
		return err
	}
	f.log.Debug().Str("folder", item.Path).Msg("Removed folder")
	return nil
}

// purgeFiles removes the cached message files of item for which keep
// returns false, or all of them when keep is nil.
func (f *Folder) purgeFiles(item *models.FolderItem, keep func(uint32) bool) error {
	dir := f.cacheDir(item)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return mailerr.New(mailerr.KindLocalIO, "purge", item.Path, err)
	}
	removed := 0
	for _, e := range entries {
		uid, ok := uidFileName(e.Name())
		if !ok || !e.Type().IsRegular() || (keep != nil && keep(uid)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return mailerr.New(mailerr.KindLocalIO, "purge", item.Path, err)
		}
		removed++
	}
	if removed > 0 {
		f.log.Debug().Str("folder", item.Path).Int("count", removed).Msg("Purged cached messages")
	}
	return nil
}

// uidFileName parses the name of a cached message file.
func uidFileName(name string) (uint32, bool) {
	if name == "" || name[0] == '0' {
		return 0, false
	}
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
