// Package mh implements folder.Backend on top of an MH style directory
// tree: one directory per folder, one file per message named by its
// decimal number.
package mh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/db"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/header"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// Folder is the MH backend rooted at a single directory.
type Folder struct {
	root   string
	parser *header.Parser
	log    zerolog.Logger

	// Strict forces the size and mtime check of cached summaries for
	// every folder, not only queue and draft folders.
	Strict bool
	// TmpDir receives exported messages when copying from another backend.
	TmpDir string
}

var _ folder.Backend = (*Folder)(nil)

func New(root string, parser *header.Parser, log zerolog.Logger) *Folder {
	return &Folder{
		root:   root,
		parser: parser,
		log:    log.With().Str("backend", "mh").Logger(),
		TmpDir: os.TempDir(),
	}
}

func (f *Folder) ID() string { return "mh:" + f.root }

func (f *Folder) Root() string { return f.root }

func (f *Folder) dirOf(item *models.FolderItem) string {
	return filepath.Join(f.root, filepath.FromSlash(item.Path))
}

func (f *Folder) msgPath(item *models.FolderItem, num uint32) string {
	return filepath.Join(f.dirOf(item), strconv.FormatUint(uint64(num), 10))
}

func (f *Folder) openCache(item *models.FolderItem) (*bolt.DB, error) {
	cache, err := db.Open(filepath.Join(f.dirOf(item), db.FileName))
	if err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "open cache", item.Path, err)
	}
	return cache, nil
}

// GetMsgList returns the summaries of item sorted by its sort settings.
//
// With useCache the directory mtime is compared against the token stored
// with the cache; an unchanged mtime means the cached list is used as is.
// Otherwise cached summaries are reconciled against the files on disk and
// only new files are parsed. Without useCache every file is parsed.
func (f *Folder) GetMsgList(ctx context.Context, item *models.FolderItem, useCache bool) ([]*models.MsgInfo, error) {
	dir := f.dirOf(item)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, mailerr.New(mailerr.KindNotFound, "get_msg_list", item.Path, folder.ErrNoSuchFolder)
		}
		return nil, mailerr.New(mailerr.KindLocalIO, "get_msg_list", item.Path, err)
	}

	cache, err := f.openCache(item)
	if err != nil {
		return nil, err
	}
	defer db.Close(cache)

	// Taken after the cache file exists so creating it does not count as a change.
	mtime, err := dirMtime(dir)
	if err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "get_msg_list", item.Path, err)
	}

	var list []*models.MsgInfo
	var scanErr error
	if useCache {
		list, err = db.ReadValidSummaries(cache, mtime)
		if err == nil && (f.Strict || item.IsStrict()) {
			if n := len(list); len(f.dropChanged(item, list)) != n {
				list = nil
			}
		}
		switch {
		case err == nil && len(list) > 0:
			f.log.Debug().Str("folder", item.Path).Int("count", len(list)).Msg("Folder unchanged, using cache")
			for _, msg := range list {
				msg.Flags.SetTmp(models.TmpCached)
			}
			if last, lerr := db.LastNum(cache); lerr == nil && last > item.LastNum {
				item.LastNum = last
			}
		case err != nil && !errors.Is(err, db.ErrNoCache):
			f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to read cache, rescanning")
			fallthrough
		default:
			list, scanErr = f.reconcile(ctx, item, cache, dir)
		}
	} else {
		list, scanErr = f.parseAll(ctx, item, dir)
	}

	marks, err := db.ReadMarks(cache)
	if err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to read marks")
	}
	folder.ApplyMarks(list, marks)
	folder.SetFolder(list, item.Path)
	folder.SortMsgList(list, item.SortKey, item.SortOrder)

	item.SetMsgs(list)
	item.Mtime = mtime
	if last := folder.MaxNum(list); last > item.LastNum {
		item.LastNum = last
	}

	return list, scanErr
}

func (f *Folder) reconcile(ctx context.Context, item *models.FolderItem, cache *bolt.DB, dir string) ([]*models.MsgInfo, error) {
	present, err := scanNumbers(dir)
	if err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "scan", item.Path, err)
	}
	if len(present) > 0 {
		item.LastNum = present[len(present)-1]
	} else {
		item.LastNum = 0
	}

	cached, err := db.ReadSummaries(cache)
	if err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to read cached summaries")
		cached = nil
	}
	_, _, gone := folder.Reconcile(cached, present)
	if f.Strict || item.IsStrict() {
		cached = f.dropChanged(item, cached)
	}

	kept, uncached, removed := folder.Reconcile(cached, present)
	if len(removed) > 0 {
		item.CacheDirty = true
	}
	// A number that comes back later belongs to a different message.
	if len(gone) > 0 {
		if err := db.DeleteMessages(cache, gone); err != nil {
			f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to drop marks of removed messages")
		}
	}
	f.log.Debug().Str("folder", item.Path).Int("cached", len(kept)).Int("new", len(uncached)).
		Int("removed", len(removed)).Msg("Reconciled folder")

	parsed, err := f.parseNums(ctx, item, uncached)
	if len(parsed) > 0 {
		item.CacheDirty = true
	}
	return append(kept, parsed...), err
}

func (f *Folder) parseAll(ctx context.Context, item *models.FolderItem, dir string) ([]*models.MsgInfo, error) {
	present, err := scanNumbers(dir)
	if err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "scan", item.Path, err)
	}
	item.LastNum = 0
	if len(present) > 0 {
		item.LastNum = present[len(present)-1]
	}
	list, err := f.parseNums(ctx, item, present)
	item.CacheDirty = true
	return list, err
}

// parseNums parses the given messages; the list gathered so far is returned
// when ctx is cancelled.
func (f *Folder) parseNums(ctx context.Context, item *models.FolderItem, nums []uint32) ([]*models.MsgInfo, error) {
	list := make([]*models.MsgInfo, 0, len(nums))
	for i, num := range nums {
		if err := ctx.Err(); err != nil {
			return list, mailerr.New(mailerr.KindCancelled, "get_msg_list", item.Path, err)
		}

		msg, err := f.parser.ParseFile(f.msgPath(item, num), initialFlags(item), false, false)
		if err != nil {
			f.log.Warn().Err(err).Str("folder", item.Path).Uint32("num", num).Msg("Skipping unreadable message")
			continue
		}
		msg.Num = num
		list = append(list, msg)

		folder.ReportProgress(ctx, folder.Progress{
			Backend: f.ID(), Folder: item.Path, Stage: "parse", Done: i + 1, Total: len(nums),
		})
	}
	return list, nil
}

// dropChanged removes cached summaries whose file vanished or no longer
// matches the recorded size and mtime.
func (f *Folder) dropChanged(item *models.FolderItem, cached []*models.MsgInfo) []*models.MsgInfo {
	out := cached[:0]
	for _, msg := range cached {
		fi, err := os.Stat(f.msgPath(item, msg.Num))
		if err != nil || fi.Size() != msg.Size || !fi.ModTime().Equal(msg.MTime) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func initialFlags(item *models.FolderItem) models.Flags {
	flags := models.NewFlags()
	switch item.Type {
	case models.FolderQueue:
		flags.SetTmp(models.TmpQueued)
	case models.FolderDraft:
		flags.SetTmp(models.TmpDraft)
	}
	return flags
}

// FetchMsg returns the path of message num. A number beyond the known
// last number triggers a rescan first, as the file may have been added by
// another program.
func (f *Folder) FetchMsg(ctx context.Context, item *models.FolderItem, num uint32) (string, error) {
	if num == 0 {
		return "", mailerr.NotFound("fetch_msg", item.Path)
	}
	if num > item.LastNum {
		if err := f.updateLastNum(item); err != nil {
			return "", err
		}
		if num > item.LastNum {
			return "", mailerr.NotFound("fetch_msg", fmt.Sprintf("%s/%d", item.Path, num))
		}
	}

	path := f.msgPath(item, num)
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return "", mailerr.NotFound("fetch_msg", path)
	}
	return path, nil
}

func (f *Folder) updateLastNum(item *models.FolderItem) error {
	present, err := scanNumbers(f.dirOf(item))
	if err != nil {
		return mailerr.New(mailerr.KindLocalIO, "scan", item.Path, err)
	}
	item.LastNum = 0
	if len(present) > 0 {
		item.LastNum = present[len(present)-1]
	}
	return nil
}

// AddMsgs stores files in dest under fresh numbers after the last one,
// skipping numbers whose file already exists. A failure stops the batch;
// messages already stored stay. Sources are removed only after every file
// was stored.
func (f *Folder) AddMsgs(ctx context.Context, dest *models.FolderItem, files []models.MsgFileInfo, removeSource bool) (uint32, error) {
	if len(files) == 0 {
		return 0, nil
	}
	dir := f.dirOf(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, mailerr.New(mailerr.KindLocalIO, "add_msgs", dest.Path, err)
	}
	if dest.LastNum == 0 {
		if err := f.updateLastNum(dest); err != nil {
			return 0, err
		}
	}

	cache, err := f.openCache(dest)
	if err != nil {
		return 0, err
	}
	defer db.Close(cache)
	defer func() {
		if err := db.InvalidateToken(cache); err != nil {
			f.log.Warn().Err(err).Str("folder", dest.Path).Msg("Failed to invalidate cache")
		}
	}()

	var first uint32
	next := dest.LastNum + 1
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return first, mailerr.New(mailerr.KindCancelled, "add_msgs", dest.Path, err)
		}

		for fileExists(f.msgPath(dest, next)) {
			next++
		}
		path := f.msgPath(dest, next)
		if err := linkOrCopy(file.Path, path); err != nil {
			return first, mailerr.New(mailerr.KindLocalIO, "add_msgs", path, err)
		}

		flags := models.NewFlags()
		if file.Flags != nil {
			flags = *file.Flags
		}
		if err := db.PutMark(cache, next, flags.Perm); err != nil {
			f.log.Warn().Err(err).Str("folder", dest.Path).Uint32("num", next).Msg("Failed to write mark")
		}
		dest.CountAdded(flags)

		if first == 0 {
			first = next
		}
		dest.LastNum = next
		next++
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

// CopyMsgs copies nums from srcItem into dest. Messages from another
// backend are exported to temporary files first.
func (f *Folder) CopyMsgs(ctx context.Context, dest *models.FolderItem, src folder.Backend, srcItem *models.FolderItem, nums []uint32) (uint32, error) {
	if src.ID() != f.ID() {
		return folder.CopyAcross(ctx, f, dest, src, srcItem, nums, f.TmpDir)
	}
	if dest.Path == srcItem.Path {
		return 0, fmt.Errorf("failed to copy messages: %s is both source and destination", dest.Path)
	}
	return f.AddMsgs(ctx, dest, f.localFiles(srcItem, nums), false)
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

func (f *Folder) localFiles(item *models.FolderItem, nums []uint32) []models.MsgFileInfo {
	files := make([]models.MsgFileInfo, 0, len(nums))
	for _, num := range nums {
		info := models.MsgFileInfo{Path: f.msgPath(item, num)}
		if msg, ok := item.Msg(num); ok {
			flags := msg.Flags
			info.Flags = &flags
		}
		files = append(files, info)
	}
	return files
}

func (f *Folder) RemoveMsg(ctx context.Context, item *models.FolderItem, num uint32) error {
	return f.RemoveMsgs(ctx, item, []uint32{num})
}

// RemoveMsgs deletes the message files and their cache records. Removing
// the highest numbered message rescans the folder for the new last number.
func (f *Folder) RemoveMsgs(ctx context.Context, item *models.FolderItem, nums []uint32) error {
	cache, err := f.openCache(item)
	if err != nil {
		return err
	}
	defer db.Close(cache)

	var removed []uint32
	var rescan bool
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			break
		}
		path := f.msgPath(item, num)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.finishRemove(cache, item, removed)
			return mailerr.New(mailerr.KindLocalIO, "remove_msg", path, err)
		}
		item.RemoveMsg(num)
		removed = append(removed, num)
		if num == item.LastNum {
			rescan = true
		}
	}
	f.finishRemove(cache, item, removed)

	if rescan {
		if err := f.updateLastNum(item); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return mailerr.New(mailerr.KindCancelled, "remove_msg", item.Path, err)
	}
	return nil
}

func (f *Folder) finishRemove(cache *bolt.DB, item *models.FolderItem, removed []uint32) {
	if len(removed) == 0 {
		return
	}
	if err := db.DeleteMessages(cache, removed); err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to drop cached messages")
	}
	if err := db.InvalidateToken(cache); err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to invalidate cache")
	}
}

// RemoveAllMsg deletes every message of item and empties its cache.
func (f *Folder) RemoveAllMsg(ctx context.Context, item *models.FolderItem) error {
	dir := f.dirOf(item)
	present, err := scanNumbers(dir)
	if err != nil {
		return mailerr.New(mailerr.KindLocalIO, "remove_all_msg", item.Path, err)
	}
	for _, num := range present {
		if err := ctx.Err(); err != nil {
			return mailerr.New(mailerr.KindCancelled, "remove_all_msg", item.Path, err)
		}
		if err := os.Remove(f.msgPath(item, num)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return mailerr.New(mailerr.KindLocalIO, "remove_all_msg", item.Path, err)
		}
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
	item.LastNum = 0
	item.CacheDirty = false
	item.MarkDirty = false
	return nil
}

// ChangeFlags records new permanent flags for num.
func (f *Folder) ChangeFlags(ctx context.Context, item *models.FolderItem, num uint32, perm models.PermFlags) error {
	cache, err := f.openCache(item)
	if err != nil {
		return err
	}
	defer db.Close(cache)

	if err := db.PutMark(cache, num, perm); err != nil {
		return mailerr.New(mailerr.KindLocalIO, "change_flags", item.Path, err)
	}
	item.UpdateMsgFlags(num, perm)
	return nil
}

// WriteCache stores the loaded summaries and marks of item, tagged with the
// directory mtime observed when they were loaded.
func (f *Folder) WriteCache(ctx context.Context, item *models.FolderItem) error {
	cache, err := f.openCache(item)
	if err != nil {
		return err
	}
	defer db.Close(cache)

	list := item.Msgs()
	if item.CacheDirty {
		if err := db.WriteSummaries(cache, item.Mtime, item.LastNum, list); err != nil {
			return mailerr.New(mailerr.KindLocalIO, "write_cache", item.Path, err)
		}
		item.CacheDirty = false
	}
	if item.MarkDirty {
		if err := db.WriteMarks(cache, list); err != nil {
			return mailerr.New(mailerr.KindLocalIO, "write_cache", item.Path, err)
		}
		item.MarkDirty = false
	}
	return nil
}

// scanNumbers returns the message numbers present in dir in ascending order.
func scanNumbers(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var nums []uint32
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if n, ok := msgNumber(e.Name()); ok {
			nums = append(nums, n)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

// msgNumber parses a message file name: decimal digits only, no leading zero.
func msgNumber(name string) (uint32, bool) {
	if name == "" || name[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func dirMtime(dir string) (int64, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	return fi.ModTime().UnixNano(), nil
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
