package imap

import (
	"bytes"
	"context"
	"errors"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/db"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

const summaryItems = "(UID FLAGS RFC822.SIZE RFC822.HEADER)"

// GetMsgList brings the summaries of item in line with the server.
//
// The cache is only trusted while the mailbox keeps its UIDVALIDITY. With a
// usable cache the server's UIDs and flags are compared against it:
// messages gone from the server are dropped, flags are updated and only
// UIDs missing from the cache are fetched. Otherwise everything is fetched
// again. On failure the summaries gathered so far are returned with the
// error.
func (f *Folder) GetMsgList(ctx context.Context, item *models.FolderItem, useCache bool) ([]*models.MsgInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.ensureFreshLocked(ctx)
	if err != nil {
		return nil, err
	}
	name := f.serverName(item)
	st, err := s.Select(ctx, name)
	if err != nil {
		return nil, err
	}
	validity := int64(st.UIDValidity)

	if st.Exists == 0 {
		f.log.Debug().Str("folder", item.Path).Msg("Mailbox is empty, dropping cache")
		if err := f.purgeFiles(item, nil); err != nil {
			return nil, err
		}
		if err := f.withCache(item, db.Clear); err != nil {
			return nil, err
		}
		item.SetMsgs(nil)
		item.Mtime = validity
		item.CacheDirty = false
		return []*models.MsgInfo{}, nil
	}

	var cached []*models.MsgInfo
	if useCache {
		err := f.withCache(item, func(cache *bolt.DB) error {
			var err error
			cached, err = db.ReadValidSummaries(cache, validity)
			return err
		})
		switch {
		case errors.Is(err, db.ErrNoCache):
			f.log.Debug().Str("folder", item.Path).Uint32("uidvalidity", st.UIDValidity).
				Msg("No cache for this UIDVALIDITY, fetching everything")
			useCache = false
		case err != nil:
			f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to read cache, fetching everything")
			useCache = false
		}
	}

	var list []*models.MsgInfo
	var lastUID uint32
	if useCache {
		list, lastUID, err = f.syncCached(ctx, s, item, cached)
	} else {
		list, lastUID, err = f.syncAll(ctx, s, item, int(st.Exists))
	}

	folder.SetFolder(list, item.Path)
	folder.SortMsgList(list, item.SortKey, item.SortOrder)
	item.SetMsgs(list)
	item.Mtime = validity
	if lastUID > 0 {
		item.LastNum = lastUID
	}
	return list, err
}

// syncCached reconciles cached against the server state and fetches the
// UIDs it lacks. It returns the highest UID on the server.
func (f *Folder) syncCached(ctx context.Context, s *Session, item *models.FolderItem, cached []*models.MsgInfo) ([]*models.MsgInfo, uint32, error) {
	server, err := f.serverFlags(ctx, s, item)
	if err != nil {
		for _, msg := range cached {
			msg.Flags.SetTmp(models.TmpCached)
		}
		return cached, folder.MaxNum(cached), err
	}

	uids := make([]uint32, 0, len(server))
	for uid := range server {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	kept, uncached, removed := folder.Reconcile(cached, uids)
	if len(removed) > 0 {
		f.log.Debug().Str("folder", item.Path).Int("count", len(removed)).Msg("Messages deleted on server")
		item.CacheDirty = true
		f.forget(item, removed)
	}

	for _, msg := range kept {
		merged := server[msg.Num].merge(msg.Flags)
		if merged.Perm != msg.Flags.Perm {
			msg.Flags = merged
			item.CacheDirty = true
		}
	}

	if len(uids) == 0 {
		return kept, 0, nil
	}
	lo, hi := uids[0], uids[len(uids)-1]
	if err := f.purgeFiles(item, func(uid uint32) bool { return uid >= lo && uid <= hi }); err != nil {
		f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to purge stale messages")
	}

	if len(uncached) == 0 {
		return kept, hi, nil
	}
	f.log.Debug().Str("folder", item.Path).Int("cached", len(kept)).Int("fetch", len(uncached)).Msg("Fetching new messages")
	fetched, err := f.fetchSummaries(ctx, s, item, uidSet(uncached), len(uncached))
	if len(fetched) > 0 {
		item.CacheDirty = true
	}
	return append(kept, fetched...), hi, err
}

// syncAll drops the local cache and fetches every summary.
func (f *Folder) syncAll(ctx context.Context, s *Session, item *models.FolderItem, exists int) ([]*models.MsgInfo, uint32, error) {
	if err := f.purgeFiles(item, nil); err != nil {
		return nil, 0, err
	}
	if err := f.withCache(item, db.Clear); err != nil {
		return nil, 0, err
	}
	item.CacheDirty = true

	list, err := f.fetchSummaries(ctx, s, item, "1:*", exists)
	return list, folder.MaxNum(list), err
}

// serverFlags learns the UIDs and flags of the selected mailbox, from four
// searches when the server allows, from a bulk FETCH otherwise.
func (f *Folder) serverFlags(ctx context.Context, s *Session, item *models.FolderItem) (map[uint32]serverFlags, error) {
	flags, err := searchFlags(ctx, s)
	if err == nil {
		return flags, nil
	}
	if mailerr.KindOf(err) == mailerr.KindCancelled {
		return nil, err
	}
	f.log.Debug().Err(err).Str("folder", item.Path).Msg("SEARCH failed, falling back to FETCH")

	if !s.Alive() {
		// The search broke the connection: log in again and reselect.
		f.dropSession()
		if s, err = f.connectLocked(ctx); err != nil {
			return nil, err
		}
		if _, err = s.Select(ctx, f.serverName(item)); err != nil {
			return nil, err
		}
	}
	flags = make(map[uint32]serverFlags)
	err = s.UIDFetch(ctx, "1:*", "(UID FLAGS)", func(fi *FetchItem) error {
		flags[fi.UID] = parseServerFlags(fi.Flags)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flags, nil
}

func searchFlags(ctx context.Context, s *Session) (map[uint32]serverFlags, error) {
	all, err := s.UIDSearch(ctx, "ALL")
	if err != nil {
		return nil, err
	}
	flags := make(map[uint32]serverFlags, len(all))
	for _, uid := range all {
		flags[uid] = serverFlags{seen: true}
	}

	apply := func(criteria string, fn func(*serverFlags)) error {
		uids, err := s.UIDSearch(ctx, criteria)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			if sf, ok := flags[uid]; ok {
				fn(&sf)
				flags[uid] = sf
			}
		}
		return nil
	}
	if err := apply("UNSEEN", func(sf *serverFlags) { sf.seen = false }); err != nil {
		return nil, err
	}
	if err := apply("FLAGGED", func(sf *serverFlags) { sf.flagged = true }); err != nil {
		return nil, err
	}
	if err := apply("ANSWERED", func(sf *serverFlags) { sf.answered = true }); err != nil {
		return nil, err
	}
	return flags, nil
}

// fetchSummaries fetches and parses the headers of set. Cancellation is
// honoured between messages; what was parsed until then is returned.
func (f *Folder) fetchSummaries(ctx context.Context, s *Session, item *models.FolderItem, set string, total int) ([]*models.MsgInfo, error) {
	var list []*models.MsgInfo
	err := s.UIDFetch(ctx, set, summaryItems, func(fi *FetchItem) error {
		if err := ctx.Err(); err != nil {
			return mailerr.New(mailerr.KindCancelled, "get_msg_list", item.Path, err)
		}

		flags := models.Flags{Perm: parseServerFlags(fi.Flags).initialPerm()}
		msg, err := f.parser.ParseStream(bytes.NewReader(fi.Header), flags, false, false)
		if err != nil {
			f.log.Warn().Err(err).Str("folder", item.Path).Uint32("uid", fi.UID).Msg("Skipping unparseable header")
			return nil
		}
		msg.Num = fi.UID
		msg.Size = fi.Size
		list = append(list, msg)

		folder.ReportProgress(ctx, folder.Progress{
			Backend: f.ID(), Folder: item.Path, Stage: "fetch", Done: len(list), Total: total,
		})
		return nil
	})
	return list, err
}

func (f *Folder) withCache(item *models.FolderItem, fn func(*bolt.DB) error) error {
	cache, err := f.openCache(item)
	if err != nil {
		return err
	}
	defer db.Close(cache)
	if err := fn(cache); err != nil {
		if errors.Is(err, db.ErrNoCache) {
			return err
		}
		return mailerr.New(mailerr.KindLocalIO, "cache", item.Path, err)
	}
	return nil
}
