package folder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// Manager runs folder syncs. At most one sync per backend and folder is in
// flight at a time; concurrent callers for the same folder share its result.
type Manager struct {
	group    singleflight.Group
	progress ProgressFunc
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger, progress ProgressFunc) *Manager {
	return &Manager{progress: progress, log: log}
}

// Sync loads the message list of item through b. A caller whose ctx is
// cancelled gets what its own sync fetched until it stopped, at the next
// message boundary. A caller that joined another caller's sync stops
// waiting and gets nothing.
func (m *Manager) Sync(ctx context.Context, b Backend, item *models.FolderItem, useCache bool) ([]*models.MsgInfo, error) {
	key := b.ID() + "\x00" + item.Path

	var leader atomic.Bool
	ch := m.group.DoChan(key, func() (interface{}, error) {
		leader.Store(true)
		syncCtx := WithProgress(ctx, m.progress)
		ReportProgress(syncCtx, Progress{Backend: b.ID(), Folder: item.Path, Stage: "start"})

		list, err := b.GetMsgList(syncCtx, item, useCache)
		if err != nil {
			m.log.Warn().Err(err).Str("backend", b.ID()).Str("folder", item.Path).
				Int("partial", len(list)).Msg("Folder sync incomplete")
		} else if item.CacheDirty || item.MarkDirty {
			if werr := b.WriteCache(syncCtx, item); werr != nil {
				m.log.Warn().Err(werr).Str("folder", item.Path).Msg("Failed to write folder cache")
			}
		}

		ReportProgress(syncCtx, Progress{Backend: b.ID(), Folder: item.Path, Stage: "done", Done: len(list), Total: len(list)})
		return list, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if !leader.Load() {
			return nil, mailerr.New(mailerr.KindCancelled, "sync", item.Path, ctx.Err())
		}
		res = <-ch
	}
	list, _ := res.Val.([]*models.MsgInfo)
	return list, res.Err
}

// SyncTree syncs every selectable folder below root. A failing folder does
// not stop the others; the returned error joins all failures.
func (m *Manager) SyncTree(ctx context.Context, b Backend, root *models.FolderItem, useCache bool) error {
	var errs []error
	_ = root.Walk(func(item *models.FolderItem) error {
		if item.NoSelect || (item.Parent == nil && item.Path == "") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.Sync(ctx, b, item, useCache); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync %s: %w", item.Path, err))
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		errs = append(errs, mailerr.New(mailerr.KindCancelled, "sync tree", root.Path, err))
	}
	return errors.Join(errs...)
}
