// Package folder holds what the MH and IMAP backends share: the backend
// contract, cache reconciliation, sorting and the sync manager.
package folder

import (
	"context"
	"errors"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// ErrNoSuchFolder is returned when a folder path does not resolve.
var ErrNoSuchFolder = errors.New("no such folder")

// Backend is implemented by every mailbox store.
//
// Message lists are returned as partial results together with the error
// when an operation stops halfway, so callers can still show what was
// gathered.
type Backend interface {
	// ID identifies the store; two backends with equal IDs share storage.
	ID() string

	ScanTree(ctx context.Context, root *models.FolderItem) error
	GetMsgList(ctx context.Context, item *models.FolderItem, useCache bool) ([]*models.MsgInfo, error)
	// FetchMsg returns the path of a local file holding the full message.
	FetchMsg(ctx context.Context, item *models.FolderItem, num uint32) (string, error)
	// AddMsgs stores the files in dest and returns the number given to the first one.
	AddMsgs(ctx context.Context, dest *models.FolderItem, files []models.MsgFileInfo, removeSource bool) (uint32, error)
	CopyMsgs(ctx context.Context, dest *models.FolderItem, src Backend, srcItem *models.FolderItem, nums []uint32) (uint32, error)
	MoveMsgs(ctx context.Context, dest *models.FolderItem, src Backend, srcItem *models.FolderItem, nums []uint32) (uint32, error)
	RemoveMsgs(ctx context.Context, item *models.FolderItem, nums []uint32) error
	RemoveAllMsg(ctx context.Context, item *models.FolderItem) error
	ChangeFlags(ctx context.Context, item *models.FolderItem, num uint32, perm models.PermFlags) error
	// WriteCache persists the loaded summaries and marks of item when dirty.
	WriteCache(ctx context.Context, item *models.FolderItem) error

	CreateFolder(ctx context.Context, parent *models.FolderItem, name string) (*models.FolderItem, error)
	RenameFolder(ctx context.Context, item *models.FolderItem, newName string) error
	RemoveFolder(ctx context.Context, item *models.FolderItem) error
}

// Progress describes how far a long running operation got.
type Progress struct {
	Backend string `json:"backend"`
	Folder  string `json:"folder"`
	Stage   string `json:"stage"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
}

type ProgressFunc func(Progress)

type progressKey struct{}

// WithProgress attaches fn to ctx; backends report through ReportProgress.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

func ReportProgress(ctx context.Context, p Progress) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(p)
	}
}

// RenamePaths rewrites the path of item and all of its descendants after
// the folder moved from oldPath to newPath.
func RenamePaths(item *models.FolderItem, oldPath, newPath string) {
	_ = item.Walk(func(f *models.FolderItem) error {
		switch {
		case f.Path == oldPath:
			f.Path = newPath
		case len(f.Path) > len(oldPath) && f.Path[:len(oldPath)+1] == oldPath+"/":
			f.Path = newPath + f.Path[len(oldPath):]
		default:
			return nil
		}
		for _, msg := range f.Msgs() {
			msg.Folder = f.Path
		}
		return nil
	})
}
