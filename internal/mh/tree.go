package mh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/db"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

var specialFolders = map[string]models.FolderType{
	"inbox":  models.FolderInbox,
	"sent":   models.FolderOutbox,
	"outbox": models.FolderOutbox,
	"queue":  models.FolderQueue,
	"draft":  models.FolderDraft,
	"drafts": models.FolderDraft,
	"trash":  models.FolderTrash,
	"junk":   models.FolderJunk,
}

// ScanTree walks the directory tree below root and makes the children of
// root match it: new directories become folders, vanished ones are
// dropped. Counters are taken from the persisted marks and the number of
// message files, without parsing any message.
func (f *Folder) ScanTree(ctx context.Context, root *models.FolderItem) error {
	if _, err := os.Stat(f.dirOf(root)); err != nil {
		return mailerr.New(mailerr.KindNotFound, "scan_tree", root.Path, err)
	}
	return f.scanDir(ctx, root)
}

func (f *Folder) scanDir(ctx context.Context, item *models.FolderItem) error {
	if err := ctx.Err(); err != nil {
		return mailerr.New(mailerr.KindCancelled, "scan_tree", item.Path, err)
	}

	entries, err := os.ReadDir(f.dirOf(item))
	if err != nil {
		return mailerr.New(mailerr.KindLocalIO, "scan_tree", item.Path, err)
	}

	existing := make(map[string]*models.FolderItem, len(item.Children))
	for _, c := range item.Children {
		existing[c.Name] = c
	}

	seen := make(map[string]bool)
	var nums []uint32
	for _, e := range entries {
		name := e.Name()
		if n, ok := msgNumber(name); ok {
			if e.Type().IsRegular() {
				nums = append(nums, n)
			}
			continue
		}
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		child, ok := existing[name]
		if !ok {
			child = models.NewFolderItem(name, path.Join(item.Path, name))
			if item.Parent == nil {
				child.Type = specialFolders[strings.ToLower(name)]
			}
			item.AddChild(child)
			f.log.Debug().Str("folder", child.Path).Msg("Found new folder")
		}
		seen[name] = true
		if err := f.scanDir(ctx, child); err != nil {
			return err
		}
	}

	for name, child := range existing {
		if !seen[name] {
			f.log.Debug().Str("folder", child.Path).Msg("Folder vanished")
			item.RemoveChild(child)
		}
	}

	f.updateCounts(item, nums)
	return nil
}

// updateCounts sets the counters of item from its marks. Message files
// without a mark count as new and unread.
func (f *Folder) updateCounts(item *models.FolderItem, nums []uint32) {
	var marks map[uint32]models.PermFlags
	cachePath := filepath.Join(f.dirOf(item), db.FileName)
	if fileExists(cachePath) {
		cache, err := db.Open(cachePath)
		if err == nil {
			marks, err = db.ReadMarks(cache)
			db.Close(cache)
		}
		if err != nil {
			f.log.Warn().Err(err).Str("folder", item.Path).Msg("Failed to read marks")
		}
	}

	item.Total, item.New, item.Unread = len(nums), 0, 0
	item.LastNum = 0
	for _, n := range nums {
		if n > item.LastNum {
			item.LastNum = n
		}
		perm, ok := marks[n]
		if !ok {
			perm = models.FlagNew | models.FlagUnread
		}
		if perm&models.FlagNew != 0 {
			item.New++
			item.Unread++
		} else if perm&models.FlagUnread != 0 {
			item.Unread++
		}
	}
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid folder name %q", name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("folder name %q contains a path separator", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("folder name %q is hidden", name)
	}
	if _, ok := msgNumber(name); ok {
		return fmt.Errorf("folder name %q would be taken for a message", name)
	}
	return nil
}

// CreateFolder makes a subdirectory of parent and adds it to the tree.
func (f *Folder) CreateFolder(ctx context.Context, parent *models.FolderItem, name string) (*models.FolderItem, error) {
	if err := validName(name); err != nil {
		return nil, mailerr.New(mailerr.KindUnknown, "create_folder", parent.Path, err)
	}
	child := models.NewFolderItem(name, path.Join(parent.Path, name))
	if err := os.Mkdir(f.dirOf(child), 0o700); err != nil {
		return nil, mailerr.New(mailerr.KindLocalIO, "create_folder", child.Path, err)
	}
	parent.AddChild(child)
	return child, nil
}

// RenameFolder renames the directory of item; item keeps its parent.
func (f *Folder) RenameFolder(ctx context.Context, item *models.FolderItem, newName string) error {
	if item.Parent == nil {
		return mailerr.New(mailerr.KindUnknown, "rename_folder", item.Path, errors.New("cannot rename the root folder"))
	}
	if err := validName(newName); err != nil {
		return mailerr.New(mailerr.KindUnknown, "rename_folder", item.Path, err)
	}

	oldPath := item.Path
	newPath := path.Join(item.Parent.Path, newName)
	newDir := filepath.Join(f.root, filepath.FromSlash(newPath))
	if fileExists(newDir) {
		return mailerr.New(mailerr.KindLocalIO, "rename_folder", newPath, os.ErrExist)
	}
	if err := os.Rename(f.dirOf(item), newDir); err != nil {
		return mailerr.New(mailerr.KindLocalIO, "rename_folder", item.Path, err)
	}

	item.Name = newName
	folder.RenamePaths(item, oldPath, newPath)
	return nil
}

// RemoveFolder deletes the directory of item with everything below it.
func (f *Folder) RemoveFolder(ctx context.Context, item *models.FolderItem) error {
	if item.Parent == nil {
		return mailerr.New(mailerr.KindUnknown, "remove_folder", item.Path, errors.New("cannot remove the root folder"))
	}
	if err := os.RemoveAll(f.dirOf(item)); err != nil {
		return mailerr.New(mailerr.KindLocalIO, "remove_folder", item.Path, err)
	}
	item.Parent.RemoveChild(item)
	return nil
}
