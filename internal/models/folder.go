package models

import (
	"sort"
	"strings"
	"sync"
)

type FolderType int

const (
	FolderNormal FolderType = iota
	FolderInbox
	FolderOutbox
	FolderDraft
	FolderQueue
	FolderTrash
	FolderJunk
)

type SortKey int

const (
	SortNone SortKey = iota
	SortNumber
	SortSize
	SortDate
	SortFrom
	SortSubject
	SortUnread
	SortMark
)

type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// FolderItem is one node of a folder tree. Path is the slash separated
// identifier relative to the tree root and doubles as the lookup key that
// summaries use to refer back to their folder.
type FolderItem struct {
	Name     string
	Path     string
	Type     FolderType
	NoSelect bool

	Parent   *FolderItem
	Children []*FolderItem

	New    int
	Unread int
	Total  int

	LastNum uint32
	// Mtime is the validity token: directory mtime for MH, UIDVALIDITY for IMAP.
	Mtime int64

	SortKey   SortKey
	SortOrder SortOrder

	CacheDirty bool
	MarkDirty  bool

	mu   sync.RWMutex
	msgs map[uint32]*MsgInfo
}

func NewFolderItem(name, path string) *FolderItem {
	return &FolderItem{Name: name, Path: path}
}

// IsStrict reports whether cache reconciliation must re-check file sizes
// and mtimes for this folder.
func (f *FolderItem) IsStrict() bool {
	return f.Type == FolderQueue || f.Type == FolderDraft
}

func (f *FolderItem) AddChild(child *FolderItem) {
	child.Parent = f
	f.Children = append(f.Children, child)
}

func (f *FolderItem) RemoveChild(child *FolderItem) {
	for i, c := range f.Children {
		if c == child {
			f.Children = append(f.Children[:i], f.Children[i+1:]...)
			child.Parent = nil
			return
		}
	}
}

// Find returns the descendant (or f itself) whose Path equals path.
func (f *FolderItem) Find(path string) *FolderItem {
	if f.Path == path {
		return f
	}
	for _, c := range f.Children {
		if c.Path != "" && path != c.Path && !strings.HasPrefix(path, c.Path+"/") {
			continue
		}
		if found := c.Find(path); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits f and all descendants depth first, parents before children.
func (f *FolderItem) Walk(fn func(*FolderItem) error) error {
	if err := fn(f); err != nil {
		return err
	}
	for _, c := range f.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// SetMsgs replaces the in-memory summary table and recomputes the counters.
func (f *FolderItem) SetMsgs(list []*MsgInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = make(map[uint32]*MsgInfo, len(list))
	for _, m := range list {
		f.msgs[m.Num] = m
	}
	f.updateCountsLocked()
}

// Msg returns the cached summary for num.
func (f *FolderItem) Msg(num uint32) (*MsgInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.msgs[num]
	return m, ok
}

// Msgs returns the cached summaries ordered by number.
func (f *FolderItem) Msgs() []*MsgInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := make([]*MsgInfo, 0, len(f.msgs))
	for _, m := range f.msgs {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Num < list[j].Num })
	return list
}

// DropMsgs forgets the in-memory summaries without touching counters.
func (f *FolderItem) DropMsgs() {
	f.mu.Lock()
	f.msgs = nil
	f.mu.Unlock()
}

func (f *FolderItem) updateCountsLocked() {
	f.New, f.Unread, f.Total = 0, 0, len(f.msgs)
	for _, m := range f.msgs {
		if m.Flags.Has(FlagNew) {
			f.New++
		}
		if m.Flags.Has(FlagUnread) {
			f.Unread++
		}
	}
}

// RemoveMsg drops num from the in-memory table and adjusts the counters.
// Counters are decremented even when the summary was never loaded.
func (f *FolderItem) RemoveMsg(num uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[num]
	if !ok {
		if f.Total > 0 {
			f.Total--
		}
		return
	}
	delete(f.msgs, num)
	f.Total--
	if msg.Flags.Has(FlagNew) && f.New > 0 {
		f.New--
	}
	if msg.Flags.Has(FlagUnread) && f.Unread > 0 {
		f.Unread--
	}
}

// CountAdded updates the counters for a message stored without reloading
// the folder.
func (f *FolderItem) CountAdded(flags Flags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Total++
	if flags.Has(FlagNew) {
		f.New++
	}
	if flags.Has(FlagUnread) {
		f.Unread++
	}
}

// UpdateMsgFlags replaces the permanent flags of a loaded summary and
// recomputes the counters.
func (f *FolderItem) UpdateMsgFlags(num uint32, perm PermFlags) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[num]
	if !ok {
		return false
	}
	msg.Flags.Perm = perm
	f.updateCountsLocked()
	return true
}
