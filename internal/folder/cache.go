package folder

import (
	"sort"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// MsgTable indexes summaries by message number.
func MsgTable(list []*models.MsgInfo) map[uint32]*models.MsgInfo {
	table := make(map[uint32]*models.MsgInfo, len(list))
	for _, msg := range list {
		table[msg.Num] = msg
	}
	return table
}

// Reconcile compares cached summaries with the numbers currently present.
// Summaries still present are returned with the cached flag set; numbers
// without a summary are returned sorted so the caller can parse them.
// removed lists, ascending, the numbers of cached summaries whose message
// has gone.
func Reconcile(cached []*models.MsgInfo, present []uint32) (kept []*models.MsgInfo, uncached []uint32, removed []uint32) {
	table := MsgTable(cached)
	seen := make(map[uint32]struct{}, len(present))

	for _, n := range present {
		seen[n] = struct{}{}
		if _, ok := table[n]; !ok {
			uncached = append(uncached, n)
		}
	}

	kept = make([]*models.MsgInfo, 0, len(cached))
	for _, msg := range cached {
		if _, ok := seen[msg.Num]; !ok {
			removed = append(removed, msg.Num)
			continue
		}
		msg.Flags.SetTmp(models.TmpCached)
		kept = append(kept, msg)
	}

	sort.Slice(uncached, func(i, j int) bool { return uncached[i] < uncached[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return kept, uncached, removed
}

// ApplyMarks overrides permanent flags with the persisted mark records.
// Messages without a record keep their flags.
func ApplyMarks(list []*models.MsgInfo, marks map[uint32]models.PermFlags) {
	for _, msg := range list {
		perm, ok := marks[msg.Num]
		if !ok {
			continue
		}
		if perm&models.FlagNew != 0 {
			perm |= models.FlagUnread
		}
		msg.Flags.Perm = perm
	}
}

// MaxNum returns the highest message number in list.
func MaxNum(list []*models.MsgInfo) uint32 {
	var max uint32
	for _, msg := range list {
		if msg.Num > max {
			max = msg.Num
		}
	}
	return max
}

// SetFolder records path as the owning folder of every summary in list.
func SetFolder(list []*models.MsgInfo, path string) {
	for _, msg := range list {
		msg.Folder = path
	}
}
