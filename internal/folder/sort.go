package folder

import (
	"sort"
	"strings"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// SortMsgList orders list in place by the folder's sort key. Ties and
// SortNone fall back to message number.
func SortMsgList(list []*models.MsgInfo, key models.SortKey, order models.SortOrder) {
	compare := func(a, b *models.MsgInfo) int {
		switch key {
		case models.SortSize:
			return cmpInt64(a.Size, b.Size)
		case models.SortDate:
			return cmpInt64(a.DateTime.Unix(), b.DateTime.Unix())
		case models.SortFrom:
			return strings.Compare(strings.ToLower(a.FromName), strings.ToLower(b.FromName))
		case models.SortSubject:
			return strings.Compare(strings.ToLower(stripReply(a.Subject)), strings.ToLower(stripReply(b.Subject)))
		case models.SortUnread:
			return cmpBool(a.Flags.Has(models.FlagUnread), b.Flags.Has(models.FlagUnread))
		case models.SortMark:
			return cmpBool(a.Flags.Has(models.FlagMarked), b.Flags.Has(models.FlagMarked))
		}
		return 0
	}

	sort.SliceStable(list, func(i, j int) bool {
		c := compare(list[i], list[j])
		if c == 0 {
			c = cmpInt64(int64(list[i].Num), int64(list[j].Num))
		}
		if order == models.SortDescending {
			return c > 0
		}
		return c < 0
	})
}

// stripReply removes leading "Re:" markers for subject ordering.
func stripReply(s string) string {
	for {
		t := strings.TrimSpace(s)
		if len(t) >= 3 && strings.EqualFold(t[:3], "re:") {
			s = t[3:]
			continue
		}
		return t
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
