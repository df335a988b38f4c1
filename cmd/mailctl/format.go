package main

import (
	"fmt"
	"strings"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

var sortKeys = map[string]models.SortKey{
	"none":    models.SortNone,
	"number":  models.SortNumber,
	"size":    models.SortSize,
	"date":    models.SortDate,
	"from":    models.SortFrom,
	"subject": models.SortSubject,
	"unread":  models.SortUnread,
	"mark":    models.SortMark,
}

func parseSortKey(s string) (models.SortKey, error) {
	key, ok := sortKeys[strings.ToLower(s)]
	if !ok {
		return models.SortNone, fmt.Errorf("unknown sort key %q", s)
	}
	return key, nil
}

// flagNames maps the words accepted by the flag command. "seen" is the
// inverse of unread.
var flagNames = map[string]models.PermFlags{
	"new":       models.FlagNew,
	"unread":    models.FlagUnread,
	"marked":    models.FlagMarked,
	"deleted":   models.FlagDeleted,
	"replied":   models.FlagReplied,
	"forwarded": models.FlagForwarded,
}

// applyFlagChanges applies changes such as "+marked" or "-seen" to flags.
func applyFlagChanges(flags models.Flags, changes []string) (models.Flags, error) {
	for _, c := range changes {
		if len(c) < 2 || (c[0] != '+' && c[0] != '-') {
			return flags, fmt.Errorf("invalid flag change %q, want +name or -name", c)
		}
		set := c[0] == '+'
		name := strings.ToLower(c[1:])
		if name == "seen" {
			name, set = "unread", !set
		}
		f, ok := flagNames[name]
		if !ok {
			return flags, fmt.Errorf("unknown flag %q", c[1:])
		}
		if set {
			flags.SetPerm(f)
		} else {
			flags.UnsetPerm(f)
		}
	}
	return flags, nil
}

// formatFlags renders flags as a fixed width column: N new, U unread,
// ! marked, D deleted, R replied, F forwarded.
func formatFlags(flags models.Flags) string {
	cols := []struct {
		flag models.PermFlags
		char byte
	}{
		{models.FlagNew, 'N'},
		{models.FlagUnread, 'U'},
		{models.FlagMarked, '!'},
		{models.FlagDeleted, 'D'},
		{models.FlagReplied, 'R'},
		{models.FlagForwarded, 'F'},
	}
	out := make([]byte, len(cols))
	for i, c := range cols {
		out[i] = '-'
		if flags.Has(c.flag) {
			out[i] = c.char
		}
	}
	return string(out)
}
