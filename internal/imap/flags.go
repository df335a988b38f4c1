package imap

import (
	"strings"

	goimap "github.com/emersion/go-imap"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// Special-use mailbox attributes (RFC 6154).
const (
	attrSent   = `\Sent`
	attrDrafts = `\Drafts`
	attrTrash  = `\Trash`
	attrJunk   = `\Junk`
)

// serverFlags is the flag state of one message as the server sees it.
// withDeleted is false when deleted was not asked for, as on the SEARCH path.
type serverFlags struct {
	seen        bool
	flagged     bool
	answered    bool
	deleted     bool
	withDeleted bool
}

func parseServerFlags(flags []string) serverFlags {
	f := serverFlags{withDeleted: true}
	for _, flag := range flags {
		switch {
		case strings.EqualFold(flag, goimap.SeenFlag):
			f.seen = true
		case strings.EqualFold(flag, goimap.FlaggedFlag):
			f.flagged = true
		case strings.EqualFold(flag, goimap.AnsweredFlag):
			f.answered = true
		case strings.EqualFold(flag, goimap.DeletedFlag):
			f.deleted = true
		}
	}
	return f
}

// initialPerm converts server flags of a message seen for the first time.
// Unseen messages start out as new.
func (f serverFlags) initialPerm() models.PermFlags {
	var perm models.PermFlags
	if !f.seen {
		perm |= models.FlagNew | models.FlagUnread
	}
	if f.flagged {
		perm |= models.FlagMarked
	}
	if f.answered {
		perm |= models.FlagReplied
	}
	if f.deleted {
		perm |= models.FlagDeleted
	}
	return perm
}

// merge applies the server state to the locally known flags. The server
// has no notion of NEW, so it is only ever cleared, when the message has
// been seen. DELETED is left alone unless the server reported it.
func (f serverFlags) merge(local models.Flags) models.Flags {
	if f.seen {
		local.UnsetPerm(models.FlagUnread)
	} else {
		local.Perm |= models.FlagUnread
	}
	setIf(&local, models.FlagMarked, f.flagged)
	setIf(&local, models.FlagReplied, f.answered)
	if f.withDeleted {
		setIf(&local, models.FlagDeleted, f.deleted)
	}
	return local
}

func setIf(flags *models.Flags, p models.PermFlags, on bool) {
	if on {
		flags.Perm |= p
	} else {
		flags.Perm &^= p
	}
}

// imapFlags lists the system flags that correspond to perm. NEW has no
// counterpart; an unread message simply lacks \Seen.
func imapFlags(perm models.PermFlags) []string {
	var out []string
	if perm&models.FlagUnread == 0 {
		out = append(out, goimap.SeenFlag)
	}
	if perm&models.FlagMarked != 0 {
		out = append(out, goimap.FlaggedFlag)
	}
	if perm&models.FlagReplied != 0 {
		out = append(out, goimap.AnsweredFlag)
	}
	if perm&models.FlagDeleted != 0 {
		out = append(out, goimap.DeletedFlag)
	}
	return out
}

// storeChanges splits a change from old to perm into the flags to add and
// the flags to remove.
func storeChanges(old, perm models.PermFlags) (add, remove []string) {
	type pair struct {
		flag string
		on   func(models.PermFlags) bool
	}
	pairs := []pair{
		{goimap.SeenFlag, func(p models.PermFlags) bool { return p&models.FlagUnread == 0 }},
		{goimap.FlaggedFlag, func(p models.PermFlags) bool { return p&models.FlagMarked != 0 }},
		{goimap.AnsweredFlag, func(p models.PermFlags) bool { return p&models.FlagReplied != 0 }},
		{goimap.DeletedFlag, func(p models.PermFlags) bool { return p&models.FlagDeleted != 0 }},
	}
	for _, p := range pairs {
		was, is := p.on(old), p.on(perm)
		switch {
		case is && !was:
			add = append(add, p.flag)
		case was && !is:
			remove = append(remove, p.flag)
		}
	}
	return add, remove
}
