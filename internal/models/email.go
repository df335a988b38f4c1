package models

import "time"

// PermFlags are the message flags that persist across sessions.
type PermFlags uint32

const (
	FlagNew PermFlags = 1 << iota
	FlagUnread
	FlagMarked
	FlagDeleted
	FlagReplied
	FlagForwarded
)

// TmpFlags live only for the lifetime of a loaded summary.
type TmpFlags uint32

const (
	TmpMIME TmpFlags = 1 << iota
	TmpHTML
	TmpQueued
	TmpDraft
	TmpCached
	TmpEncrypted
)

type Flags struct {
	Perm PermFlags `json:"perm"`
	Tmp  TmpFlags  `json:"tmp,omitempty"`
}

// NewFlags returns the flags of a freshly delivered message.
func NewFlags() Flags {
	return Flags{Perm: FlagNew | FlagUnread}
}

// SetPerm sets p. Setting NEW always sets UNREAD as well.
func (f *Flags) SetPerm(p PermFlags) {
	if p&FlagNew != 0 {
		p |= FlagUnread
	}
	f.Perm |= p
}

// UnsetPerm clears p. Clearing UNREAD always clears NEW as well.
func (f *Flags) UnsetPerm(p PermFlags) {
	if p&FlagUnread != 0 {
		p |= FlagNew
	}
	f.Perm &^= p
}

func (f Flags) Has(p PermFlags) bool {
	return f.Perm&p != 0
}

func (f *Flags) SetTmp(t TmpFlags) {
	f.Tmp |= t
}

func (f *Flags) UnsetTmp(t TmpFlags) {
	f.Tmp &^= t
}

func (f Flags) HasTmp(t TmpFlags) bool {
	return f.Tmp&t != 0
}

// MsgInfo is the summary of one message. Num is the MH file number or the
// IMAP UID; it is unique within the owning folder.
type MsgInfo struct {
	Num        uint32    `json:"num"`
	Size       int64     `json:"size"`
	MTime      time.Time `json:"mtime"`
	Date       string    `json:"date,omitempty"`
	DateTime   time.Time `json:"date_t"`
	From       string    `json:"from,omitempty"`
	FromName   string    `json:"fromname,omitempty"`
	To         string    `json:"to,omitempty"`
	Cc         string    `json:"cc,omitempty"`
	Newsgroups string    `json:"newsgroups,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	MessageID  string    `json:"msgid,omitempty"`
	InReplyTo  string    `json:"inreplyto,omitempty"`
	References []string  `json:"references,omitempty"`
	XFace      string    `json:"xface,omitempty"`
	Flags      Flags     `json:"flags"`

	// Charset is only meaningful while the summary is being parsed.
	Charset string `json:"-"`
	// Folder is the path of the owning folder, used as a lookup key.
	Folder string `json:"-"`
	// File is the on-disk location of the message body, when known.
	File string `json:"-"`
}

// MsgFileInfo names a message file handed to AddMsgs. A nil Flags means the
// message is added as new and unread.
type MsgFileInfo struct {
	Path  string
	Flags *Flags
}

type Header struct {
	Name string `json:"name"`
	Body string `json:"body"`
}
