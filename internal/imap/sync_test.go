package imap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/db"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/header"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

type syncFixture struct {
	srv      *fakeServer
	folder   *Folder
	password *staticPassword
	inbox    *models.FolderItem
	cache    string
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	srv := newFakeServer(t)
	reg := NewRegistry(0, testLogger())
	t.Cleanup(reg.Close)

	pw := &staticPassword{password: "tanstaaftanstaaf"}
	cache := t.TempDir()
	f := NewFolder(srv.account(), pw, reg, header.NewParser(testLogger(), ""), cache, testLogger())
	f.TmpDir = t.TempDir()
	t.Cleanup(func() { _ = f.Disconnect(context.Background()) })

	return &syncFixture{
		srv:      srv,
		folder:   f,
		password: pw,
		inbox:    models.NewFolderItem("INBOX", "INBOX"),
		cache:    cache,
	}
}

// sync runs GetMsgList and writes the cache, the way the folder manager does.
func (fx *syncFixture) sync(t *testing.T) []*models.MsgInfo {
	t.Helper()
	list, err := fx.folder.GetMsgList(context.Background(), fx.inbox, true)
	require.NoError(t, err)
	require.NoError(t, fx.folder.WriteCache(context.Background(), fx.inbox))
	return list
}

func nums(list []*models.MsgInfo) []uint32 {
	out := make([]uint32, 0, len(list))
	for _, m := range list {
		out = append(out, m.Num)
	}
	return out
}

func TestGetMsgList(t *testing.T) {
	t.Run("first sync fetches everything", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two", `\Seen`)

		list := fx.sync(t)

		require.Len(t, list, 2)
		assert.Equal(t, []uint32{1, 2}, nums(list))
		assert.Equal(t, "one", list[0].Subject)
		assert.Equal(t, "INBOX", list[0].Folder)
		assert.Equal(t, models.FlagNew|models.FlagUnread, list[0].Flags.Perm)
		assert.Equal(t, models.PermFlags(0), list[1].Flags.Perm)
		assert.Equal(t, []string{"UID FETCH 1:* (UID FLAGS RFC822.SIZE RFC822.HEADER)"}, fx.srv.recordedWithPrefix("UID FETCH"))
		assert.Empty(t, fx.srv.recordedWithPrefix("UID SEARCH"))

		assert.Equal(t, 2, fx.inbox.Total)
		assert.Equal(t, 1, fx.inbox.Unread)
		assert.Equal(t, 1, fx.inbox.New)
		assert.Equal(t, uint32(2), fx.inbox.LastNum)
		assert.Equal(t, int64(1), fx.inbox.Mtime)
	})

	t.Run("only uncached UIDs are fetched", func(t *testing.T) {
		fx := newSyncFixture(t)
		for _, uid := range []uint32{1, 2, 3, 5} {
			fx.srv.addMsg("INBOX", uid, "cached", `\Seen`)
		}
		fx.sync(t)
		fx.srv.addMsg("INBOX", 4, "four")
		fx.srv.addMsg("INBOX", 6, "six")
		fx.srv.resetRecorded()

		list := fx.sync(t)

		assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, nums(list))
		assert.Equal(t, []string{"UID FETCH 4,6 (UID FLAGS RFC822.SIZE RFC822.HEADER)"}, fx.srv.recordedWithPrefix("UID FETCH"))
		assert.Equal(t, []string{"UID SEARCH ALL", "UID SEARCH UNSEEN", "UID SEARCH FLAGGED", "UID SEARCH ANSWERED"},
			fx.srv.recordedWithPrefix("UID SEARCH"))
		assert.Equal(t, 6, fx.inbox.Total)
		assert.Equal(t, 2, fx.inbox.New)
		assert.Equal(t, uint32(6), fx.inbox.LastNum)
	})

	t.Run("messages deleted on the server are dropped", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two")
		fx.srv.addMsg("INBOX", 3, "three", `\Seen`)
		fx.sync(t)
		file, err := fx.folder.FetchMsg(context.Background(), fx.inbox, 2)
		require.NoError(t, err)
		require.FileExists(t, file)

		fx.srv.removeMsg("INBOX", 2)
		fx.srv.resetRecorded()
		list := fx.sync(t)

		assert.Equal(t, []uint32{1, 3}, nums(list))
		assert.Empty(t, fx.srv.recordedWithPrefix("UID FETCH"))
		assert.NoFileExists(t, file)
		assert.Equal(t, 2, fx.inbox.Total)
		assert.Equal(t, 1, fx.inbox.Unread)
		assert.Equal(t, 1, fx.inbox.New)
		_, ok := fx.inbox.Msg(2)
		assert.False(t, ok)
	})

	t.Run("new UIDVALIDITY discards the cache", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two")
		fx.sync(t)
		file, err := fx.folder.FetchMsg(context.Background(), fx.inbox, 1)
		require.NoError(t, err)

		fx.srv.set(func() { fx.srv.mailboxes["INBOX"].validity = 7 })
		fx.srv.resetRecorded()
		list := fx.sync(t)

		assert.Len(t, list, 2)
		assert.Equal(t, []string{"UID FETCH 1:* (UID FLAGS RFC822.SIZE RFC822.HEADER)"}, fx.srv.recordedWithPrefix("UID FETCH"))
		assert.Empty(t, fx.srv.recordedWithPrefix("UID SEARCH"))
		assert.NoFileExists(t, file)
		assert.Equal(t, int64(7), fx.inbox.Mtime)
	})

	t.Run("new UIDVALIDITY refetches flags from the server", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one", `\Seen`, `\Flagged`)
		fx.srv.addMsg("INBOX", 2, "two")
		fx.srv.addMsg("INBOX", 3, "three", `\Answered`)
		fx.sync(t)

		fx.srv.set(func() { fx.srv.mailboxes["INBOX"].validity = 9 })
		fx.srv.setFlags("INBOX", 3, `\Seen`, `\Answered`)
		list := fx.sync(t)

		require.Equal(t, []uint32{1, 2, 3}, nums(list))
		assert.Equal(t, models.FlagMarked, list[0].Flags.Perm)
		assert.Equal(t, models.FlagNew|models.FlagUnread, list[1].Flags.Perm)
		assert.Equal(t, models.FlagReplied, list[2].Flags.Perm)
		assert.Equal(t, 3, fx.inbox.Total)
		assert.Equal(t, 1, fx.inbox.Unread)
		assert.Equal(t, 1, fx.inbox.New)

		cache, err := db.Open(filepath.Join(fx.cache, "INBOX", db.FileName))
		require.NoError(t, err)
		defer db.Close(cache)
		_, err = db.ReadValidSummaries(cache, 1)
		assert.ErrorIs(t, err, db.ErrNoCache)
		cached, err := db.ReadValidSummaries(cache, 9)
		require.NoError(t, err)
		perms := make(map[uint32]models.PermFlags)
		for _, msg := range cached {
			perms[msg.Num] = msg.Flags.Perm
		}
		assert.Equal(t, map[uint32]models.PermFlags{
			1: models.FlagMarked,
			2: models.FlagNew | models.FlagUnread,
			3: models.FlagReplied,
		}, perms)
	})

	t.Run("deleted flag survives a SEARCH sync", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one", `\Seen`, `\Deleted`)
		fx.srv.addMsg("INBOX", 2, "two", `\Seen`)

		list := fx.sync(t)
		require.Len(t, list, 2)
		require.True(t, list[0].Flags.Has(models.FlagDeleted))

		fx.srv.resetRecorded()
		list = fx.sync(t)

		require.Len(t, list, 2)
		assert.NotEmpty(t, fx.srv.recordedWithPrefix("UID SEARCH"))
		assert.True(t, list[0].Flags.Has(models.FlagDeleted))
		assert.False(t, list[1].Flags.Has(models.FlagDeleted))
	})

	t.Run("empty mailbox clears everything", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two")
		fx.sync(t)
		file, err := fx.folder.FetchMsg(context.Background(), fx.inbox, 1)
		require.NoError(t, err)

		fx.srv.removeMsg("INBOX", 1)
		fx.srv.removeMsg("INBOX", 2)
		fx.srv.resetRecorded()
		list := fx.sync(t)

		assert.NotNil(t, list)
		assert.Empty(t, list)
		assert.NoFileExists(t, file)
		assert.Empty(t, fx.srv.recordedWithPrefix("UID FETCH"))
		assert.Equal(t, 0, fx.inbox.Total)

		cache, err := db.Open(filepath.Join(fx.cache, "INBOX", db.FileName))
		require.NoError(t, err)
		defer db.Close(cache)
		cached, err := db.ReadSummaries(cache)
		require.NoError(t, err)
		assert.Empty(t, cached)
	})

	t.Run("without cache everything is fetched again", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.sync(t)
		fx.srv.resetRecorded()

		list, err := fx.folder.GetMsgList(context.Background(), fx.inbox, false)

		require.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Equal(t, []string{"UID FETCH 1:* (UID FLAGS RFC822.SIZE RFC822.HEADER)"}, fx.srv.recordedWithPrefix("UID FETCH"))
	})

	t.Run("server flags override cached ones", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two", `\Seen`)
		fx.sync(t)

		fx.srv.setFlags("INBOX", 1, `\Seen`, `\Flagged`)
		fx.srv.setFlags("INBOX", 2, `\Answered`)
		list := fx.sync(t)

		require.Len(t, list, 2)
		assert.Equal(t, models.FlagMarked, list[0].Flags.Perm)
		assert.Equal(t, models.FlagUnread|models.FlagReplied, list[1].Flags.Perm)
		assert.Equal(t, 1, fx.inbox.Unread)
		assert.Equal(t, 0, fx.inbox.New)
	})

	t.Run("falls back to FETCH when SEARCH is refused", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two")
		fx.sync(t)
		fx.srv.set(func() { fx.srv.noSearch = true })
		fx.srv.setFlags("INBOX", 2, `\Seen`)
		fx.srv.addMsg("INBOX", 3, "three")
		fx.srv.resetRecorded()

		list := fx.sync(t)

		assert.Equal(t, []uint32{1, 2, 3}, nums(list))
		assert.Equal(t, []string{
			"UID FETCH 1:* (UID FLAGS)",
			"UID FETCH 3 (UID FLAGS RFC822.SIZE RFC822.HEADER)",
		}, fx.srv.recordedWithPrefix("UID FETCH"))
		assert.False(t, list[1].Flags.Has(models.FlagUnread))
	})

	t.Run("progress is reported per message", func(t *testing.T) {
		fx := newSyncFixture(t)
		for uid := uint32(1); uid <= 3; uid++ {
			fx.srv.addMsg("INBOX", uid, "msg")
		}
		var reports []folder.Progress
		ctx := folder.WithProgress(context.Background(), func(p folder.Progress) { reports = append(reports, p) })

		_, err := fx.folder.GetMsgList(ctx, fx.inbox, true)

		require.NoError(t, err)
		require.Len(t, reports, 3)
		assert.Equal(t, folder.Progress{Backend: fx.folder.ID(), Folder: "INBOX", Stage: "fetch", Done: 3, Total: 3}, reports[2])
	})

	t.Run("cancellation returns what was fetched", func(t *testing.T) {
		fx := newSyncFixture(t)
		for uid := uint32(1); uid <= 5; uid++ {
			fx.srv.addMsg("INBOX", uid, "msg")
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ctx = folder.WithProgress(ctx, func(p folder.Progress) {
			if p.Done == 2 {
				cancel()
			}
		})

		list, err := fx.folder.GetMsgList(ctx, fx.inbox, true)

		assert.Equal(t, mailerr.KindCancelled, mailerr.KindOf(err))
		assert.Equal(t, []uint32{1, 2}, nums(list))
		assert.Equal(t, 2, fx.inbox.Total)

		// The session drained the FETCH and stays usable.
		list, err = fx.folder.GetMsgList(context.Background(), fx.inbox, true)
		require.NoError(t, err)
		assert.Len(t, list, 5)
	})

	t.Run("missing mailbox", func(t *testing.T) {
		fx := newSyncFixture(t)

		_, err := fx.folder.GetMsgList(context.Background(), models.NewFolderItem("Nope", "Nope"), true)

		assert.True(t, mailerr.IsNotFound(err))
	})
}

func TestAddMsgs(t *testing.T) {
	writeFiles := func(t *testing.T, n int) []models.MsgFileInfo {
		dir := t.TempDir()
		var files []models.MsgFileInfo
		for i := 0; i < n; i++ {
			p := filepath.Join(dir, string(rune('a'+i)))
			require.NoError(t, os.WriteFile(p, []byte(fakeMessage("added")), 0o600))
			files = append(files, models.MsgFileInfo{Path: p})
		}
		return files
	}

	t.Run("UIDs follow UIDNEXT without UIDPLUS", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.set(func() { fx.srv.mailboxes["INBOX"].next = 100 })
		files := writeFiles(t, 3)

		first, err := fx.folder.AddMsgs(context.Background(), fx.inbox, files, false)

		require.NoError(t, err)
		assert.Equal(t, uint32(100), first)
		assert.Equal(t, uint32(102), fx.inbox.LastNum)
		assert.Equal(t, 3, fx.inbox.Total)
		assert.Equal(t, 3, fx.inbox.New)
		assert.Len(t, fx.srv.recordedWithPrefix("APPEND"), 3)
		assert.FileExists(t, files[0].Path)
	})

	t.Run("APPENDUID is used when offered", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.set(func() {
			fx.srv.uidPlus = true
			fx.srv.mailboxes["INBOX"].next = 40
		})
		files := writeFiles(t, 2)
		seen := models.Flags{}
		files[1].Flags = &seen

		first, err := fx.folder.AddMsgs(context.Background(), fx.inbox, files, true)

		require.NoError(t, err)
		assert.Equal(t, uint32(40), first)
		assert.Equal(t, uint32(41), fx.inbox.LastNum)
		assert.Equal(t, 1, fx.inbox.Unread)
		assert.Len(t, fx.srv.recordedWithPrefix(`APPEND "INBOX" () {`), 1)
		assert.Len(t, fx.srv.recordedWithPrefix(`APPEND "INBOX" (\Seen) {`), 1)
		assert.NoFileExists(t, files[0].Path)
		assert.NoFileExists(t, files[1].Path)
	})

	t.Run("appended messages show up on next sync", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.sync(t)

		_, err := fx.folder.AddMsgs(context.Background(), fx.inbox, writeFiles(t, 2), false)
		require.NoError(t, err)
		list := fx.sync(t)

		assert.Equal(t, []uint32{1, 2}, nums(list))
	})
}

func TestMessageOperations(t *testing.T) {
	setup := func(t *testing.T) *syncFixture {
		fx := newSyncFixture(t)
		fx.srv.set(func() { fx.srv.uidPlus = true })
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two", `\Seen`)
		fx.srv.addMsg("INBOX", 3, "three")
		fx.srv.addMsg("Archive", 20, "old", `\Seen`)
		fx.sync(t)
		return fx
	}

	t.Run("fetch caches the message", func(t *testing.T) {
		fx := setup(t)

		p, err := fx.folder.FetchMsg(context.Background(), fx.inbox, 2)
		require.NoError(t, err)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, fakeMessage("two"), string(data))

		fx.srv.resetRecorded()
		again, err := fx.folder.FetchMsg(context.Background(), fx.inbox, 2)
		require.NoError(t, err)
		assert.Equal(t, p, again)
		assert.Empty(t, fx.srv.recorded())
	})

	t.Run("fetch of a missing UID", func(t *testing.T) {
		fx := setup(t)

		_, err := fx.folder.FetchMsg(context.Background(), fx.inbox, 42)

		assert.True(t, mailerr.IsNotFound(err))
	})

	t.Run("remove", func(t *testing.T) {
		fx := setup(t)

		require.NoError(t, fx.folder.RemoveMsgs(context.Background(), fx.inbox, []uint32{1, 3}))

		assert.Contains(t, fx.srv.recorded(), `UID STORE 1,3 +FLAGS.SILENT (\Deleted)`)
		assert.Equal(t, 1, fx.inbox.Total)
		assert.Equal(t, 0, fx.inbox.Unread)
		assert.Equal(t, []uint32{2}, nums(fx.sync(t)))
	})

	t.Run("remove all", func(t *testing.T) {
		fx := setup(t)

		require.NoError(t, fx.folder.RemoveAllMsg(context.Background(), fx.inbox))

		assert.Equal(t, 0, fx.inbox.Total)
		assert.Empty(t, fx.sync(t))
	})

	t.Run("copy within the account", func(t *testing.T) {
		fx := setup(t)
		archive := models.NewFolderItem("Archive", "Archive")

		first, err := fx.folder.CopyMsgs(context.Background(), archive, fx.folder, fx.inbox, []uint32{1, 2})

		require.NoError(t, err)
		assert.Equal(t, uint32(21), first)
		assert.Equal(t, uint32(22), archive.LastNum)
		assert.Equal(t, 2, archive.Total)
		assert.Equal(t, 1, archive.Unread)
		assert.Contains(t, fx.srv.recorded(), `UID COPY 1:2 "Archive"`)
	})

	t.Run("copy into the same folder is refused", func(t *testing.T) {
		fx := setup(t)

		_, err := fx.folder.CopyMsgs(context.Background(), fx.inbox, fx.folder, fx.inbox, []uint32{1})

		assert.Error(t, err)
	})

	t.Run("move", func(t *testing.T) {
		fx := setup(t)
		archive := models.NewFolderItem("Archive", "Archive")

		_, err := fx.folder.MoveMsgs(context.Background(), archive, fx.folder, fx.inbox, []uint32{3})

		require.NoError(t, err)
		assert.Equal(t, 2, fx.inbox.Total)
		assert.Equal(t, []uint32{1, 2}, nums(fx.sync(t)))
	})

	t.Run("change flags", func(t *testing.T) {
		fx := setup(t)

		require.NoError(t, fx.folder.ChangeFlags(context.Background(), fx.inbox, 1, models.FlagMarked))

		assert.Equal(t, []string{
			`UID STORE 1 +FLAGS.SILENT (\Seen \Flagged)`,
		}, fx.srv.recordedWithPrefix("UID STORE"))
		assert.Equal(t, 1, fx.inbox.Unread)
		msg, ok := fx.inbox.Msg(1)
		require.True(t, ok)
		assert.Equal(t, models.FlagMarked, msg.Flags.Perm)

		list := fx.sync(t)
		assert.Equal(t, models.FlagMarked, list[0].Flags.Perm)
	})

	t.Run("unchanged flags send nothing", func(t *testing.T) {
		fx := setup(t)
		fx.srv.resetRecorded()

		require.NoError(t, fx.folder.ChangeFlags(context.Background(), fx.inbox, 2, 0))

		assert.Empty(t, fx.srv.recorded())
	})
}

func TestFolderSession(t *testing.T) {
	t.Run("wrong password is forgotten", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.password.password = "wrong"

		err := fx.folder.Connect(context.Background())

		assert.True(t, mailerr.IsAuth(err))
		assert.True(t, fx.password.forgotten)
	})

	t.Run("dead session is replaced", func(t *testing.T) {
		fx := newSyncFixture(t)
		s, err := fx.folder.EnsureFresh(context.Background())
		require.NoError(t, err)
		s.Disconnect()

		again, err := fx.folder.EnsureFresh(context.Background())

		require.NoError(t, err)
		assert.NotSame(t, s, again)
		assert.Len(t, fx.srv.recordedWithPrefix("LOGIN"), 2)
	})

	t.Run("idle session is probed", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.folder.IdleCheck = 0
		_, err := fx.folder.EnsureFresh(context.Background())
		require.NoError(t, err)
		fx.srv.resetRecorded()

		_, err = fx.folder.EnsureFresh(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"NOOP"}, fx.srv.recorded())
	})

	t.Run("namespace from the server", func(t *testing.T) {
		fx := newSyncFixture(t)
		fx.srv.set(func() {
			fx.srv.namespace = true
			fx.srv.caps = append(fx.srv.caps, "NAMESPACE")
		})

		require.NoError(t, fx.folder.Connect(context.Background()))

		ns := fx.folder.Namespaces()
		require.NotNil(t, ns)
		assert.Equal(t, byte('/'), ns.Personal[0].Separator)
		assert.Empty(t, fx.srv.recordedWithPrefix("LIST"))
	})

	t.Run("delimiter fallback", func(t *testing.T) {
		fx := newSyncFixture(t)

		require.NoError(t, fx.folder.Connect(context.Background()))

		assert.Equal(t, []string{`LIST "" ""`}, fx.srv.recordedWithPrefix("LIST"))
		assert.Equal(t, byte('/'), fx.folder.Namespaces().Personal[0].Separator)
	})

	t.Run("sessions are registered", func(t *testing.T) {
		srv := newFakeServer(t)
		reg := NewRegistry(0, testLogger())
		defer reg.Close()
		f := NewFolder(srv.account(), &staticPassword{password: "tanstaaftanstaaf"}, reg,
			header.NewParser(testLogger(), ""), t.TempDir(), testLogger())

		require.NoError(t, f.Connect(context.Background()))
		assert.Equal(t, 1, reg.Len())

		require.NoError(t, f.Disconnect(context.Background()))
		assert.Equal(t, 0, reg.Len())
	})
}

func TestFolderTree(t *testing.T) {
	setup := func(t *testing.T) (*syncFixture, *models.FolderItem) {
		fx := newSyncFixture(t)
		fx.srv.addMsg("INBOX", 1, "one")
		fx.srv.addMsg("INBOX", 2, "two", `\Seen`)
		fx.srv.set(func() {
			fx.srv.mailbox("Sent")
			fx.srv.mailbox("Work").noselect = true
			fx.srv.mailbox("Work/Projects")
		})
		root := models.NewFolderItem("", "")
		require.NoError(t, fx.folder.ScanTree(context.Background(), root))
		return fx, root
	}

	t.Run("scan", func(t *testing.T) {
		_, root := setup(t)

		inbox := root.Find("INBOX")
		require.NotNil(t, inbox)
		assert.Equal(t, models.FolderInbox, inbox.Type)
		assert.Equal(t, 2, inbox.Total)
		assert.Equal(t, 1, inbox.Unread)

		sent := root.Find("Sent")
		require.NotNil(t, sent)
		assert.Equal(t, models.FolderOutbox, sent.Type)

		work := root.Find("Work")
		require.NotNil(t, work)
		assert.True(t, work.NoSelect)
		projects := root.Find("Work/Projects")
		require.NotNil(t, projects)
		assert.False(t, projects.NoSelect)
		assert.Same(t, work, projects.Parent)
	})

	t.Run("vanished folders are removed", func(t *testing.T) {
		fx, root := setup(t)
		fx.srv.set(func() { delete(fx.srv.mailboxes, "Sent") })

		require.NoError(t, fx.folder.ScanTree(context.Background(), root))

		assert.Nil(t, root.Find("Sent"))
		assert.NotNil(t, root.Find("INBOX"))
	})

	t.Run("create rename remove", func(t *testing.T) {
		fx, root := setup(t)
		work := root.Find("Work")

		item, err := fx.folder.CreateFolder(context.Background(), work, "Drafts")
		require.NoError(t, err)
		assert.Equal(t, "Work/Drafts", item.Path)
		assert.Contains(t, fx.srv.recorded(), `CREATE "Work/Drafts"`)

		require.NoError(t, fx.folder.RenameFolder(context.Background(), work, "Job"))
		assert.Equal(t, "Job", work.Path)
		assert.Equal(t, "Job/Drafts", item.Path)
		assert.Equal(t, "Job/Projects", root.Find("Job/Projects").Path)
		assert.Contains(t, fx.srv.recorded(), `RENAME "Work" "Job"`)

		require.NoError(t, fx.folder.RemoveFolder(context.Background(), work))
		assert.Nil(t, root.Find("Job"))
		assert.Equal(t, []string{`DELETE "Job/Projects"`, `DELETE "Job/Drafts"`, `DELETE "Job"`},
			fx.srv.recordedWithPrefix("DELETE"))
	})

	t.Run("INBOX cannot be renamed", func(t *testing.T) {
		fx, root := setup(t)

		err := fx.folder.RenameFolder(context.Background(), root.Find("INBOX"), "Old")

		assert.True(t, mailerr.IsNotSupported(err))
	})

	t.Run("renaming the selected folder closes it first", func(t *testing.T) {
		fx, root := setup(t)
		sent := root.Find("Sent")
		_, err := fx.folder.GetMsgList(context.Background(), sent, true)
		require.NoError(t, err)
		fx.srv.resetRecorded()

		require.NoError(t, fx.folder.RenameFolder(context.Background(), sent, "Outgoing"))

		assert.Equal(t, []string{"CLOSE", `RENAME "Sent" "Outgoing"`}, fx.srv.recorded())
	})
}
