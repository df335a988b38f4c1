package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/header"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// resolve scans the tree and returns the folder at path.
func (a *app) resolve(ctx context.Context, path string) (*models.FolderItem, *models.FolderItem, error) {
	root, err := a.stores.Tree(ctx, a.backend)
	if err != nil {
		return nil, nil, err
	}
	if path == "" || path == "/" {
		return root, root, nil
	}
	item := root.Find(strings.Trim(path, "/"))
	if item == nil {
		return nil, nil, mailerr.New(mailerr.KindNotFound, "resolve", path, folder.ErrNoSuchFolder)
	}
	return root, item, nil
}

// load resolves path and reads its message list from the cache or server.
func (a *app) load(ctx context.Context, path string, useCache bool) (*models.FolderItem, []*models.MsgInfo, error) {
	_, item, err := a.resolve(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	list, err := a.manager.Sync(ctx, a.backend, item, useCache)
	return item, list, err
}

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Show the folder tree with message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := a.resolve(cmd.Context(), "")
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), root)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		sortBy  string
		reverse bool
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "list FOLDER",
		Short: "List the messages of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseSortKey(sortBy)
			if err != nil {
				return err
			}
			_, list, err := a.load(cmd.Context(), args[0], !noCache)
			if err != nil && len(list) == 0 {
				return err
			}
			order := models.SortAscending
			if reverse {
				order = models.SortDescending
			}
			folder.SortMsgList(list, key, order)
			printMsgTable(cmd.OutOrStdout(), list)
			return err
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "number", "sort key: number, size, date, from, subject, unread, mark")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "sort descending")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore cached summaries")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var pathOnly bool
	cmd := &cobra.Command{
		Use:   "fetch FOLDER NUM",
		Short: "Print a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNums(args[1:])
			if err != nil {
				return err
			}
			_, item, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			path, err := a.backend.FetchMsg(cmd.Context(), item, nums[0])
			if err != nil {
				return err
			}
			if pathOnly {
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}
			return catFile(cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path", false, "print the local file name instead of the message")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var (
		remove bool
		seen   bool
	)
	cmd := &cobra.Command{
		Use:   "add FOLDER FILE...",
		Short: "Store message files in a folder",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, item, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			files := make([]models.MsgFileInfo, 0, len(args)-1)
			for _, p := range args[1:] {
				info := models.MsgFileInfo{Path: p}
				if seen {
					info.Flags = &models.Flags{}
				}
				files = append(files, info)
			}
			first, err := a.backend.AddMsgs(cmd.Context(), item, files, remove)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d message(s) to %s starting at %d\n", len(files), item.Path, first)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "delete the source files once stored")
	cmd.Flags().BoolVar(&seen, "seen", false, "store the messages as read")
	return cmd
}

func newCopyCmd(a *app, move bool) *cobra.Command {
	use, short := "copy", "Copy messages to another folder"
	if move {
		use, short = "move", "Move messages to another folder"
	}
	return &cobra.Command{
		Use:   use + " SRC DEST NUM...",
		Short: short,
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNums(args[2:])
			if err != nil {
				return err
			}
			root, src, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			dest := root.Find(strings.Trim(args[1], "/"))
			if dest == nil {
				return mailerr.New(mailerr.KindNotFound, use, args[1], folder.ErrNoSuchFolder)
			}
			if _, err := a.manager.Sync(cmd.Context(), a.backend, src, true); err != nil {
				return err
			}

			var first uint32
			if move {
				first, err = a.backend.MoveMsgs(cmd.Context(), dest, a.backend, src, nums)
			} else {
				first, err = a.backend.CopyMsgs(cmd.Context(), dest, a.backend, src, nums)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d message(s) now in %s starting at %d\n", len(nums), dest.Path, first)
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm FOLDER NUM...",
		Short: "Delete messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNums(args[1:])
			if err != nil {
				return err
			}
			item, _, err := a.load(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			return a.backend.RemoveMsgs(cmd.Context(), item, nums)
		},
	}
}

func newRemoveAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-all FOLDER",
		Short: "Delete every message of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, item, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.backend.RemoveAllMsg(cmd.Context(), item)
		},
	}
}

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PARENT NAME",
		Short: "Create a folder; use / as PARENT for the top level",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, parent, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			item, err := a.backend.CreateFolder(cmd.Context(), parent, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.Path)
			return nil
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename FOLDER NEWNAME",
		Short: "Rename a folder in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, item, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.backend.RenameFolder(cmd.Context(), item, args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.Path)
			return nil
		},
	}
}

func newRmdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir FOLDER",
		Short: "Remove a folder and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, item, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.backend.RemoveFolder(cmd.Context(), item)
		},
	}
}

func newFlagCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flag FOLDER NUM CHANGE...",
		Short: "Change message flags, e.g. +seen -marked +replied",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNums(args[1:2])
			if err != nil {
				return err
			}
			item, _, err := a.load(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			msg, ok := item.Msg(nums[0])
			if !ok {
				return mailerr.New(mailerr.KindNotFound, "flag", args[0], fmt.Errorf("no message %d", nums[0]))
			}
			flags, err := applyFlagChanges(msg.Flags, args[2:])
			if err != nil {
				return err
			}
			if err := a.backend.ChangeFlags(cmd.Context(), item, nums[0], flags.Perm); err != nil {
				return err
			}
			if item.MarkDirty || item.CacheDirty {
				if err := a.backend.WriteCache(cmd.Context(), item); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", nums[0], formatFlags(flags))
			return nil
		},
	}
}

func newHeadersCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "headers FOLDER NUM",
		Short: "Print the decoded header of a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNums(args[1:])
			if err != nil {
				return err
			}
			_, item, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			path, err := a.backend.FetchMsg(cmd.Context(), item, nums[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			var headers []models.Header
			if all {
				headers, err = header.GetHeaderList(bufio.NewReader(f), a.cfg.FallbackCharset)
			} else {
				rules, rerr := a.cfg.DisplayRules()
				if rerr != nil {
					return rerr
				}
				headers, err = header.GetHeaderArrayForDisplay(bufio.NewReader(f), a.cfg.FallbackCharset, rules)
			}
			if err != nil {
				return err
			}
			for _, h := range headers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", h.Name, h.Body)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every header in message order")
	return cmd
}

func parseNums(args []string) ([]uint32, error) {
	nums := make([]uint32, 0, len(args))
	for _, s := range args {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid message number %q", s)
		}
		nums = append(nums, uint32(n))
	}
	return nums, nil
}

func catFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func printTree(w io.Writer, root *models.FolderItem) {
	_ = root.Walk(func(item *models.FolderItem) error {
		if item == root {
			return nil
		}
		depth := strings.Count(item.Path, "/")
		line := strings.Repeat("  ", depth) + item.Name
		if item.NoSelect {
			fmt.Fprintln(w, line)
			return nil
		}
		fmt.Fprintf(w, "%s (%d/%d/%d)\n", line, item.New, item.Unread, item.Total)
		return nil
	})
}

func printMsgTable(w io.Writer, list []*models.MsgInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Num", "Flags", "Date", "From", "Subject"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, msg := range list {
		date := ""
		if !msg.DateTime.IsZero() {
			date = msg.DateTime.Format("2006-01-02 15:04")
		}
		from := msg.FromName
		if from == "" {
			from = msg.From
		}
		table.Append([]string{strconv.FormatUint(uint64(msg.Num), 10), formatFlags(msg.Flags), date, from, msg.Subject})
	}
	table.Render()
}
