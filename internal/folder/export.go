package folder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/mailerr"
	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
)

// CopyAcross copies messages between backends that do not share storage:
// each message is exported to a temporary file and the batch is handed to
// dst.AddMsgs, which removes the temporary files once they are stored.
func CopyAcross(ctx context.Context, dst Backend, dest *models.FolderItem, src Backend, srcItem *models.FolderItem, nums []uint32, tmpDir string) (uint32, error) {
	files := make([]models.MsgFileInfo, 0, len(nums))
	cleanup := func() {
		for _, f := range files {
			_ = os.Remove(f.Path)
		}
	}

	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			cleanup()
			return 0, mailerr.New(mailerr.KindCancelled, "copy", srcItem.Path, err)
		}

		path, err := src.FetchMsg(ctx, srcItem, num)
		if err != nil {
			cleanup()
			return 0, fmt.Errorf("failed to fetch message %d: %w", num, err)
		}

		tmp := filepath.Join(tmpDir, "export-"+uuid.NewString())
		if err := copyFile(path, tmp); err != nil {
			cleanup()
			return 0, mailerr.New(mailerr.KindLocalIO, "export", tmp, err)
		}

		info := models.MsgFileInfo{Path: tmp}
		if msg, ok := srcItem.Msg(num); ok {
			flags := msg.Flags
			info.Flags = &flags
		}
		files = append(files, info)
	}

	first, err := dst.AddMsgs(ctx, dest, files, true)
	if err != nil {
		cleanup()
		return first, err
	}
	return first, nil
}

// MoveAcross is CopyAcross followed by removal from the source.
func MoveAcross(ctx context.Context, dst Backend, dest *models.FolderItem, src Backend, srcItem *models.FolderItem, nums []uint32, tmpDir string) (uint32, error) {
	first, err := CopyAcross(ctx, dst, dest, src, srcItem, nums, tmpDir)
	if err != nil {
		return first, err
	}
	if err := src.RemoveMsgs(ctx, srcItem, nums); err != nil {
		return first, fmt.Errorf("failed to remove moved messages: %w", err)
	}
	return first, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
