// Package archive packages a box directory as a Vagrant .box file: a tar
// stream wrapped in gzip.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/jbweber/boxforge/internal/progress"
)

// Member modes. Vagrant unpacks boxes as the invoking user, so ownership is
// not recorded.
const (
	FileMode = 0o644
	DirMode  = 0o755
)

// Pack writes every file below srcDir into a gzip-compressed tar at dst.
// Each file is streamed through progress.Copy so large disks show their own
// bar, labelled prefix plus the file name. The archive is written next to
// dst and renamed into place once complete.
func Pack(ctx context.Context, srcDir, dst string, rep *progress.Reporter, prefix string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(ctx, tmp, srcDir, rep, prefix); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	committed = true
	return nil
}

func write(ctx context.Context, w io.Writer, srcDir string, rep *progress.Reporter, prefix string) error {
	zw := gzip.NewWriter(w)
	tw := tar.NewWriter(zw)

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     filepath.ToSlash(rel) + "/",
				Mode:     DirMode,
				ModTime:  info.ModTime(),
			})
		case info.Mode().IsRegular():
			return addFile(tw, path, filepath.ToSlash(rel), info, rep, prefix)
		default:
			return fmt.Errorf("%s: unsupported file type %v", path, info.Mode().Type())
		}
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path, name string, info fs.FileInfo, rep *progress.Reporter, prefix string) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     FileMode,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	n, err := progress.Copy(tw, f, info.Size(), rep, prefix+filepath.Base(path))
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("%s changed size while archiving", path)
	}
	return nil
}
