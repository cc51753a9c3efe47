package disk

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Owner is a resolved uid/gid pair.
type Owner struct {
	Name string
	UID  int
	GID  int
}

// LookupOwner resolves a user name to its uid and primary gid.
func LookupOwner(name string) (Owner, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Owner{}, fmt.Errorf("failed to lookup %s user: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Owner{}, fmt.Errorf("invalid UID for %s user: %w", name, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Owner{}, fmt.Errorf("invalid GID for %s user: %w", name, err)
	}
	return Owner{Name: name, UID: uid, GID: gid}, nil
}

// Chown gives path to o, leaving the group unchanged.
func (o Owner) Chown(path string) error {
	if err := os.Lchown(path, o.UID, -1); err != nil {
		return fmt.Errorf("failed to set ownership on %s: %w", path, err)
	}
	return nil
}

// ChownAll gives path and everything below it to o.
func (o Owner) ChownAll(root string) error {
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return o.Chown(path)
	})
}

// FreeSpaceGB returns the space available to unprivileged users on the
// filesystem holding dir.
func FreeSpaceGB(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats for %s: %w", dir, err)
	}
	return (uint64(stat.Bavail) * uint64(stat.Bsize)) / (1024 * 1024 * 1024), nil
}

// CheckFreeSpace fails when the filesystem holding dir has less than needGB.
func CheckFreeSpace(dir string, needGB int) error {
	available, err := FreeSpaceGB(dir)
	if err != nil {
		return err
	}
	if uint64(needGB) > available {
		return fmt.Errorf("insufficient disk space in %s: need %dGB, have %dGB available", dir, needGB, available)
	}
	return nil
}
