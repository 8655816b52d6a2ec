//go:build linux

package logging

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// creationTime returns the inode change time of path, the closest
// thing to a creation time most unix filesystems expose.
func creationTime(path string, info fs.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	sec, nsec := st.Ctim.Unix()
	return time.Unix(sec, nsec)
}
