package fsys

import "errors"

// Sentinel errors returned by Partition operations. Grounded on the
// original's convention of returning -1 for "operation failed, reason
// implied by context" (fs/fs.c, fs/file.c, fs/dir.c); here every
// failure mode gets its own value instead.
var (
	ErrNoSpace        = errors.New("fsys: no free inode or block")
	ErrNotFound        = errors.New("fsys: no such file or directory")
	ErrExists          = errors.New("fsys: file already exists")
	ErrNotADirectory   = errors.New("fsys: not a directory")
	ErrIsADirectory    = errors.New("fsys: is a directory")
	ErrInvalidPath     = errors.New("fsys: invalid path")
	ErrTooManyOpenFiles = errors.New("fsys: too many open files")
	ErrBadFD           = errors.New("fsys: bad file descriptor")
	ErrDirNotEmpty     = errors.New("fsys: directory not empty")
	ErrBadSuperBlock   = errors.New("fsys: bad super block magic")
)
