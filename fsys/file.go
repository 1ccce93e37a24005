package fsys

import (
	"context"
)

// maxGlobalFDs is the size of the process-wide open-file table.
// Grounded on MAX_FILE_OPEN in fs/file.h.
const maxGlobalFDs = 1024

// Reserved fds 0, 1, 2 stand for stdin/stdout/stderr; get_global_fd in
// fs/file.c starts its scan at index 3 (spec.md's supplemented
// features), so this package never hands either of these three out as
// an on-disk file descriptor.
const (
	StdinFD  = 0
	StdoutFD = 1
	StderrFD = 2
	firstUserFD = 3
)

// openFile is one entry in the global open-file table: an inode
// reference, the next read/write position, and the flags it was opened
// with. Grounded on struct file in fs/file.h.
type openFile struct {
	inode    *inodeElem
	position uint32
	flags    OpenFlag
	isDir    bool
	dirPos   int // next listEntries index for ReadDir
}

// OpenFlag mirrors the O_* flags file_create/file_open switch on in
// fs/file.c.
type OpenFlag int

const (
	OFlagReadOnly OpenFlag = 1 << iota
	OFlagWriteOnly
	OFlagReadWrite
	OFlagCreate
)

func (p *Partition) allocGlobalFD() (int, error) {
	for i := firstUserFD; i < maxGlobalFDs; i++ {
		if p.openFiles[i] == nil {
			return i, nil
		}
	}
	return 0, ErrTooManyOpenFiles
}

// Open resolves path to an inode (creating it if OFlagCreate is set and
// it does not exist) and returns a global file descriptor positioned at
// offset 0. Grounded on file_open / file_create in fs/file.c.
func (p *Partition) Open(ctx context.Context, path string, flags OpenFlag) (int, error) {
	p.mu.Acquire()
	defer p.mu.Release()

	dir, base, err := p.resolveParentDir(ctx, path)
	if err != nil {
		return 0, err
	}
	defer p.closeInode(dir)

	e, err := p.dirSearch(ctx, dir, base)
	switch {
	case err == nil:
		if e.IsDir {
			return 0, ErrIsADirectory
		}
	case err == ErrNotFound && flags&OFlagCreate != 0:
		if verr := validName(base); verr != nil {
			return 0, verr
		}
		no, aerr := p.allocInodeNo()
		if aerr != nil {
			return 0, aerr
		}
		ie := p.createInode(no)
		if serr := p.syncInode(ctx, ie); serr != nil {
			p.releaseInodeNo(no)
			p.closeInode(ie)
			return 0, serr
		}
		if serr := p.syncInodeBitmap(ctx); serr != nil {
			p.releaseInodeNo(no)
			p.closeInode(ie)
			return 0, serr
		}
		e = dirEntry{Filename: base, IsDir: false, InodeNo: no}
		if derr := p.dirCreateEntry(ctx, dir, e); derr != nil {
			p.closeInode(ie)
			p.releaseInodeNo(no)
			p.syncInodeBitmap(ctx)
			return 0, derr
		}
		p.closeInode(ie) // reopened below, uniformly, for both the create and existing-file paths
	default:
		return 0, err
	}

	ie, err := p.openInode(ctx, e.InodeNo)
	if err != nil {
		return 0, err
	}
	fd, err := p.allocGlobalFD()
	if err != nil {
		p.closeInode(ie)
		return 0, err
	}
	p.openFiles[fd] = &openFile{inode: ie, flags: flags}
	return fd, nil
}

// Close releases a global file descriptor. Grounded on sys_close's
// file_close / dir_close split in fs/file.c and fs/dir.c.
func (p *Partition) Close(fd int) error {
	p.mu.Acquire()
	defer p.mu.Release()
	of, err := p.fd(fd)
	if err != nil {
		return err
	}
	p.closeInode(of.inode)
	p.openFiles[fd] = nil
	return nil
}

func (p *Partition) fd(fd int) (*openFile, error) {
	if fd < firstUserFD || fd >= maxGlobalFDs || p.openFiles[fd] == nil {
		return nil, ErrBadFD
	}
	return p.openFiles[fd], nil
}

// Read copies up to len(buf) bytes starting at the descriptor's current
// position, advancing it by the number of bytes read. Returns (0, nil)
// at end of file, matching spec.md §4.5.
func (p *Partition) Read(ctx context.Context, fdNo int, buf []byte) (int, error) {
	p.mu.Acquire()
	defer p.mu.Release()
	of, err := p.fd(fdNo)
	if err != nil {
		return 0, err
	}
	if of.isDir {
		return 0, ErrIsADirectory
	}
	return p.fileRead(ctx, of, buf)
}

// Write copies len(data) bytes into the file starting at the
// descriptor's current position, growing the file (and, lazily, its
// block allocation) as needed, and advances the position. Grounded on
// file_write / inode_write in fs/inode.c: blocks lying wholly inside a
// gap between the old size and a seek-past-EOF write position are
// allocated but never written (spec.md §9 Open Question #1); a partially
// written block that starts at or past the old size is built from a
// zeroed buffer.
func (p *Partition) Write(ctx context.Context, fdNo int, data []byte) (int, error) {
	p.mu.Acquire()
	defer p.mu.Release()
	of, err := p.fd(fdNo)
	if err != nil {
		return 0, err
	}
	if of.isDir {
		return 0, ErrIsADirectory
	}
	return p.fileWrite(ctx, of, data)
}

// Lseek repositions fd's read/write cursor. whence follows the
// conventional 0=set/1=cur/2=end meanings.
func (p *Partition) Lseek(fdNo int, offset int64, whence int) (int64, error) {
	p.mu.Acquire()
	defer p.mu.Release()
	of, err := p.fd(fdNo)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = int64(of.position)
	case 2:
		base = int64(of.inode.inode.Size)
	default:
		return 0, ErrInvalidPath
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, ErrInvalidPath
	}
	of.position = uint32(newPos)
	return newPos, nil
}

func (p *Partition) fileRead(ctx context.Context, of *openFile, buf []byte) (int, error) {
	ie := of.inode
	if of.position >= ie.inode.Size {
		return 0, nil
	}
	toRead := len(buf)
	remaining := ie.inode.Size - of.position
	if uint32(toRead) > remaining {
		toRead = int(remaining)
	}
	read := 0
	pos := of.position
	tmp := make([]byte, blockSize)
	for read < toRead {
		secIdx := pos / blockSize
		off := pos % blockSize
		chunk := blockSize - off
		if uint32(toRead-read) < chunk {
			chunk = uint32(toRead - read)
		}
		if err := p.readBlock(ctx, ie, secIdx, tmp); err != nil {
			return read, err
		}
		copy(buf[read:read+int(chunk)], tmp[off:off+chunk])
		read += int(chunk)
		pos += chunk
	}
	of.position += uint32(read)
	return read, nil
}

func (p *Partition) fileWrite(ctx context.Context, of *openFile, data []byte) (int, error) {
	ie := of.inode
	n := uint32(len(data))
	curBlocks := ceilDiv(ie.inode.Size, blockSize)
	neededBlocks := ceilDiv(of.position+n, blockSize)
	if neededBlocks > curBlocks {
		if err := p.growInode(ctx, ie, int(neededBlocks-curBlocks)); err != nil {
			return 0, err
		}
	}

	written := 0
	pos := of.position
	buf := make([]byte, blockSize)
	for uint32(written) < n {
		secIdx := pos / blockSize
		off := pos % blockSize
		chunk := blockSize - off
		if n-uint32(written) < chunk {
			chunk = n - uint32(written)
		}
		if off != 0 || chunk != blockSize {
			if secIdx*blockSize < ie.inode.Size {
				if err := p.readBlock(ctx, ie, secIdx, buf); err != nil && err != ErrNotFound {
					return written, err
				}
			} else {
				for i := range buf {
					buf[i] = 0
				}
			}
		}
		copy(buf[off:off+chunk], data[written:written+int(chunk)])
		if err := p.writeBlock(ctx, ie, secIdx, buf); err != nil {
			return written, err
		}
		pos += chunk
		written += int(chunk)
	}

	newSize := of.position + uint32(written)
	if newSize > ie.inode.Size {
		ie.inode.Size = newSize
	}
	if err := p.syncInode(ctx, ie); err != nil {
		return written, err
	}
	of.position += uint32(written)
	return written, nil
}

// Unlink removes path's directory entry, then frees the file's inode
// number and every block it owned, whether or not descriptors to the
// file are still open. Grounded on sys_unlink in fs/file.c / fs/fs.c.
func (p *Partition) Unlink(ctx context.Context, path string) error {
	p.mu.Acquire()
	defer p.mu.Release()

	dir, base, err := p.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	defer p.closeInode(dir)

	e, err := p.dirSearch(ctx, dir, base)
	if err != nil {
		return err
	}
	if e.IsDir {
		return ErrIsADirectory
	}

	ie, err := p.openInode(ctx, e.InodeNo)
	if err != nil {
		return err
	}

	if err := p.dirDeleteEntry(ctx, dir, e.InodeNo); err != nil {
		p.closeInode(ie)
		return err
	}

	used, err := p.blocksUsed(ctx, ie)
	if err == nil {
		for i := 0; i < used; i++ {
			lba, berr := p.blockOf(ctx, ie, uint32(i))
			if berr == nil && lba != 0 {
				p.releaseBlockNo(ctx, lba)
			}
		}
	}
	p.releaseInodeNo(e.InodeNo)
	p.syncInodeBitmap(ctx)
	p.closeInode(ie) // drop our reference; the cache entry dies once every caller's fd closes too
	return nil
}

// Mkdir creates an empty directory at path. Grounded on sys_mkdir in
// fs/fs.c.
func (p *Partition) Mkdir(ctx context.Context, path string) error {
	p.mu.Acquire()
	defer p.mu.Release()

	dir, base, err := p.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	defer p.closeInode(dir)

	if err := validName(base); err != nil {
		return err
	}
	if _, err := p.dirSearch(ctx, dir, base); err == nil {
		return ErrExists
	} else if err != ErrNotFound {
		return err
	}

	no, err := p.allocInodeNo()
	if err != nil {
		return err
	}
	ie := p.createInode(no)
	if err := p.syncInode(ctx, ie); err != nil {
		p.releaseInodeNo(no)
		p.closeInode(ie)
		return err
	}
	if err := p.syncInodeBitmap(ctx); err != nil {
		p.releaseInodeNo(no)
		p.closeInode(ie)
		return err
	}
	if err := p.dirCreateEntry(ctx, dir, dirEntry{Filename: base, IsDir: true, InodeNo: no}); err != nil {
		p.closeInode(ie)
		p.releaseInodeNo(no)
		p.syncInodeBitmap(ctx)
		return err
	}
	p.closeInode(ie)
	return nil
}

// OpenDir resolves path to a directory and returns a global descriptor
// suitable for ReadDir/CloseDir. Grounded on dir_open / dir_open_root in
// fs/dir.c.
func (p *Partition) OpenDir(ctx context.Context, path string) (int, error) {
	p.mu.Acquire()
	defer p.mu.Release()

	var ie *inodeElem
	var err error
	if trimmedIsRoot(path) {
		ie, err = p.openInode(ctx, rootInodeNo)
	} else {
		dir, base, perr := p.resolveParentDir(ctx, path)
		if perr != nil {
			return 0, perr
		}
		e, serr := p.dirSearch(ctx, dir, base)
		p.closeInode(dir)
		if serr != nil {
			return 0, serr
		}
		if !e.IsDir {
			return 0, ErrNotADirectory
		}
		ie, err = p.openInode(ctx, e.InodeNo)
	}
	if err != nil {
		return 0, err
	}

	fd, err := p.allocGlobalFD()
	if err != nil {
		p.closeInode(ie)
		return 0, err
	}
	p.openFiles[fd] = &openFile{inode: ie, isDir: true}
	return fd, nil
}

func trimmedIsRoot(path string) bool {
	for _, r := range path {
		if r != '/' {
			return false
		}
	}
	return len(path) > 0
}

// ReadDir returns the next live entry's name and whether it is itself a
// directory, or ok==false once every entry has been returned. Grounded
// on sys_readdir in fs/dir.c.
func (p *Partition) ReadDir(ctx context.Context, fdNo int) (name string, isDir bool, ok bool, err error) {
	p.mu.Acquire()
	defer p.mu.Release()
	of, ferr := p.fd(fdNo)
	if ferr != nil {
		return "", false, false, ferr
	}
	if !of.isDir {
		return "", false, false, ErrNotADirectory
	}
	entries, lerr := p.listEntries(ctx, of.inode)
	if lerr != nil {
		return "", false, false, lerr
	}
	if of.dirPos >= len(entries) {
		return "", false, false, nil
	}
	e := entries[of.dirPos]
	of.dirPos++
	return e.Filename, e.IsDir, true, nil
}

// CloseDir releases a directory descriptor opened by OpenDir.
func (p *Partition) CloseDir(fdNo int) error {
	return p.Close(fdNo)
}
