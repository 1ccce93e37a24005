package fsys

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
)

// dirEntry is one 58-byte slot in a directory's data blocks: a 50-byte
// fixed-width filename, a type tag and the inode number it names.
// Grounded on struct dir_entry in fs/dir.h. No "." or ".." entries are
// ever written, matching spec.md's supplemented behavior.
type dirEntry struct {
	Filename string
	IsDir    bool
	InodeNo  uint32
}

func (e *dirEntry) encode(buf []byte) {
	var name [50]byte
	copy(name[:], e.Filename)
	copy(buf[0:50], name[:])
	ftype := uint32(dirTypeNormal)
	if e.IsDir {
		ftype = dirTypeDir
	}
	binary.LittleEndian.PutUint32(buf[50:54], ftype)
	binary.LittleEndian.PutUint32(buf[54:58], e.InodeNo)
}

func decodeDirEntry(buf []byte) dirEntry {
	name := bytes.TrimRight(buf[0:50], "\x00")
	ftype := binary.LittleEndian.Uint32(buf[50:54])
	return dirEntry{
		Filename: string(name),
		IsDir:    ftype == dirTypeDir,
		InodeNo:  binary.LittleEndian.Uint32(buf[54:58]),
	}
}

// dirSearch scans every block currently allocated to dir for an entry
// named name. Grounded on dir_search in fs/dir.c: the scan walks blocks
// in order and stops the first time a block fails to resolve (the
// inode has no more allocated blocks), rather than tracking a live
// entry count, since deleted entries leave holes that later creates may
// reuse.
func (p *Partition) dirSearch(ctx context.Context, dir *inodeElem, name string) (dirEntry, error) {
	buf := make([]byte, blockSize)
	for secIdx := uint32(0); secIdx < inodeTotalBlocks; secIdx++ {
		if err := p.readBlock(ctx, dir, secIdx, buf); err != nil {
			if err == ErrNotFound {
				break
			}
			return dirEntry{}, err
		}
		for off := 0; off+dirEntrySize <= blockSize; off += dirEntrySize {
			e := decodeDirEntry(buf[off : off+dirEntrySize])
			if e.InodeNo != 0 && e.Filename == name {
				return e, nil
			}
		}
	}
	return dirEntry{}, ErrNotFound
}

// dirCreateEntry writes a new directory entry into dir, reusing a
// deleted slot (inode_no == 0) if one exists, otherwise growing dir by
// one block and writing into its first slot. Grounded on
// dir_append_entry / dir_create in fs/dir.c's logic, generalized to
// reuse holes rather than always appending (spec.md §4.5).
func (p *Partition) dirCreateEntry(ctx context.Context, dir *inodeElem, e dirEntry) error {
	buf := make([]byte, blockSize)
	used, err := p.blocksUsed(ctx, dir)
	if err != nil {
		return err
	}
	for secIdx := 0; secIdx < used; secIdx++ {
		if err := p.readBlock(ctx, dir, uint32(secIdx), buf); err != nil {
			return err
		}
		for off := 0; off+dirEntrySize <= blockSize; off += dirEntrySize {
			existing := decodeDirEntry(buf[off : off+dirEntrySize])
			if existing.InodeNo == 0 {
				e.encode(buf[off : off+dirEntrySize])
				if err := p.writeBlock(ctx, dir, uint32(secIdx), buf); err != nil {
					return err
				}
				dir.inode.Size++
				return p.syncInode(ctx, dir)
			}
		}
	}

	if err := p.growInode(ctx, dir, 1); err != nil {
		return err
	}
	newBuf := make([]byte, blockSize)
	e.encode(newBuf[0:dirEntrySize])
	if err := p.writeBlock(ctx, dir, uint32(used), newBuf); err != nil {
		return err
	}
	dir.inode.Size++
	return p.syncInode(ctx, dir)
}

// dirDeleteEntry zeroes the entry naming inodeNo within dir. Grounded
// on dir_remove_entry in fs/dir.c.
func (p *Partition) dirDeleteEntry(ctx context.Context, dir *inodeElem, inodeNo uint32) error {
	buf := make([]byte, blockSize)
	used, err := p.blocksUsed(ctx, dir)
	if err != nil {
		return err
	}
	for secIdx := 0; secIdx < used; secIdx++ {
		if err := p.readBlock(ctx, dir, uint32(secIdx), buf); err != nil {
			return err
		}
		for off := 0; off+dirEntrySize <= blockSize; off += dirEntrySize {
			existing := decodeDirEntry(buf[off : off+dirEntrySize])
			if existing.InodeNo == inodeNo {
				binary.LittleEndian.PutUint32(buf[off+54:off+58], 0)
				if err := p.writeBlock(ctx, dir, uint32(secIdx), buf); err != nil {
					return err
				}
				dir.inode.Size--
				return p.syncInode(ctx, dir)
			}
		}
	}
	return ErrNotFound
}

// listEntries returns every live entry in dir, in on-disk order.
// Grounded on the scan loop shared by dir_search and readdir's
// iteration in fs/dir.c.
func (p *Partition) listEntries(ctx context.Context, dir *inodeElem) ([]dirEntry, error) {
	var out []dirEntry
	buf := make([]byte, blockSize)
	used, err := p.blocksUsed(ctx, dir)
	if err != nil {
		return nil, err
	}
	for secIdx := 0; secIdx < used; secIdx++ {
		if err := p.readBlock(ctx, dir, uint32(secIdx), buf); err != nil {
			return nil, err
		}
		for off := 0; off+dirEntrySize <= blockSize; off += dirEntrySize {
			e := decodeDirEntry(buf[off : off+dirEntrySize])
			if e.InodeNo != 0 {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// resolveParentDir opens (and the caller must close) the inode of the
// directory containing path's final component, returning that
// component's base name. Grounded on the recursive split-at-first-"/"
// walk spec.md §4.5 describes generalizing fs/dir.c's single-level
// dir_search into full path resolution.
func (p *Partition) resolveParentDir(ctx context.Context, path string) (*inodeElem, string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, "", ErrInvalidPath
	}
	idx := strings.LastIndexByte(trimmed, '/')
	var dirPath, base string
	if idx < 0 {
		dirPath, base = "", trimmed
	} else {
		dirPath, base = trimmed[:idx], trimmed[idx+1:]
	}

	cur, err := p.openInode(ctx, rootInodeNo)
	if err != nil {
		return nil, "", err
	}
	if dirPath == "" {
		return cur, base, nil
	}
	for _, comp := range strings.Split(dirPath, "/") {
		e, err := p.dirSearch(ctx, cur, comp)
		if err != nil {
			p.closeInode(cur)
			return nil, "", err
		}
		if !e.IsDir {
			p.closeInode(cur)
			return nil, "", ErrNotADirectory
		}
		next, err := p.openInode(ctx, e.InodeNo)
		if err != nil {
			p.closeInode(cur)
			return nil, "", err
		}
		p.closeInode(cur)
		cur = next
	}
	return cur, base, nil
}

// resolve opens (and the caller must close) the inode that path names.
func (p *Partition) resolve(ctx context.Context, path string) (*inodeElem, dirEntry, error) {
	dir, base, err := p.resolveParentDir(ctx, path)
	if err != nil {
		return nil, dirEntry{}, err
	}
	defer p.closeInode(dir)
	e, err := p.dirSearch(ctx, dir, base)
	if err != nil {
		return nil, dirEntry{}, err
	}
	ie, err := p.openInode(ctx, e.InodeNo)
	if err != nil {
		return nil, dirEntry{}, err
	}
	return ie, e, nil
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "/") || len(name) > 50 {
		return fmt.Errorf("fsys: invalid filename %q", name)
	}
	return nil
}
