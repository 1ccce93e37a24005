package fsys

import (
	"context"
	"encoding/binary"
	"fmt"
)

// diskInode is the on-disk inode layout: an inode number, a byte size,
// 12 direct block pointers and one indirect-block pointer holding up to
// 128 more. Grounded on struct inode in fs/inode.h. All block numbers
// are partition-relative LBAs; 0 means "not yet allocated".
type diskInode struct {
	No     uint32
	Size   uint32
	Blocks [inodeDirectBlocks + 1]uint32
}

func (di *diskInode) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], di.No)
	binary.LittleEndian.PutUint32(buf[4:8], di.Size)
	for i, b := range di.Blocks {
		off := 8 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], b)
	}
}

func decodeDiskInode(buf []byte) diskInode {
	var di diskInode
	di.No = binary.LittleEndian.Uint32(buf[0:4])
	di.Size = binary.LittleEndian.Uint32(buf[4:8])
	for i := range di.Blocks {
		off := 8 + i*4
		di.Blocks[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return di
}

// inodeElem is a cached, ref-counted open inode. Grounded on struct
// inode_elem in fs/inode.h; every Partition keeps a single global list
// of these (spec.md §3 "cached in a global open-inode list"), resolving
// the original's split between inode.c's inode_list and fs.c's
// per-fs_manager duplicate of the same cache.
type inodeElem struct {
	inode    diskInode
	part     *Partition
	refCount int
}

func (p *Partition) readInodeRaw(ctx context.Context, no uint32) (diskInode, error) {
	blockNo := no / inodesPerBlock
	off := (no % inodesPerBlock) * inodeEntrySize
	buf := make([]byte, blockSize)
	if err := p.disk.Read(ctx, p.sb.InodeTableLBA+blockNo, 1, buf); err != nil {
		return diskInode{}, fmt.Errorf("fsys: read inode %d: %w", no, err)
	}
	return decodeDiskInode(buf[off : off+inodeEntrySize]), nil
}

func (p *Partition) writeInodeRaw(ctx context.Context, di diskInode) error {
	blockNo := di.No / inodesPerBlock
	off := (di.No % inodesPerBlock) * inodeEntrySize
	buf := make([]byte, blockSize)
	if err := p.disk.Read(ctx, p.sb.InodeTableLBA+blockNo, 1, buf); err != nil {
		return fmt.Errorf("fsys: read inode table block for %d: %w", di.No, err)
	}
	di.encode(buf[off : off+inodeEntrySize])
	if err := p.disk.Write(ctx, p.sb.InodeTableLBA+blockNo, 1, buf); err != nil {
		return fmt.Errorf("fsys: write inode %d: %w", di.No, err)
	}
	return nil
}

// openInode returns the cached inodeElem for no, opening it from disk
// and adding it to the cache on a miss. Grounded on inode_open in
// fs/inode.c. Callers must hold p.mu.
func (p *Partition) openInode(ctx context.Context, no uint32) (*inodeElem, error) {
	if !p.validateInodeNo(no) {
		return nil, fmt.Errorf("fsys: inode %d out of range", no)
	}
	for _, ie := range p.openInodes {
		if ie.inode.No == no {
			ie.refCount++
			return ie, nil
		}
	}
	di, err := p.readInodeRaw(ctx, no)
	if err != nil {
		return nil, err
	}
	ie := &inodeElem{inode: di, part: p, refCount: 1}
	p.openInodes = append(p.openInodes, ie)
	return ie, nil
}

// createInode allocates a brand new, empty cached inode for no. Grounded
// on inode_create in fs/inode.c (the zeroed in-memory inode is synced
// to disk by the caller, before its directory entry is created).
// Callers must hold p.mu.
func (p *Partition) createInode(no uint32) *inodeElem {
	ie := &inodeElem{inode: diskInode{No: no}, part: p, refCount: 1}
	p.openInodes = append(p.openInodes, ie)
	return ie
}

// closeInode drops one reference; once it reaches zero the inodeElem
// leaves the cache. Grounded on inode_close in fs/inode.c. Callers must
// hold p.mu.
func (p *Partition) closeInode(ie *inodeElem) {
	ie.refCount--
	if ie.refCount > 0 {
		return
	}
	for i, cached := range p.openInodes {
		if cached == ie {
			p.openInodes = append(p.openInodes[:i], p.openInodes[i+1:]...)
			break
		}
	}
}

func (p *Partition) syncInode(ctx context.Context, ie *inodeElem) error {
	return p.writeInodeRaw(ctx, ie.inode)
}

// blocksUsed counts how many of ie's data blocks are allocated,
// stopping at the first zero entry (direct, then indirect). Grounded
// on inode_block_used in fs/inode.c.
func (p *Partition) blocksUsed(ctx context.Context, ie *inodeElem) (int, error) {
	cnt := 0
	for i := 0; i < inodeDirectBlocks; i++ {
		if ie.inode.Blocks[i] == 0 {
			return cnt, nil
		}
		cnt++
	}
	if ie.inode.Blocks[inodeIndirectIndex] == 0 {
		return cnt, nil
	}
	ext, err := p.readIndirect(ctx, ie)
	if err != nil {
		return cnt, err
	}
	for _, v := range ext {
		if v == 0 {
			break
		}
		cnt++
	}
	return cnt, nil
}

func (p *Partition) readIndirect(ctx context.Context, ie *inodeElem) ([]uint32, error) {
	blkNo := ie.inode.Blocks[inodeIndirectIndex]
	if blkNo == 0 {
		return make([]uint32, inodeIndirectCap), nil
	}
	buf := make([]byte, blockSize)
	if err := p.disk.Read(ctx, p.physicalLBA(blkNo), 1, buf); err != nil {
		return nil, fmt.Errorf("fsys: read indirect block: %w", err)
	}
	ext := make([]uint32, inodeIndirectCap)
	for i := range ext {
		ext[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return ext, nil
}

func (p *Partition) writeIndirect(ctx context.Context, ie *inodeElem, ext []uint32) error {
	buf := make([]byte, blockSize)
	for i, v := range ext {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return p.disk.Write(ctx, p.physicalLBA(ie.inode.Blocks[inodeIndirectIndex]), 1, buf)
}

// blockOf returns the partition-relative LBA of ie's idx'th data block,
// or 0 if that block has never been allocated. Grounded on
// inode_idx_to_lba in fs/inode.c.
func (p *Partition) blockOf(ctx context.Context, ie *inodeElem, idx uint32) (uint32, error) {
	if idx < inodeDirectBlocks {
		return ie.inode.Blocks[idx], nil
	}
	if ie.inode.Blocks[inodeIndirectIndex] == 0 {
		return 0, nil
	}
	ext, err := p.readIndirect(ctx, ie)
	if err != nil {
		return 0, err
	}
	return ext[idx-inodeDirectBlocks], nil
}

// growInode allocates n more data blocks for ie, handling the three
// cases of inode_get_blocks in fs/inode.c: filling remaining direct
// slots, appending to an already-allocated indirect block, or straddling
// the direct/indirect boundary (lazily allocating the indirect block
// itself). On any failure partway through, every block allocated by
// this call is rolled back.
func (p *Partition) growInode(ctx context.Context, ie *inodeElem, n int) error {
	used, err := p.blocksUsed(ctx, ie)
	if err != nil {
		return err
	}
	if used+n > inodeTotalBlocks {
		return ErrNoSpace
	}

	blocks := make([]uint32, n)
	for i := 0; i < n; i++ {
		b, err := p.allocBlockNo(ctx)
		if err != nil {
			for j := 0; j < i; j++ {
				p.releaseBlockNo(ctx, blocks[j])
			}
			return err
		}
		blocks[i] = b
	}
	rollback := func() {
		for _, b := range blocks {
			p.releaseBlockNo(ctx, b)
		}
	}

	switch {
	case used+n <= inodeDirectBlocks:
		for i := 0; i < n; i++ {
			ie.inode.Blocks[used+i] = blocks[i]
		}
		if err := p.syncInode(ctx, ie); err != nil {
			rollback()
			return err
		}
		return nil

	case used >= inodeDirectBlocks:
		ext, err := p.readIndirect(ctx, ie)
		if err != nil {
			rollback()
			return err
		}
		extUsed := used - inodeDirectBlocks
		for i := 0; i < n; i++ {
			ext[extUsed+i] = blocks[i]
		}
		if err := p.writeIndirect(ctx, ie, ext); err != nil {
			rollback()
			return err
		}
		return nil

	default: // straddles the boundary: the indirect block itself is new
		extBlockNo, err := p.allocBlockNo(ctx)
		if err != nil {
			rollback()
			return err
		}
		ie.inode.Blocks[inodeIndirectIndex] = extBlockNo

		direct := inodeDirectBlocks - used
		for i := 0; i < direct; i++ {
			ie.inode.Blocks[used+i] = blocks[i]
		}
		if err := p.syncInode(ctx, ie); err != nil {
			p.releaseBlockNo(ctx, extBlockNo)
			rollback()
			return err
		}

		ext := make([]uint32, inodeIndirectCap)
		for i := 0; i < n-direct; i++ {
			ext[i] = blocks[direct+i]
		}
		if err := p.writeIndirect(ctx, ie, ext); err != nil {
			p.releaseBlockNo(ctx, extBlockNo)
			rollback()
			return err
		}
		return nil
	}
}

// readBlock reads ie's secIdx'th data block, or returns ErrNotFound if
// that block was never written.
func (p *Partition) readBlock(ctx context.Context, ie *inodeElem, secIdx uint32, buf []byte) error {
	lba, err := p.blockOf(ctx, ie, secIdx)
	if err != nil {
		return err
	}
	if lba == 0 {
		return ErrNotFound
	}
	return p.disk.Read(ctx, p.physicalLBA(lba), 1, buf)
}

func (p *Partition) writeBlock(ctx context.Context, ie *inodeElem, secIdx uint32, buf []byte) error {
	lba, err := p.blockOf(ctx, ie, secIdx)
	if err != nil {
		return err
	}
	if lba == 0 {
		return ErrNotFound
	}
	return p.disk.Write(ctx, p.physicalLBA(lba), 1, buf)
}
