package fsys

import "encoding/binary"

// superBlockMagic identifies a formatted partition. Grounded on
// SUPER_BLOCK_MAGIC in fs/super_block.h.
const superBlockMagic = 0x19970322

// Block and inode geometry, grounded on fs/super_block.h and
// fs/partition_manager.h. The on-disk layout is fixed at format time:
// one boot sector, one super block sector, the block bitmap, the inode
// bitmap, the inode table, then data blocks.
const (
	blockSize          = 512 // FS_BLOCK_SIZE: one sector per block
	blockBits          = blockSize * 8
	inodeEntrySize     = 60 // 4 (no) + 4 (size) + 13*4 (blocks)
	inodesPerBlock     = blockSize / inodeEntrySize
	dirEntrySize       = 58 // 50 (name) + 4 (type) + 4 (inode no)
	dirEntriesPerBlock = blockSize / dirEntrySize

	inodeDirectBlocks  = 12
	inodeIndirectIndex = 12
	inodeIndirectCap   = blockSize / 4
	inodeTotalBlocks   = inodeDirectBlocks + inodeIndirectCap // 140, 70KiB max file size

	// inodeCap is fixed at exactly one bitmap block's worth of bits
	// (FS_INODE_CNT = FS_INODE_BTMP_BLOCKS * BLOCK_BITS, with
	// FS_INODE_BTMP_BLOCKS == 1), so the inode bitmap is always exactly
	// one sector.
	inodeCap = blockBits

	rootInodeNo = 0

	dirTypeDir    = 0
	dirTypeNormal = 1
)

// superBlock is the on-disk layout written at format time and read back
// at mount time. Grounded on struct super_block in fs/super_block.h.
type superBlock struct {
	Magic          uint32
	SecCnt         uint32
	InodeCnt       uint32
	PartLBAStart   uint32
	BlockBtmpLBA   uint32
	BlockBtmpSecs  uint32
	InodeBtmpLBA   uint32
	InodeBtmpSecs  uint32
	InodeTableLBA  uint32
	InodeTableSecs uint32
	DataLBA        uint32
	RootInodeNo    uint32
	DirEntrySize   uint32
}

func (sb *superBlock) encode() []byte {
	buf := make([]byte, blockSize)
	fields := []uint32{
		sb.Magic, sb.SecCnt, sb.InodeCnt, sb.PartLBAStart,
		sb.BlockBtmpLBA, sb.BlockBtmpSecs, sb.InodeBtmpLBA, sb.InodeBtmpSecs,
		sb.InodeTableLBA, sb.InodeTableSecs, sb.DataLBA, sb.RootInodeNo,
		sb.DirEntrySize,
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], f)
	}
	return buf
}

func decodeSuperBlock(buf []byte) *superBlock {
	u32 := func(i int) uint32 { return binary.LittleEndian.Uint32(buf[i*4 : i*4+4]) }
	return &superBlock{
		Magic:          u32(0),
		SecCnt:         u32(1),
		InodeCnt:       u32(2),
		PartLBAStart:   u32(3),
		BlockBtmpLBA:   u32(4),
		BlockBtmpSecs:  u32(5),
		InodeBtmpLBA:   u32(6),
		InodeBtmpSecs:  u32(7),
		InodeTableLBA:  u32(8),
		InodeTableSecs: u32(9),
		DataLBA:        u32(10),
		RootInodeNo:    u32(11),
		DirEntrySize:   u32(12),
	}
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}
