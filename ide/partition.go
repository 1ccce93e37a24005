package ide

import (
	"context"
	"encoding/binary"
	"fmt"
)

// FSType values recognized in a partition-table entry. Grounded on the
// fs_type byte spec.md §4.4 checks.
const (
	FSTypeEmpty    = 0x00
	FSTypeExtended = 0x05
	FSTypeLinux    = 0x83
)

const (
	mbrEntryOffset = 446
	mbrEntrySize   = 16
	mbrEntryCount  = 4
	mbrSignature   = 0xAA55
)

// Partition describes one Linux (0x83) partition discovered by a
// depth-first MBR/EBR scan. Grounded on struct partition in
// device/disk.h.
type Partition struct {
	Disk     *Disk
	LBAStart uint32
	SecCount uint32
	FSType   byte
	Name     string // "hdaN"
}

// ScanPartitions walks d's MBR and any extended-partition (EBR) chain,
// appending every 0x83 entry it finds to the controller's partition
// list. Grounded on the partition-scan algorithm of spec.md §4.4: a
// 0x00 entry is skipped, a 0x83 entry becomes a Linux partition named
// "<disk><n>", and a 0x05 entry recurses into the extended chain at
// the boot-sector-relative LBA it names.
func (c *Controller) ScanPartitions(ctx context.Context, d *Disk) error {
	d.PartCount = 0
	return c.scanBootSector(ctx, d, 0)
}

func (c *Controller) scanBootSector(ctx context.Context, d *Disk, bsLBA uint32) error {
	buf := make([]byte, sectorSize)
	if err := d.Read(ctx, bsLBA, 1, buf); err != nil {
		return fmt.Errorf("ide: scan %s: read boot sector %d: %w", d.Name, bsLBA, err)
	}
	if binary.LittleEndian.Uint16(buf[510:512]) != mbrSignature {
		return nil
	}

	for i := 0; i < mbrEntryCount; i++ {
		entry := buf[mbrEntryOffset+i*mbrEntrySize : mbrEntryOffset+(i+1)*mbrEntrySize]
		fsType := entry[4]
		lbaStart := binary.LittleEndian.Uint32(entry[8:12])
		secCount := binary.LittleEndian.Uint32(entry[12:16])

		switch fsType {
		case FSTypeEmpty:
			continue
		case FSTypeLinux:
			d.PartCount++
			c.partitions = append(c.partitions, &Partition{
				Disk:     d,
				LBAStart: bsLBA + lbaStart,
				SecCount: secCount,
				FSType:   FSTypeLinux,
				Name:     fmt.Sprintf("%s%d", d.Name, d.PartCount),
			})
		case FSTypeExtended:
			if err := c.scanBootSector(ctx, d, bsLBA+lbaStart); err != nil {
				return err
			}
		default:
			// 0x0F (LBA-CHS extended) and any other type are explicitly
			// unhandled (spec.md §9 Open Questions); neither a fatal
			// error nor a synthesized partition.
		}
	}
	return nil
}
