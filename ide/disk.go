package ide

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"golang.org/x/sync/semaphore"

	"github.com/elinor-voss/protokernel/task"
)

// Disk is one drive attached to a Channel. Grounded on struct disk in
// device/disk.h.
type Disk struct {
	channel   *Channel
	master    bool
	Name      string // "hda".."hdd"
	Model     string
	Serial    string
	SecCount  uint32
	PartCount int

	fd int
}

// Controller owns the two IDE channels (primary 0x1F0/IRQ14, secondary
// 0x170/IRQ15), a process-wide admission semaphore bounding how many
// requests may be in flight across both of them, and the flat list of
// attached disks and scanned partitions. One Controller exists per
// booted kernel, per spec.md §9's "global mutable state" discipline.
type Controller struct {
	Primary   *Channel
	Secondary *Channel

	disks      []*Disk
	partitions []*Partition
}

// NewController creates a controller with its two channels wired up.
// admissionLimit bounds the number of concurrently in-flight PIO
// requests across both channels (golang.org/x/sync/semaphore, per
// SPEC_FULL.md's domain-stack wiring).
func NewController(s *task.Scheduler, admissionLimit int64) *Controller {
	adm := semaphore.NewWeighted(admissionLimit)
	return &Controller{
		Primary:   newChannel(s, adm, "primary", 0x1F0, 14),
		Secondary: newChannel(s, adm, "secondary", 0x170, 15),
	}
}

// diskSlot names which (channel, master/slave) position a disk name
// occupies, mirroring the original's fixed "we only support 4 disks"
// layout: hda/hdb on the primary channel, hdc/hdd on the secondary.
func (c *Controller) diskSlot(name string) (ch *Channel, master bool, err error) {
	switch name {
	case "hda":
		return c.Primary, true, nil
	case "hdb":
		return c.Primary, false, nil
	case "hdc":
		return c.Secondary, true, nil
	case "hdd":
		return c.Secondary, false, nil
	default:
		return nil, false, fmt.Errorf("ide: unknown disk name %q", name)
	}
}

// AttachDisk opens imgPath as the backing store for the drive at the
// given position and IDENTIFYs it. Grounded on disk_init's per-disk
// IDENTIFY sequence in device/disk.c.
func (c *Controller) AttachDisk(name, imgPath string) (*Disk, error) {
	ch, master, err := c.diskSlot(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(imgPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ide: open %s: %w", imgPath, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ide: stat %s: %w", imgPath, err)
	}

	d := &Disk{
		channel:  ch,
		master:   master,
		Name:     name,
		fd:       fd,
		SecCount: uint32(st.Size / sectorSize),
	}
	d.identify()
	c.disks = append(c.disks, d)
	return d, nil
}

// identify stands in for the IDENTIFY DEVICE command (0xEC): on real
// hardware the controller returns a 256-word block from which the
// model (words 27-46, byte-swapped), serial (words 10-19) and total
// sector count (word 60, little-endian 32-bit) are extracted (spec.md
// §4.4). There is no drive firmware to interrogate here, so the
// equivalent identity is derived from the backing file instead; the
// sector-count field is still the authoritative value every later
// bounds check uses.
func (d *Disk) identify() {
	d.Model = fmt.Sprintf("protokernel virtual disk (%s)", d.Name)
	d.Serial = fmt.Sprintf("PK-%s-%08X", d.Name, d.SecCount)
}

// Read performs a PIO sector read of secCount sectors starting at lba
// into buf (len(buf) must be secCount*512). Grounded on disk_read /
// ide_channel_read.
func (d *Disk) Read(ctx context.Context, lba, secCount uint32, buf []byte) error {
	if uint32(len(buf)) != secCount*sectorSize {
		panic("ide: read buffer size mismatch")
	}
	return d.channel.transfer(ctx, d, lba, secCount, buf, false)
}

// Write performs a PIO sector write of secCount sectors starting at lba
// from buf. Grounded on disk_write / ide_channel_write.
func (d *Disk) Write(ctx context.Context, lba, secCount uint32, buf []byte) error {
	if uint32(len(buf)) != secCount*sectorSize {
		panic("ide: write buffer size mismatch")
	}
	return d.channel.transfer(ctx, d, lba, secCount, buf, true)
}

// Close releases the backing file descriptor.
func (d *Disk) Close() error {
	return unix.Close(d.fd)
}

// Disks returns every attached disk, in attach order.
func (c *Controller) Disks() []*Disk { return append([]*Disk(nil), c.disks...) }

// Partitions returns every partition discovered by ScanPartitions, in
// discovery order.
func (c *Controller) Partitions() []*Partition { return append([]*Partition(nil), c.partitions...) }
