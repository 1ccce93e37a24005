package ide

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/elinor-voss/protokernel/task"
)

func newTestController(t *testing.T) (*Controller, *task.Scheduler) {
	t.Helper()
	s := task.New()
	s.Start()
	return NewController(s, 4), s
}

// writeMBR builds a boot sector with the given partition entries
// (fsType, lbaStart, secCount triples) at the standard offsets and a
// valid 0x55 0xAA signature.
func writeMBR(t *testing.T, buf []byte, entries [][3]uint32) {
	t.Helper()
	for i, e := range entries {
		off := mbrEntryOffset + i*mbrEntrySize
		buf[off+4] = byte(e[0])
		binary.LittleEndian.PutUint32(buf[off+8:off+12], e[1])
		binary.LittleEndian.PutUint32(buf[off+12:off+16], e[2])
	}
	buf[510] = 0x55
	buf[511] = 0xAA
}

func makeDiskImage(t *testing.T, sectors int, mbr [][3]uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data := make([]byte, sectors*sectorSize)
	writeMBR(t, data[:sectorSize], mbr)
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadWriteRoundTrip(t *testing.T) {
	c, _ := newTestController(t)
	path := makeDiskImage(t, 128, [][3]uint32{{FSTypeLinux, 10, 50}})

	d, err := c.AttachDisk("hda", path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.SecCount != 128 {
		t.Fatalf("sector count: got %d want 128", d.SecCount)
	}

	ctx := context.Background()
	want := make([]byte, 3*sectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	if err := d.Write(ctx, 20, 3, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 3*sectorSize)
	if err := d.Read(ctx, 20, 3, got); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestPartitionScanFindsLinuxEntries(t *testing.T) {
	c, _ := newTestController(t)
	path := makeDiskImage(t, 256, [][3]uint32{
		{FSTypeLinux, 1, 100},
		{FSTypeEmpty, 0, 0},
		{FSTypeLinux, 101, 50},
		{FSTypeEmpty, 0, 0},
	})
	d, err := c.AttachDisk("hda", path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := c.ScanPartitions(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	parts := c.Partitions()
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(parts))
	}
	if parts[0].Name != "hda1" || parts[0].LBAStart != 1 || parts[0].SecCount != 100 {
		t.Fatalf("unexpected first partition: %+v", parts[0])
	}
	if parts[1].Name != "hda2" || parts[1].LBAStart != 101 || parts[1].SecCount != 50 {
		t.Fatalf("unexpected second partition: %+v", parts[1])
	}
	if d.PartCount != 2 {
		t.Fatalf("disk part count: got %d want 2", d.PartCount)
	}
}

func TestExtendedPartitionChainRecurses(t *testing.T) {
	c, _ := newTestController(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	const totalSectors = 512
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, totalSectors*sectorSize)

	// Primary MBR: one Linux partition, one extended partition at LBA 200.
	writeMBR(t, data[0:sectorSize], [][3]uint32{
		{FSTypeLinux, 10, 50},
		{FSTypeExtended, 200, 100},
	})
	// EBR at LBA 200: one Linux logical partition, relative LBA 5.
	ebrOff := 200 * sectorSize
	writeMBR(t, data[ebrOff:ebrOff+sectorSize], [][3]uint32{
		{FSTypeLinux, 5, 20},
	})
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	f.Close()

	d, err := c.AttachDisk("hda", path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := c.ScanPartitions(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	parts := c.Partitions()
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions (1 primary + 1 logical), got %d", len(parts))
	}
	if parts[0].LBAStart != 10 {
		t.Fatalf("primary partition LBA: got %d want 10", parts[0].LBAStart)
	}
	// Logical partition LBA is relative to the EBR's own boot sector (200), per spec.md §4.4.
	if parts[1].LBAStart != 205 {
		t.Fatalf("logical partition LBA: got %d want 205", parts[1].LBAStart)
	}
}

func TestChannelMutexSerializesBothDisksOnSameBus(t *testing.T) {
	c, s := newTestController(t)
	pathA := makeDiskImage(t, 32, nil)
	pathB := makeDiskImage(t, 32, nil)

	da, err := c.AttachDisk("hda", pathA)
	if err != nil {
		t.Fatal(err)
	}
	defer da.Close()
	db, err := c.AttachDisk("hdb", pathB)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if da.channel != db.channel {
		t.Fatal("hda and hdb must share the primary channel")
	}

	buf := make([]byte, sectorSize)
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	s.Spawn("reader-a", 1, func(self *task.TCB) {
		if err := da.Read(context.Background(), 0, 1, buf); err != nil {
			t.Error(err)
		}
		close(doneA)
	})
	s.Spawn("reader-b", 1, func(self *task.TCB) {
		if err := db.Read(context.Background(), 0, 1, make([]byte, sectorSize)); err != nil {
			t.Error(err)
		}
		close(doneB)
	})
	<-doneA
	<-doneB
}
