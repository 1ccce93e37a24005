package fsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/elinor-voss/protokernel/ide"
	"github.com/elinor-voss/protokernel/task"
)

// newTestPartition formats a fresh in-process partition backed by a
// temp-file disk image, sized generously enough to exercise indirect
// block growth (spec.md §8 scenarios 2 and 5).
func newTestPartition(t *testing.T, sectors int) (*Partition, *task.Scheduler) {
	t.Helper()
	s := task.New()
	s.Start()
	c := ide.NewController(s, 4)

	path := filepath.Join(t.TempDir(), "fs.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(int64(sectors) * 512); err != nil {
		t.Fatal(err)
	}
	f.Close()

	d, err := c.AttachDisk("hda", path)
	if err != nil {
		t.Fatal(err)
	}
	part := &ide.Partition{Disk: d, LBAStart: 1, SecCount: uint32(sectors - 1), FSType: ide.FSTypeLinux, Name: "hda1"}

	p, err := Format(context.Background(), s, d, part)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return p, s
}

func TestWriteReadRoundTrip(t *testing.T) {
	p, _ := newTestPartition(t, 4096)
	ctx := context.Background()

	fd, err := p.Open(ctx, "/chloe", OFlagReadWrite|OFlagCreate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data := make([]byte, 6976)
	for i := range data {
		data[i] = byte(i * 7)
	}
	n, err := p.Write(ctx, fd, data)
	if err != nil || n != len(data) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if _, err := p.Lseek(fd, 0, 0); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	n, err = p.Read(ctx, fd, got)
	if err != nil || n != len(data) {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], data[i])
		}
	}
	if err := p.Close(fd); err != nil {
		t.Fatal(err)
	}
}

// TestIndirectBlockGrowthAtBoundary exercises spec.md §8 scenario 5: a
// write straddling the 12-direct-block (6144-byte) boundary correctly
// lazily allocates the indirect block.
func TestIndirectBlockGrowthAtBoundary(t *testing.T) {
	p, _ := newTestPartition(t, 4096)
	ctx := context.Background()

	fd, err := p.Open(ctx, "/straddle", OFlagReadWrite|OFlagCreate)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, 6144+200)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := p.Write(ctx, fd, data); err != nil {
		t.Fatal(err)
	}
	of := p.openFiles[fd]
	if of.inode.inode.Blocks[inodeIndirectIndex] == 0 {
		t.Fatal("expected indirect block to be allocated")
	}
	if _, err := p.Lseek(fd, 0, 0); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if _, err := p.Read(ctx, fd, got); err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], data[i])
		}
	}
}

// TestLseekSemantics exercises set/cur/end whence handling.
func TestLseekSemantics(t *testing.T) {
	p, _ := newTestPartition(t, 2048)
	ctx := context.Background()
	fd, err := p.Open(ctx, "/seeker", OFlagReadWrite|OFlagCreate)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write(ctx, fd, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if pos, err := p.Lseek(fd, 3, 0); err != nil || pos != 3 {
		t.Fatalf("seek set: pos=%d err=%v", pos, err)
	}
	if pos, err := p.Lseek(fd, 2, 1); err != nil || pos != 5 {
		t.Fatalf("seek cur: pos=%d err=%v", pos, err)
	}
	if pos, err := p.Lseek(fd, 0, 2); err != nil || pos != 10 {
		t.Fatalf("seek end: pos=%d err=%v", pos, err)
	}
	buf := make([]byte, 1)
	if n, err := p.Read(ctx, fd, buf); err != nil || n != 0 {
		t.Fatalf("read at EOF: n=%d err=%v", n, err)
	}
}

// TestUnlinkFreesInodeAndBlocks exercises spec.md §8 property 6: unlink
// then open fails, and the freed inode/block bitmap bits are clear.
func TestUnlinkFreesInodeAndBlocks(t *testing.T) {
	p, _ := newTestPartition(t, 2048)
	ctx := context.Background()

	fd, err := p.Open(ctx, "/doomed", OFlagReadWrite|OFlagCreate)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write(ctx, fd, make([]byte, 1500)); err != nil {
		t.Fatal(err)
	}
	inodeNo := p.openFiles[fd].inode.inode.No
	blockLBA, err := p.blockOf(ctx, p.openFiles[fd].inode, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(fd); err != nil {
		t.Fatal(err)
	}

	if err := p.Unlink(ctx, "/doomed"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Open(ctx, "/doomed", OFlagReadOnly); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after unlink, got %v", err)
	}
	if p.inodeBitmap.Test(int(inodeNo)) {
		t.Fatal("inode bitmap bit still set after unlink")
	}
	if p.blockBitmap.Test(int(blockLBA)) {
		t.Fatal("block bitmap bit still set after unlink")
	}
}

// TestDirectoryIterationOrder exercises spec.md §8 scenario 4: entries
// come back from ReadDir in slot order, and a create after a delete
// reuses the hole the delete left behind (dirCreateEntry's
// existing.InodeNo == 0 branch) rather than appending past it.
func TestDirectoryIterationOrder(t *testing.T) {
	p, _ := newTestPartition(t, 2048)
	ctx := context.Background()

	names := []string{"alice", "bob", "carol", "dave"}
	for _, n := range names {
		fd, err := p.Open(ctx, "/"+n, OFlagReadWrite|OFlagCreate)
		if err != nil {
			t.Fatal(err)
		}
		p.Close(fd)
	}
	if err := p.Unlink(ctx, "/bob"); err != nil {
		t.Fatal(err)
	}
	if err := p.Mkdir(ctx, "/sub"); err != nil {
		t.Fatal(err)
	}

	fd, err := p.OpenDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for {
		name, isDir, ok, err := p.ReadDir(ctx, fd)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, name)
		if name == "sub" && !isDir {
			t.Fatal("expected sub to be reported as a directory")
		}
	}
	if err := p.CloseDir(fd); err != nil {
		t.Fatal(err)
	}

	want := []string{"alice", "sub", "carol", "dave"}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Fatalf("directory listing mismatch (-got +want):\n%s", diff)
	}
}

// TestMountRoundTrip exercises Load against a partition Format already
// wrote, verifying the super block and root inode survive a remount.
func TestMountRoundTrip(t *testing.T) {
	s := task.New()
	s.Start()
	c := ide.NewController(s, 4)
	path := filepath.Join(t.TempDir(), "fs.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(2048 * 512); err != nil {
		t.Fatal(err)
	}
	f.Close()
	d, err := c.AttachDisk("hda", path)
	if err != nil {
		t.Fatal(err)
	}
	part := &ide.Partition{Disk: d, LBAStart: 1, SecCount: 2047, FSType: ide.FSTypeLinux, Name: "hda1"}

	ctx := context.Background()
	p1, err := Format(ctx, s, d, part)
	if err != nil {
		t.Fatal(err)
	}
	fd, err := p1.Open(ctx, "/persisted", OFlagReadWrite|OFlagCreate)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p1.Write(ctx, fd, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	p1.Close(fd)

	p2, err := Load(ctx, s, d, part)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := pretty.Compare(p1.sb, p2.sb); diff != "" {
		t.Fatalf("super block mismatch across remount (-before +after):\n%s", diff)
	}
	fd2, err := p2.Open(ctx, "/persisted", OFlagReadOnly)
	if err != nil {
		t.Fatalf("Open after remount: %v", err)
	}
	got := make([]byte, 5)
	if _, err := p2.Read(ctx, fd2, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want %q", got, "hello")
	}
}
