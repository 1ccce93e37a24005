// Command chaosimg formats a fresh disk image file with the on-disk
// layout spec.md §3/§4.5 describes: boot sector, super block, block
// bitmap, inode bitmap, inode table, data blocks. It stands in for the
// host-side "write a bootable image to a USB stick" step a real build
// of this kernel needs before it can boot; here it simply produces a
// file fsys.Load (and cmd/chaosd) can mount.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/elinor-voss/protokernel/fsys"
	"github.com/elinor-voss/protokernel/ide"
	"github.com/elinor-voss/protokernel/task"
)

// mbrEntryOffset/mbrSignature mirror the layout
// ide.Controller.ScanPartitions reads (spec.md §6 "Partition-table
// layout"): 446 bytes of boot-stub padding, four 16-byte entries, then
// the 0x55 0xAA signature at offset 510.
const (
	mbrEntryOffset = 446
	mbrSignature   = 0xAA55
)

// writeMBR writes a single-partition MBR to LBA 0 of disk: one 0x83
// (Linux) entry spanning [lbaStart, lbaStart+secCount) and the boot
// signature. Without this, ide.Controller.ScanPartitions finds no
// 0xAA55 at buf[510:512] and stops immediately (partition.go), so
// chaosd can never locate the hda1 partition fsys.Format just laid
// out.
func writeMBR(ctx context.Context, disk *ide.Disk, lbaStart, secCount uint32) error {
	buf := make([]byte, 512)
	entry := buf[mbrEntryOffset : mbrEntryOffset+16]
	entry[4] = ide.FSTypeLinux
	binary.LittleEndian.PutUint32(entry[8:12], lbaStart)
	binary.LittleEndian.PutUint32(entry[12:16], secCount)
	binary.LittleEndian.PutUint16(buf[510:512], mbrSignature)
	return disk.Write(ctx, 0, 1, buf)
}

func main() {
	log.SetFlags(0)

	image := flag.String("image", "", "path to the disk image file to create")
	sectors := flag.Uint("sectors", 4096, "total sectors in the image (512 bytes each)")
	force := flag.Bool("force", false, "overwrite image if it already exists")
	flag.Parse()

	if *image == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -image PATH [-sectors N]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *sectors < 517 {
		log.Fatalf("chaosimg: -sectors must be at least 517 (MBR+boot+super+bitmaps+512-sector inode table need room)")
	}

	if _, err := os.Stat(*image); err == nil && !*force {
		log.Fatalf("chaosimg: %s already exists (use -force to overwrite)", *image)
	}

	f, err := os.Create(*image)
	if err != nil {
		log.Fatalf("chaosimg: create %s: %v", *image, err)
	}
	if err := f.Truncate(int64(*sectors) * 512); err != nil {
		f.Close()
		log.Fatalf("chaosimg: truncate: %v", err)
	}
	f.Close()

	sched := task.New()
	sched.Start()
	defer sched.Stop()

	ctrl := ide.NewController(sched, 4)
	disk, err := ctrl.AttachDisk("hda", *image)
	if err != nil {
		log.Fatalf("chaosimg: attach %s: %v", *image, err)
	}
	defer disk.Close()

	part := &ide.Partition{
		Disk:     disk,
		LBAStart: 1,
		SecCount: uint32(*sectors) - 1,
		FSType:   ide.FSTypeLinux,
		Name:     "hda1",
	}

	ctx := context.Background()
	if err := writeMBR(ctx, disk, part.LBAStart, part.SecCount); err != nil {
		log.Fatalf("chaosimg: write MBR: %v", err)
	}
	if _, err := fsys.Format(ctx, sched, disk, part); err != nil {
		log.Fatalf("chaosimg: format: %v", err)
	}

	fmt.Printf("formatted %s: %d sectors, partition hda1 at LBA %d (%d sectors)\n",
		*image, *sectors, part.LBAStart, part.SecCount)
}
