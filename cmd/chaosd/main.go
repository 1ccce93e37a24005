// Command chaosd boots the kernel model against a disk image and runs
// one of a handful of demo programs through the real syscall gate,
// standing in for the CLI/shell-style test programs in main() that
// spec.md §1 treats as an external collaborator out of scope for the
// core. It exists so the five core subsystems can be exercised
// end-to-end from a single binary instead of only from package tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sync/errgroup"

	"github.com/elinor-voss/protokernel/devio"
	"github.com/elinor-voss/protokernel/fsys"
	"github.com/elinor-voss/protokernel/ide"
	"github.com/elinor-voss/protokernel/mm"
	"github.com/elinor-voss/protokernel/proc"
	"github.com/elinor-voss/protokernel/syscall"
	"github.com/elinor-voss/protokernel/task"
)

// totalRAM mirrors the 32-bit little-endian total-RAM-size cell the
// bootloader leaves at 0xA00 (spec.md §6); chosen generously enough to
// give both frame pools plenty of headroom for the demos below.
const totalRAM = 64 * 1024 * 1024

func main() {
	log.SetFlags(0)

	image := flag.String("image", "", "path to a disk image (see chaosimg)")
	demo := flag.String("demo", "write", "demo to run: write, fairness, ls")
	flag.Parse()

	if *image == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -image PATH [-demo write|fairness|ls]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	refuseIfMounted(*image)

	sched := task.New()
	sched.Start()
	defer sched.Stop()

	mgr := mm.NewManager(totalRAM)

	ctrl := ide.NewController(sched, 4)
	disk, err := ctrl.AttachDisk("hda", *image)
	if err != nil {
		log.Fatalf("chaosd: attach %s: %v", *image, err)
	}
	defer disk.Close()

	ctx := context.Background()
	if err := ctrl.ScanPartitions(ctx, disk); err != nil {
		log.Fatalf("chaosd: scan partitions: %v", err)
	}
	var part *ide.Partition
	for _, p := range ctrl.Partitions() {
		if p.Name == "hda1" {
			part = p
		}
	}
	if part == nil {
		log.Fatalf("chaosd: no hda1 partition found on %s (did you run chaosimg first?)", *image)
	}

	fs, err := fsys.Load(ctx, sched, disk, part)
	if err != nil {
		log.Fatalf("chaosd: mount hda1: %v", err)
	}

	console := devio.NewConsole(sched, os.Stdout)
	kbd := devio.NewKeyboard(sched)
	gate := syscall.NewGate(sched, mgr, fs, console, kbd)

	switch *demo {
	case "write":
		runWriteDemo(sched, mgr, gate, console)
	case "fairness":
		runFairnessDemo(sched, console)
	case "ls":
		runLsDemo(sched, mgr, gate, console)
	default:
		log.Fatalf("chaosd: unknown -demo %q", *demo)
	}
}

// refuseIfMounted is a thin defensive check, not a mount implementation:
// this kernel model's only "mount" concept is spec.md's single MBR
// partition, mounted in-process by fsys.Load. It refuses to boot when
// the directory containing the image is itself a mountpoint on the
// host; the image file itself is not checked.
func refuseIfMounted(imagePath string) {
	dir := filepath.Dir(imagePath)
	mounted, err := mountinfo.Mounted(dir)
	if err != nil {
		// Not fatal: mountinfo parsing is unavailable on some hosts/
		// filesystems. The booted kernel has no other use for a real
		// mount table, so this check degrades to a no-op rather than
		// blocking boot.
		return
	}
	if mounted {
		log.Fatalf("chaosd: refusing to boot: %s is itself a mountpoint", dir)
	}
}

// runWriteDemo reproduces spec.md §8 end-to-end scenario 2 (abbreviated):
// create a file, write through the real syscall gate, close, reopen,
// read it back, and report the round trip — all as one user process
// created by proc.Start, so the path exercises mm's user VA pool,
// fsys's path resolution, and the syscall dispatch table together.
func runWriteDemo(sched *task.Scheduler, mgr *mm.Manager, gate *syscall.Gate, console *devio.Console) {
	const path = "/chaosd-demo"
	const message = "hello from chaosd\n"

	done := make(chan struct{})
	_, err := proc.Start(sched, mgr, "writer", 31, func(t *task.TCB) {
		defer close(done)

		pathVA, ok := mgr.AllocPages(t.Space, 1)
		if !ok {
			console.PutStr("chaosd: out of user VA for path buffer\n")
			return
		}
		pathPA, _ := mgr.VirtToPhys(t.Space, pathVA)
		mgr.WritePhys(pathPA, append([]byte(path), 0))

		fd := gate.Dispatch(syscall.Open, pathVA, syscall.OCreate, 0)
		if fd < 0 {
			console.PutStr("chaosd: open failed\n")
			return
		}

		bufVA, ok := mgr.AllocPages(t.Space, 1)
		if !ok {
			console.PutStr("chaosd: out of user VA for write buffer\n")
			return
		}
		bufPA, _ := mgr.VirtToPhys(t.Space, bufVA)
		mgr.WritePhys(bufPA, []byte(message))

		n := gate.Dispatch(syscall.Write, uint32(fd), bufVA, uint32(len(message)))
		gate.Dispatch(syscall.Close, uint32(fd), 0, 0)
		console.PutStr(fmt.Sprintf("chaosd: wrote %d bytes to %s\n", n, path))

		fd = gate.Dispatch(syscall.Open, pathVA, 0, 0)
		if fd < 0 {
			console.PutStr("chaosd: reopen failed\n")
			return
		}
		readVA, _ := mgr.AllocPages(t.Space, 1)
		n = gate.Dispatch(syscall.Read, uint32(fd), readVA, uint32(len(message)))
		gate.Dispatch(syscall.Close, uint32(fd), 0, 0)
		readPA, _ := mgr.VirtToPhys(t.Space, readVA)
		buf := make([]byte, n)
		mgr.ReadPhys(readPA, buf)
		console.PutStr(fmt.Sprintf("chaosd: read back %d bytes: %q\n", n, string(buf)))
	})
	if err != nil {
		log.Fatalf("chaosd: start writer process: %v", err)
	}
	<-done
}

// runFairnessDemo reproduces spec.md §8 end-to-end scenario 1: three
// equal-priority kernel threads each append their name to a shared
// mutex-protected buffer 100 times. errgroup.Group fans the fleet out
// and joins it, mirroring node_parallel_lookup_test.go's
// spawn-then-Wait shape in the teacher repo.
func runFairnessDemo(sched *task.Scheduler, console *devio.Console) {
	var mu sync.Mutex
	var out []byte

	var eg errgroup.Group
	for _, n := range []byte{'a', 'b', 'c'} {
		n := n
		eg.Go(func() error {
			done := make(chan struct{})
			sched.Spawn(string(n), 3, func(self *task.TCB) {
				defer close(done)
				for i := 0; i < 100; i++ {
					mu.Lock()
					out = append(out, n)
					mu.Unlock()
					sched.Yield(self)
				}
			})
			<-done
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Fatalf("chaosd: fairness demo: %v", err)
	}
	console.PutStr(fmt.Sprintf("chaosd: %d threads appended %d bytes total\n", 3, len(out)))
}

// runLsDemo reproduces spec.md §8 end-to-end scenario 4: create a small
// directory tree and list it back through OPENDIR/READDIR/CLOSEDIR.
func runLsDemo(sched *task.Scheduler, mgr *mm.Manager, gate *syscall.Gate, console *devio.Console) {
	done := make(chan struct{})
	_, err := proc.Start(sched, mgr, "ls", 31, func(t *task.TCB) {
		defer close(done)

		writePath := func(path string) uint32 {
			va, _ := mgr.AllocPages(t.Space, 1)
			pa, _ := mgr.VirtToPhys(t.Space, va)
			mgr.WritePhys(pa, append([]byte(path), 0))
			return va
		}

		for _, dir := range []string{"/root", "/root/a", "/root/b"} {
			gate.Dispatch(syscall.Mkdir, writePath(dir), 0, 0)
		}
		fd := gate.Dispatch(syscall.Open, writePath("/root/c"), syscall.OCreate, 0)
		gate.Dispatch(syscall.Close, uint32(fd), 0, 0)

		dfd := gate.Dispatch(syscall.Opendir, writePath("/root"), 0, 0)
		if dfd < 0 {
			console.PutStr("chaosd: opendir /root failed\n")
			return
		}
		nameVA, _ := mgr.AllocPages(t.Space, 1)
		namePA, _ := mgr.VirtToPhys(t.Space, nameVA)
		for {
			kind := gate.Dispatch(syscall.Readdir, uint32(dfd), nameVA, 64)
			if kind < 0 {
				break
			}
			buf := make([]byte, 64)
			mgr.ReadPhys(namePA, buf)
			name := string(buf[:indexNUL(buf)])
			kindStr := "NORMAL"
			if kind == 1 {
				kindStr = "DIR"
			}
			console.PutStr(fmt.Sprintf("chaosd: /root/%s %s\n", name, kindStr))
		}
		gate.Dispatch(syscall.Closedir, uint32(dfd), 0, 0)
	})
	if err != nil {
		log.Fatalf("chaosd: start ls process: %v", err)
	}
	<-done
}

func indexNUL(buf []byte) int {
	for i, b := range buf {
		if b == 0 {
			return i
		}
	}
	return len(buf)
}
