// Package syscall implements the software-interrupt system-call gate:
// a fixed-size dispatch table keyed by syscall number, exactly the
// shape of syscall_table[syscall_nr] in kernel/syscall.c. A real `int
// 0x80` traps into ring 0 with the number in eax and up to three
// arguments in ebx/ecx/edx; Gate.Dispatch plays the role of the trap
// handler, reading "eax" as its own first argument (since nothing in
// this simulation can literally raise a CPU interrupt) and the
// currently-scheduled task's identity from the scheduler instead of a
// saved register snapshot.
package syscall

import (
	"github.com/elinor-voss/protokernel/devio"
	"github.com/elinor-voss/protokernel/fsys"
	"github.com/elinor-voss/protokernel/mm"
	"github.com/elinor-voss/protokernel/task"
)

// syscallNr mirrors the original's #define syscall_nr 32: a generously
// oversized fixed table, of which spec.md names 13 live entries.
const syscallNr = 32

// Number is a syscall table index, the value that would arrive in eax.
type Number uint32

// Recognized syscall numbers, per spec.md §6 "Syscall ABI".
const (
	Getpid Number = iota
	Malloc
	Free
	Open
	Close
	Write
	Read
	Lseek
	Unlink
	Mkdir
	Opendir
	Closedir
	Readdir
)

// ABI flag and whence constants, per spec.md §6.
const (
	OCreate uint32 = 1

	seekSet uint32 = 1
	seekCur uint32 = 2
	seekEnd uint32 = 3
)

type handlerFunc func(g *Gate, t *task.TCB, ebx, ecx, edx uint32) int32

// Gate holds the syscall dispatch table together with everything a
// handler needs to reach the rest of the kernel: the scheduler (to
// identify the caller and its address space), the memory manager (to
// translate user pointers and service MALLOC/FREE), the mounted file
// system, and the console/keyboard devices fds 0-2 are wired to.
//
// Grounded on syscall_init populating syscall_table in kernel/syscall.c;
// one Gate exists per booted kernel, matching spec.md §9's "global
// mutable state, constructed once" discipline.
type Gate struct {
	sched   *task.Scheduler
	mgr     *mm.Manager
	fs      *fsys.Partition
	console *devio.Console
	kbd     *devio.Keyboard

	table [syscallNr]handlerFunc
}

// NewGate builds a Gate with every recognized syscall wired into its
// table, the Go-idiom equivalent of syscall_init's sequence of
// syscall_table[SYS_x] = sys_x assignments.
func NewGate(sched *task.Scheduler, mgr *mm.Manager, fs *fsys.Partition, console *devio.Console, kbd *devio.Keyboard) *Gate {
	g := &Gate{sched: sched, mgr: mgr, fs: fs, console: console, kbd: kbd}
	g.table[Getpid] = sysGetpid
	g.table[Malloc] = sysMalloc
	g.table[Free] = sysFree
	g.table[Open] = sysOpen
	g.table[Close] = sysClose
	g.table[Write] = sysWrite
	g.table[Read] = sysRead
	g.table[Lseek] = sysLseek
	g.table[Unlink] = sysUnlink
	g.table[Mkdir] = sysMkdir
	g.table[Opendir] = sysOpendir
	g.table[Closedir] = sysClosedir
	g.table[Readdir] = sysReaddir
	return g
}

// Dispatch is the trap handler: it looks up number in the table and
// runs it against the scheduler's current task. An unrecognized number
// or a nil current task (no process is running) returns -1, the ABI's
// uniform failure sentinel.
func (g *Gate) Dispatch(number Number, ebx, ecx, edx uint32) int32 {
	if int(number) < 0 || int(number) >= len(g.table) {
		return -1
	}
	h := g.table[number]
	if h == nil {
		return -1
	}
	t := g.sched.Current()
	if t == nil {
		return -1
	}
	return h(g, t, ebx, ecx, edx)
}

func translateWhence(abi uint32) (int, bool) {
	switch abi {
	case seekSet:
		return 0, true
	case seekCur:
		return 1, true
	case seekEnd:
		return 2, true
	}
	return 0, false
}
