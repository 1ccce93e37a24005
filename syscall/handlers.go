package syscall

import (
	"context"

	"github.com/elinor-voss/protokernel/fsys"
	"github.com/elinor-voss/protokernel/proc"
	"github.com/elinor-voss/protokernel/task"
)

// sysGetpid returns the caller's PID, per sys_getpid in kernel/syscall.c.
func sysGetpid(g *Gate, t *task.TCB, _, _, _ uint32) int32 {
	return int32(t.PID)
}

// sysMalloc services MALLOC by delegating to the process's own
// small-block arena, per sys_malloc in kernel/memory.c.
func sysMalloc(g *Gate, t *task.TCB, size, _, _ uint32) int32 {
	va, ok := g.mgr.Malloc(t.Space, size)
	if !ok {
		return -1
	}
	return int32(va)
}

// sysFree services FREE, per sys_free in kernel/memory.c.
func sysFree(g *Gate, t *task.TCB, va, _, _ uint32) int32 {
	g.mgr.Free(t.Space, va)
	return 0
}

// sysOpen reads the path pointer out of the caller's address space,
// translates the ABI's O_CREATE bit into fsys's own OpenFlag, opens the
// file, and maps the resulting global descriptor into a fresh
// task-local slot. This minimal kernel has no O_RDONLY/O_WRONLY
// distinction at the open() call site (main.c only ever calls
// open(path, O_CREATE) or open(path, 0)), so every open requests
// read-write access.
func sysOpen(g *Gate, t *task.TCB, pathVA, flags, _ uint32) int32 {
	path, err := readUserCString(g.mgr, t.Space, pathVA)
	if err != nil {
		return -1
	}
	fflags := fsys.OFlagReadWrite
	if flags&OCreate != 0 {
		fflags |= fsys.OFlagCreate
	}
	gfd, err := g.fs.Open(context.Background(), path, fflags)
	if err != nil {
		return -1
	}
	lfd, err := proc.AllocLocalFD(t, gfd)
	if err != nil {
		g.fs.Close(gfd)
		return -1
	}
	return int32(lfd)
}

// sysClose releases a task-local descriptor. Closing fds 0-2 is a
// successful no-op: stdio slots have no entry in the global file table
// to release.
func sysClose(g *Gate, t *task.TCB, fd, _, _ uint32) int32 {
	lfd := int(int32(fd))
	if lfd >= 0 && lfd < 3 {
		return 0
	}
	gfd, err := proc.GlobalFD(t, lfd)
	if err != nil {
		return -1
	}
	if err := g.fs.Close(gfd); err != nil {
		return -1
	}
	proc.FreeLocalFD(t, lfd)
	return 0
}

// sysWrite implements WRITE. fds 1 and 2 route to the console's
// mutex-protected sink (spec.md §6's "writes to 1 or 2 go to the
// console"); fd 0 is invalid to write to; everything else goes through
// the mounted file system.
func sysWrite(g *Gate, t *task.TCB, fd, bufVA, n uint32) int32 {
	lfd := int(int32(fd))
	data, err := readUserBytes(g.mgr, t.Space, bufVA, int(n))
	if err != nil {
		return -1
	}
	switch lfd {
	case fsys.StdinFD:
		return -1
	case fsys.StdoutFD, fsys.StderrFD:
		g.console.PutStr(string(data))
		return int32(n)
	}
	gfd, err := proc.GlobalFD(t, lfd)
	if err != nil {
		return -1
	}
	written, err := g.fs.Write(context.Background(), gfd, data)
	if err != nil {
		return -1
	}
	return int32(written)
}

// sysRead implements READ. fd 0 pulls decoded bytes off the keyboard
// ring buffer one at a time (blocking until each is available, the same
// backpressure Getchar already provides); fds 1 and 2 are invalid to
// read from; everything else reads through the file system and returns
// -1 at EOF, per spec.md §6.
func sysRead(g *Gate, t *task.TCB, fd, bufVA, n uint32) int32 {
	lfd := int(int32(fd))
	switch lfd {
	case fsys.StdoutFD, fsys.StderrFD:
		return -1
	case fsys.StdinFD:
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = g.kbd.Getchar()
		}
		if err := writeUserBytes(g.mgr, t.Space, bufVA, buf); err != nil {
			return -1
		}
		return int32(n)
	}
	gfd, err := proc.GlobalFD(t, lfd)
	if err != nil {
		return -1
	}
	buf := make([]byte, n)
	read, err := g.fs.Read(context.Background(), gfd, buf)
	if err != nil {
		return -1
	}
	if read == 0 {
		return -1
	}
	if err := writeUserBytes(g.mgr, t.Space, bufVA, buf[:read]); err != nil {
		return -1
	}
	return int32(read)
}

// sysLseek implements LSEEK, translating the ABI's 1/2/3 whence
// encoding into fsys.Lseek's 0/1/2 convention.
func sysLseek(g *Gate, t *task.TCB, fd, offset, whence uint32) int32 {
	gfd, err := proc.GlobalFD(t, int(int32(fd)))
	if err != nil {
		return -1
	}
	w, ok := translateWhence(whence)
	if !ok {
		return -1
	}
	pos, err := g.fs.Lseek(gfd, int64(int32(offset)), w)
	if err != nil {
		return -1
	}
	return int32(pos)
}

// sysUnlink implements UNLINK.
func sysUnlink(g *Gate, t *task.TCB, pathVA, _, _ uint32) int32 {
	path, err := readUserCString(g.mgr, t.Space, pathVA)
	if err != nil {
		return -1
	}
	if err := g.fs.Unlink(context.Background(), path); err != nil {
		return -1
	}
	return 0
}

// sysMkdir implements MKDIR.
func sysMkdir(g *Gate, t *task.TCB, pathVA, _, _ uint32) int32 {
	path, err := readUserCString(g.mgr, t.Space, pathVA)
	if err != nil {
		return -1
	}
	if err := g.fs.Mkdir(context.Background(), path); err != nil {
		return -1
	}
	return 0
}

// sysOpendir implements OPENDIR, mapping the resulting directory
// descriptor into the task-local table exactly like sysOpen.
func sysOpendir(g *Gate, t *task.TCB, pathVA, _, _ uint32) int32 {
	path, err := readUserCString(g.mgr, t.Space, pathVA)
	if err != nil {
		return -1
	}
	gfd, err := g.fs.OpenDir(context.Background(), path)
	if err != nil {
		return -1
	}
	lfd, err := proc.AllocLocalFD(t, gfd)
	if err != nil {
		g.fs.CloseDir(gfd)
		return -1
	}
	return int32(lfd)
}

// sysClosedir implements CLOSEDIR.
func sysClosedir(g *Gate, t *task.TCB, fd, _, _ uint32) int32 {
	lfd := int(int32(fd))
	gfd, err := proc.GlobalFD(t, lfd)
	if err != nil {
		return -1
	}
	if err := g.fs.CloseDir(gfd); err != nil {
		return -1
	}
	proc.FreeLocalFD(t, lfd)
	return 0
}

// sysReaddir implements READDIR. Neither spec.md nor
// kernel/syscall.c's single-syscall stub says how a directory entry's
// name and type cross the int32-only return-value ABI; this gate writes
// the name (NUL-terminated, truncated to edx bytes if necessary) into
// the caller's buffer at ecx and returns 1 for a directory, 0 for a
// regular file, -1 once the directory is exhausted or on any error —
// consistent with every other syscall's "-1 means stop/failed"
// convention.
func sysReaddir(g *Gate, t *task.TCB, fd, bufVA, bufLen uint32) int32 {
	gfd, err := proc.GlobalFD(t, int(int32(fd)))
	if err != nil {
		return -1
	}
	name, isDir, ok, err := g.fs.ReadDir(context.Background(), gfd)
	if err != nil || !ok {
		return -1
	}
	out := []byte(name)
	max := int(bufLen)
	if max > 0 && len(out) > max-1 {
		out = out[:max-1]
	}
	out = append(out, 0)
	if err := writeUserBytes(g.mgr, t.Space, bufVA, out); err != nil {
		return -1
	}
	if isDir {
		return 1
	}
	return 0
}
