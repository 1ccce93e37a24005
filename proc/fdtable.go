package proc

import "github.com/elinor-voss/protokernel/task"

// firstUserFD mirrors fsys.firstUserFD: task-local descriptors 0, 1 and
// 2 are permanently reserved for stdin/stdout/stderr and are never
// handed out by AllocLocalFD, matching get_global_fd's scan start in
// fs/file.c applied to the per-task table instead of the global one.
const firstUserFD = 3

// AllocLocalFD finds a free slot in t's per-task descriptor table (scan
// for -1, per spec.md §3) and records globalFD in it, returning the
// task-local descriptor a syscall caller will use from then on.
func AllocLocalFD(t *task.TCB, globalFD int) (int, error) {
	for i := firstUserFD; i < task.MaxFDs; i++ {
		if t.FDTable[i] == -1 {
			t.FDTable[i] = int32(globalFD)
			return i, nil
		}
	}
	return 0, ErrNoFreeFD
}

// GlobalFD translates a task-local descriptor into its global
// fsys-table index. Descriptors 0, 1 and 2 have no global counterpart
// (they are routed straight to the console/keyboard by the syscall
// layer) and are rejected here.
func GlobalFD(t *task.TCB, localFD int) (int, error) {
	if localFD < firstUserFD || localFD >= task.MaxFDs {
		return 0, ErrBadFD
	}
	g := t.FDTable[localFD]
	if g < 0 {
		return 0, ErrBadFD
	}
	return int(g), nil
}

// FreeLocalFD clears a task-local descriptor slot, the inverse of
// AllocLocalFD.
func FreeLocalFD(t *task.TCB, localFD int) error {
	if localFD < firstUserFD || localFD >= task.MaxFDs {
		return ErrBadFD
	}
	if t.FDTable[localFD] == -1 {
		return ErrBadFD
	}
	t.FDTable[localFD] = -1
	return nil
}
