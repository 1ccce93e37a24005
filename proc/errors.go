package proc

import "errors"

// ErrNoStackPage mirrors process_start's implicit failure mode when
// get_a_page(PF_USER, ...) cannot satisfy the initial user stack: the
// user frame pool is exhausted before the process ever runs.
var ErrNoStackPage = errors.New("proc: could not allocate user stack page")

// ErrNoFreeFD mirrors get_global_fd's behavior turned inward on the
// task-local table: all 32 per-task descriptor slots (3..31, since 0-2
// are reserved) are in use.
var ErrNoFreeFD = errors.New("proc: no free task-local file descriptor")

// ErrBadFD is returned for a task-local descriptor outside [3, MaxFDs)
// (0-2 are the reserved stdio slots) or one that is not currently
// allocated.
var ErrBadFD = errors.New("proc: bad file descriptor")
