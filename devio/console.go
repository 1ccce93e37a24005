// Package devio implements the producer side of the device ring
// buffers spec.md treats as "external collaborators" for their
// hardware half: a mutex-protected console text sink, and a PS/2
// keyboard scancode decoder that pushes ASCII into a bounded ring
// buffer. The PIT timer-tick source itself is out of scope (spec.md
// §2); task.Scheduler's simulated timer already drives tick
// advancement, so devio has no separate timer type.
//
// Grounded on device/console.c and device/keyboard.c in the original
// implementation.
package devio

import (
	"fmt"
	"io"

	"github.com/elinor-voss/protokernel/ksync"
	"github.com/elinor-voss/protokernel/task"
)

// Console serializes writes to a single text sink behind a recursive
// mutex. Grounded on console_init/console_put_str/put_char/put_int in
// device/console.c; the underlying VGA text-mode printer itself is an
// external collaborator (spec.md §2), represented here by any
// io.Writer (typically os.Stdout).
type Console struct {
	mu  *ksync.Mutex
	out io.Writer
}

// NewConsole creates a console writing to out.
func NewConsole(s *task.Scheduler, out io.Writer) *Console {
	return &Console{mu: ksync.NewMutex(s), out: out}
}

// PutStr writes str atomically with respect to every other Console
// call. Grounded on console_put_str.
func (c *Console) PutStr(str string) {
	c.mu.Acquire()
	defer c.mu.Release()
	io.WriteString(c.out, str)
}

// PutChar writes a single byte. Grounded on console_put_char.
func (c *Console) PutChar(ch byte) {
	c.mu.Acquire()
	defer c.mu.Release()
	c.out.Write([]byte{ch})
}

// PutInt writes num in the kernel's hexadecimal debug format. Grounded
// on console_put_int.
func (c *Console) PutInt(num uint32) {
	c.mu.Acquire()
	defer c.mu.Release()
	fmt.Fprintf(c.out, "0x%08X", num)
}
