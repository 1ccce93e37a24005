package devio

import (
	"github.com/elinor-voss/protokernel/ksync"
	"github.com/elinor-voss/protokernel/task"
)

// Control character constants, grounded on device/keyboard.c.
const (
	kbdEsc       = 0x1b
	kbdTab       = '\t'
	kbdEnter     = '\r'
	kbdBackspace = '\b'
)

// Make/break scancodes for the tracked modifier keys, grounded on
// device/keyboard.c's SHIFT/ALT/CTRL/CAPS_LOCK macros. Extended (0xE0
// prefixed) codes are represented with the 0xE000 bit already folded
// in, matching the original's ext_scancode construction.
const (
	shiftLMake  = 0x2a
	shiftLBreak = 0xaa
	shiftRMake  = 0x36
	shiftRBreak = 0xb6
	altLMake    = 0x38
	altLBreak   = 0xb8
	altRMake    = 0xe038
	altRBreak   = 0xe0b8
	ctrlLMake   = 0x1d
	ctrlLBreak  = 0x9d
	ctrlRMake   = 0xe01d
	ctrlRBreak  = 0xe09d
	capsMake    = 0x3a
	capsBreak   = 0xba
)

// keymapMax is the highest scancode the original's tables cover;
// anything past it is silently dropped (device/keyboard.c: "Our keymap
// only handle scancode <= 0x3a now").
const keymapMax = 0x3a

// keymap and shiftKeymap are the scancode -> ASCII tables, index by
// scancode. A 0 entry is an invisible control character (shift, ctrl,
// alt, caps lock) that never produces output by itself.
var keymap = [keymapMax + 1]byte{
	0x00: '0', 0x01: kbdEsc, 0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4',
	0x06: '5', 0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x0c: '-', 0x0d: '=', 0x0e: kbdBackspace, 0x0f: kbdTab,
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't', 0x15: 'y',
	0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p', 0x1a: '[', 0x1b: ']',
	0x1c: kbdEnter, 0x1d: 0, 0x1e: 'a', 0x1f: 's', 0x20: 'd', 0x21: 'f',
	0x22: 'g', 0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l', 0x27: ';',
	0x28: '\'', 0x29: '`', 0x2a: 0, 0x2b: '\\', 0x2c: 'z', 0x2d: 'x',
	0x2e: 'c', 0x2f: 'v', 0x30: 'b', 0x31: 'n', 0x32: 'm', 0x33: ',',
	0x34: '.', 0x35: '/', 0x36: 0, 0x37: '*', 0x38: 0, 0x39: ' ', 0x3a: 0,
}

var shiftKeymap = [keymapMax + 1]byte{
	0x00: 0, 0x01: kbdEsc, 0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$',
	0x06: '%', 0x07: '^', 0x08: '&', 0x09: '*', 0x0a: '(', 0x0b: ')',
	0x0c: '_', 0x0d: '+', 0x0e: kbdBackspace, 0x0f: kbdTab,
	0x10: 'Q', 0x11: 'W', 0x12: 'E', 0x13: 'R', 0x14: 'T', 0x15: 'Y',
	0x16: 'U', 0x17: 'I', 0x18: 'O', 0x19: 'P', 0x1a: '{', 0x1b: '}',
	0x1c: kbdEnter, 0x1d: 0, 0x1e: 'A', 0x1f: 'S', 0x20: 'D', 0x21: 'F',
	0x22: 'G', 0x23: 'H', 0x24: 'J', 0x25: 'K', 0x26: 'L', 0x27: ':',
	0x28: '"', 0x29: '~', 0x2a: 0, 0x2b: '|', 0x2c: 'Z', 0x2d: 'X',
	0x2e: 'C', 0x2f: 'V', 0x30: 'B', 0x31: 'N', 0x32: 'M', 0x33: '<',
	0x34: '>', 0x35: '?', 0x36: 0, 0x37: '*', 0x38: 0, 0x39: ' ', 0x3a: 0,
}

// keyboardRingCapacity is the keyboard ring buffer's fixed capacity.
// Grounded on spec.md §8 scenario 6 ("count never exceeds 256").
const keyboardRingCapacity = 256

// Keyboard decodes a stream of PS/2 scan-code-set-1 bytes into ASCII
// and pushes the result into a bounded ring buffer. Grounded on
// intr_keyboard_handler in device/keyboard.c: the modifier-tracking
// state (shift/ctrl/alt/caps-lock, including caps lock's edge-trigger
// hold flag) and the 0xE0 extended-prefix handling are carried
// unchanged; only the final put_char call is replaced with a push onto
// a ksync.RingBuffer, since there is no VGA cursor to advance here.
//
// Ring.Put can legitimately block (backpressure when a consumer falls
// behind), and every ksync primitive identifies its caller via the
// scheduler's notion of the current task — so, unlike ide's disk ISR
// (which only ever calls the non-blocking Semaphore.Post), the decoder
// itself runs on a dedicated low-priority scheduled task that consumes
// scancodes off an internal channel. Feed is the producer-facing entry
// point and is safe to call from any goroutine, playing the role of the
// real IRQ1 handler registering a byte from the controller's data port.
type Keyboard struct {
	Ring *ksync.RingBuffer

	scancodes chan byte

	shiftDown, ctrlDown, altDown bool
	capsLock, capsHold           bool
	extPending                   bool
}

// NewKeyboard creates a keyboard decoder with its own ring buffer and
// starts its internal decoding task.
func NewKeyboard(s *task.Scheduler) *Keyboard {
	k := &Keyboard{
		Ring:      ksync.NewRingBuffer(s, keyboardRingCapacity),
		scancodes: make(chan byte, keyboardRingCapacity),
	}
	s.Spawn("keyboard-isr", 1, func(self *task.TCB) {
		for sc := range k.scancodes {
			k.handle(sc)
		}
	})
	return k
}

// Feed registers one byte read from the PS/2 controller's data port,
// as device/keyboard.c's intr_keyboard_handler would after an IRQ1.
func (k *Keyboard) Feed(scancode byte) {
	k.scancodes <- scancode
}

// handle runs only on the internal decoding task; its modifier-tracking
// fields need no lock since exactly one goroutine ever touches them.
func (k *Keyboard) handle(scancode byte) {
	if scancode == 0xe0 {
		k.extPending = true
		return
	}

	ext := uint16(scancode)
	if k.extPending {
		ext |= 0xe000
		k.extPending = false
	}

	switch ext {
	case shiftLMake, shiftRMake:
		k.shiftDown = true
		return
	case shiftLBreak, shiftRBreak:
		k.shiftDown = false
		return
	case altLMake, altRMake:
		k.altDown = true
		return
	case altLBreak, altRBreak:
		k.altDown = false
		return
	case ctrlLMake, ctrlRMake:
		k.ctrlDown = true
		return
	case ctrlLBreak, ctrlRBreak:
		k.ctrlDown = false
		return
	case capsMake:
		if !k.capsHold {
			k.capsLock = !k.capsLock
			k.capsHold = true
		}
		return
	case capsBreak:
		k.capsHold = false
		return
	}

	if ext > keymapMax {
		return
	}

	table := &keymap
	if k.shiftDown {
		table = &shiftKeymap
	}
	ch := table[ext]
	if ch == 0 {
		return
	}
	if ch >= 'a' && ch <= 'z' && k.capsLock {
		ch -= 32
	}
	k.Ring.Put(ch)
}

// Getchar blocks until a decoded character is available, then returns
// it. Grounded on the consumer side of ioq_getchar via device/ioqueue.c.
func (k *Keyboard) Getchar() byte {
	return k.Ring.Get()
}
