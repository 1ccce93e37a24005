package syscall

import (
	"errors"

	"github.com/elinor-voss/protokernel/mm"
)

// ErrFault mirrors a real page fault on an unmapped user address: the
// syscall gate rejects the request rather than dereferencing it, since
// nothing in this simulation should ever let a kernel-mode goroutine
// read or write memory a user process never mapped.
var ErrFault = errors.New("syscall: invalid user address")

// maxPathLen bounds how far readUserCString will scan looking for a NUL
// terminator; no original_source constant names this directly, so this
// is a generous safety cap rather than a value lifted from the source.
const maxPathLen = 4096

// readUserBytes copies n bytes starting at va out of sp's address space
// into a freshly allocated buffer, translating one page at a time.
func readUserBytes(mgr *mm.Manager, sp *mm.Space, va uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; {
		cur := va + uint32(i)
		pa, ok := mgr.VirtToPhys(sp, cur)
		if !ok {
			return nil, ErrFault
		}
		chunk := int(mm.PageSize - cur&(mm.PageSize-1))
		if chunk > n-i {
			chunk = n - i
		}
		mgr.ReadPhys(pa, out[i:i+chunk])
		i += chunk
	}
	return out, nil
}

// writeUserBytes is the inverse of readUserBytes: it copies data into
// sp's address space starting at va.
func writeUserBytes(mgr *mm.Manager, sp *mm.Space, va uint32, data []byte) error {
	for i := 0; i < len(data); {
		cur := va + uint32(i)
		pa, ok := mgr.VirtToPhys(sp, cur)
		if !ok {
			return ErrFault
		}
		chunk := int(mm.PageSize - cur&(mm.PageSize-1))
		if chunk > len(data)-i {
			chunk = len(data) - i
		}
		mgr.WritePhys(pa, data[i:i+chunk])
		i += chunk
	}
	return nil
}

// readUserCString reads a NUL-terminated string out of sp's address
// space, the convention every path-taking syscall uses for its pointer
// argument.
func readUserCString(mgr *mm.Manager, sp *mm.Space, va uint32) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxPathLen; i++ {
		b, err := readUserBytes(mgr, sp, va+uint32(i), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", errors.New("syscall: path exceeds maximum length")
}
