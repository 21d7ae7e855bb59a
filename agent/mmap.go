package agent

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/mapping"
)

// shadowFor attaches a private shadow copy of a freshly-mapped real
// segment, unless the caller asked for no-shadow mode. The returned
// closeFn is nil in no-shadow mode and must otherwise be folded into
// the mapping.Entry's Release so the shadow segment is torn down
// alongside the real one.
func shadowFor(name string, size int, withShadow bool) (base uintptr, closeFn func() error, err error) {
	if !withShadow {
		return 0, nil, nil
	}
	data, closeShadow, err := arena.AttachMMap(name+".shadow", size)
	if err != nil {
		return 0, nil, err
	}
	return bytesAddr(data), closeShadow, nil
}

// release composes the real region's own close/detach with the
// shadow's, if any, into a single Entry.Release callback.
func release(closeReal func() error, closeShadow func() error) func() error {
	return func() error {
		var errs []error
		if err := closeReal(); err != nil {
			errs = append(errs, err)
		}
		if closeShadow != nil {
			if err := closeShadow(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func bytesAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// ShmMmap attaches a file-backed shared mapping, and, on success,
// registers it in the mapping table with a shadow attachment. A
// mapping is installed only when the backing file is both readable
// and writable by the user and the mapping itself is writable.
func (a *Agent) ShmMmap(path string, size int, writable bool, withShadow bool) (*mapping.Entry, []byte, error) {
	if !writable {
		diag.ConfigFault("agent: mmap requested without write access", "path", path)
		return nil, nil, fmt.Errorf("agent: non-writable mmap is unsupported")
	}
	// AttachMMap resolves path under /dev/shm itself; check the same
	// resolved location rather than the bare name.
	if err := checkReadWrite("/dev/shm/" + path); err != nil {
		diag.ConfigFault("agent: mmap backing file not readable+writable", "path", path, "err", err)
		return nil, nil, err
	}

	data, closeReal, err := arena.AttachMMap(path, size)
	if err != nil {
		return nil, nil, err
	}
	shadow, closeShadow, err := shadowFor(path, size, withShadow)
	if err != nil {
		return nil, nil, err
	}

	e := &mapping.Entry{
		RealBase:   bytesAddr(data),
		ShadowBase: shadow,
		Length:     uintptr(size),
		Release:    release(closeReal, closeShadow),
	}
	if err := a.Mapping.Insert(e); err != nil {
		diag.ConfigFault("agent: mmap mapping insert failed", "err", err)
		return nil, nil, err
	}
	return e, data, nil
}

// ShmShmat performs a SysV shmat attach, unconditionally
// installing a mapping entry regardless of the segment's own
// read/write permission bits.
func (a *Agent) ShmShmat(key int, size int, withShadow bool) (*mapping.Entry, []byte, error) {
	data, _, err := arena.AttachSysV(key, size)
	if err != nil {
		return nil, nil, err
	}
	shadow, closeShadow, err := shadowFor(fmt.Sprintf("sysv-%d", key), size, withShadow)
	if err != nil {
		return nil, nil, err
	}

	e := &mapping.Entry{
		RealBase:   bytesAddr(data),
		ShadowBase: shadow,
		Length:     uintptr(size),
		Release:    release(func() error { return arena.DetachSysV(data) }, closeShadow),
	}
	if err := a.Mapping.Insert(e); err != nil {
		diag.ConfigFault("agent: shmat mapping insert failed", "err", err)
		return nil, nil, err
	}
	return e, data, nil
}

// ShmMunmap removes the mapping entry and releases both the real
// mapping and its shadow attachment, if any. A partial unmap (length
// not matching the full mapped range) is a configuration fault.
func (a *Agent) ShmMunmap(base uintptr, length uintptr) error {
	e, err := a.Mapping.Remove(base, length)
	switch err {
	case nil:
		if e.Release == nil {
			return nil
		}
		return e.Release()
	case mapping.ErrPartialUnmap:
		diag.ConfigFault("agent: partial munmap is unsupported", "base", base, "length", length)
		return err
	default:
		return err
	}
}

// ShmShmdt removes the mapping entry and detaches both the SysV
// segment and its shadow attachment, if any.
func (a *Agent) ShmShmdt(base uintptr, length uintptr, data []byte) error {
	e, err := a.Mapping.Remove(base, length)
	if err != nil {
		if err == mapping.ErrPartialUnmap {
			diag.ConfigFault("agent: partial shmdt is unsupported", "base", base, "length", length)
		}
		return err
	}
	if e.Release == nil {
		return arena.DetachSysV(data)
	}
	return e.Release()
}

func checkReadWrite(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	const userRW = 0o600
	if mode&userRW != userRW {
		return fmt.Errorf("agent: %s is not both user-readable and user-writable", path)
	}
	return nil
}
