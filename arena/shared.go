package arena

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AttachMMap creates or opens a /dev/shm-backed file-mapped region
// through golang.org/x/sys/unix rather than the standard syscall
// package so the same import also covers the SysV shmat/shmdt family
// below that syscall lacks portably.
func AttachMMap(name string, size int) (data []byte, closeFn func() error, err error) {
	path := "/dev/shm/" + name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("arena: open %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, nil, fmt.Errorf("arena: truncate %s: %w", path, err)
	}

	data, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("arena: mmap %s: %w", path, err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}

// AttachSysV attaches a SysV shared memory segment identified by key,
// creating it with the given size if it does not already exist.
func AttachSysV(key int, size int) (data []byte, shmid int, err error) {
	shmid, err = unix.SysvShmGet(key, size, unix.IPC_CREAT|0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("arena: shmget: %w", err)
	}
	data, err = unix.SysvShmAttach(shmid, 0, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("arena: shmat: %w", err)
	}
	return data, shmid, nil
}

// DetachSysV detaches a SysV shared memory segment previously
// attached by AttachSysV.
func DetachSysV(data []byte) error {
	if err := unix.SysvShmDetach(data); err != nil {
		return fmt.Errorf("arena: shmdt: %w", err)
	}
	return nil
}
