package swapdisk

import (
	"golang.org/x/sys/unix"
)

// osFile backs a Disk with a real file, read and written directly via
// unix.Pread/Pwrite rather than os.File's buffered offset-based calls, so
// concurrent sector access never races on a shared file cursor.
type osFile struct {
	fd int
}

func openFileBacking(path string, size int) (*osFile, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &osFile{fd: fd}, nil
}

func (f *osFile) ReadAt(p []byte, off int64) (int, error) {
	return unix.Pread(f.fd, p, off)
}

func (f *osFile) WriteAt(p []byte, off int64) (int, error) {
	return unix.Pwrite(f.fd, p, off)
}

func (f *osFile) Close() error {
	return unix.Close(f.fd)
}
