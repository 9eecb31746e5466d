package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/giantswarm/shmstack/internal/fileutil"
)

// Region is one process's view of the shared arena.
//
// A Region is not safe for concurrent use. Every access must happen while
// the caller holds the cross-process lock, which also serializes goroutines
// inside a single process.
type Region struct {
	path string
	file *os.File
	mem  []byte
}

// Init formats mem as a fresh, empty region and returns a view of it. It is
// used for process-local regions (tests, benchmarks); Create is the shared
// equivalent.
func Init(mem []byte) (*Region, error) {
	if len(mem) < HeaderSize {
		return nil, fmt.Errorf("init region of %d bytes: %w", len(mem), ErrTooSmall)
	}
	format(mem)
	return &Region{mem: mem}, nil
}

// Attach returns a view of mem, which must already hold a valid header.
func Attach(mem []byte) (*Region, error) {
	if err := validate(mem); err != nil {
		return nil, fmt.Errorf("attach region: %w", err)
	}
	return &Region{mem: mem}, nil
}

// Create creates the backing file at path with exclusive access, sizes it to
// size bytes, maps it shared, and formats the header. The file must not
// already exist: an existing file may belong to a live server.
func Create(path string, size int) (*Region, error) {
	if size < HeaderSize {
		return nil, fmt.Errorf("create region %s with %d bytes: %w", path, size, ErrTooSmall)
	}

	file, err := fileutil.CreateExclusive(path, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create region file: %w", err)
	}

	cleanup := func() {
		_ = file.Close()
		_ = os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("resize region file %s: %w", path, err)
	}

	mem, err := mapFile(file, size)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("map region %s: %w", path, err)
	}

	format(mem)
	return &Region{path: path, file: file, mem: mem}, nil
}

// Open maps an existing region created by Create and validates its header.
func Open(path string) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open region file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat region file %s: %w", path, err)
	}
	if info.Size() < HeaderSize {
		_ = file.Close()
		return nil, fmt.Errorf("open region %s (%d bytes): %w", path, info.Size(), ErrTooSmall)
	}

	mem, err := mapFile(file, int(info.Size()))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("map region %s: %w", path, err)
	}

	if err := validate(mem); err != nil {
		_ = unmapFile(mem)
		_ = file.Close()
		return nil, fmt.Errorf("open region %s: %w", path, err)
	}

	return &Region{path: path, file: file, mem: mem}, nil
}

// Path returns the backing file path, or "" for a process-local region.
func (r *Region) Path() string {
	return r.path
}

// Size returns the total region size in bytes, header included.
func (r *Region) Size() uint64 {
	return uint64(len(r.mem))
}

// Close unmaps the region and closes the backing file. The file itself is
// left in place; see Remove. Close is idempotent.
func (r *Region) Close() error {
	var errs []error
	if r.file != nil {
		if err := unmapFile(r.mem); err != nil {
			errs = append(errs, fmt.Errorf("unmap region %s: %w", r.path, err))
		}
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close region file %s: %w", r.path, err))
		}
		r.file = nil
	}
	r.mem = nil
	return errors.Join(errs...)
}

// Remove deletes the backing file. Processes that still map the region keep
// their mapping; new processes can no longer open it.
func (r *Region) Remove() error {
	if r.path == "" {
		return nil
	}
	if err := fileutil.RemoveIfExists(r.path); err != nil {
		return fmt.Errorf("remove region file: %w", err)
	}
	return nil
}

// DefaultPath returns the path used for a server's region when none is
// configured. /dev/shm is preferred because it is memory-backed on Linux;
// the system temp directory is the fallback.
func DefaultPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}
