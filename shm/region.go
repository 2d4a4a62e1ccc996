// Package shm maps a file into a writable byte region shared between
// processes and exposes the plain and acquire/release accessors the ring
// transport builds its synchronization protocol on.
package shm

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/AlephTX/aleph-ring/ringerr"
)

// MaxRegionSize rejects any request at or above this size, per the spec's
// resource-acquisition bound.
const MaxRegionSize = int64(1) << 62

// Region is a memory-mapped, file-backed byte region.
type Region struct {
	file *os.File
	data []byte
}

// FileSize reports the size of path, and whether it exists at all.
func FileSize(path string) (size int64, exists bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, ringerr.Wrap(ringerr.ResourceAcquisition, err, "shm: stat "+path)
	}
	return fi.Size(), true, nil
}

// Open creates path and extends it to size bytes if it does not exist, or
// attaches to it if it does, in which case its length must equal size
// exactly. The returned Region is mapped read/write and shared.
func Open(path string, size int64) (*Region, error) {
	if size <= 0 || size >= MaxRegionSize {
		return nil, ringerr.New(ringerr.ResourceAcquisition, "shm: invalid region size %d for %s", size, path)
	}

	fi, statErr := os.Stat(path)
	existed := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, ringerr.Wrap(ringerr.ResourceAcquisition, statErr, "shm: stat "+path)
	}

	flags := os.O_RDWR
	if !existed {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, ringerr.Wrap(ringerr.ResourceAcquisition, err, "shm: open "+path)
	}

	if existed {
		if fi.Size() != size {
			f.Close()
			return nil, ringerr.New(ringerr.ConfigurationMismatch,
				"shm: %s is %d bytes, expected %d", path, fi.Size(), size)
		}
	} else if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, ringerr.Wrap(ringerr.ResourceAcquisition, err, "shm: truncate "+path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		if !existed {
			os.Remove(path)
		}
		return nil, ringerr.Wrap(ringerr.ResourceAcquisition, err, "shm: mmap "+path)
	}

	return &Region{file: f, data: data}, nil
}

// Bytes returns the mapped region as a byte slice, valid until Close.
func (r *Region) Bytes() []byte { return r.data }

// Len returns the size of the mapped region in bytes.
func (r *Region) Len() int { return len(r.data) }

// Path returns the backing file's path.
func (r *Region) Path() string { return r.file.Name() }

// GetByte is a plain, non-volatile load.
func (r *Region) GetByte(off int64) byte { return r.data[off] }

// PutByte is a plain, non-volatile store.
func (r *Region) PutByte(off int64, v byte) { r.data[off] = v }

// GetUint32 is a plain, non-volatile little-endian load.
func (r *Region) GetUint32(off int64) uint32 {
	return binary.LittleEndian.Uint32(r.data[off:])
}

// PutUint32 is a plain, non-volatile little-endian store.
func (r *Region) PutUint32(off int64, v uint32) {
	binary.LittleEndian.PutUint32(r.data[off:], v)
}

// GetUint64 is a plain, non-volatile little-endian load.
func (r *Region) GetUint64(off int64) uint64 {
	return binary.LittleEndian.Uint64(r.data[off:])
}

// PutUint64 is a plain, non-volatile little-endian store.
func (r *Region) PutUint64(off int64, v uint64) {
	binary.LittleEndian.PutUint64(r.data[off:], v)
}

// CopyIn copies src into the region starting at off.
func (r *Region) CopyIn(off int64, src []byte) {
	copy(r.data[off:], src)
}

// CopyOut copies len(dst) bytes from the region starting at off into dst.
func (r *Region) CopyOut(dst []byte, off int64) {
	copy(dst, r.data[off:off+int64(len(dst))])
}

// LoadUint32Acquire performs an acquire-load of a 32-bit quantity at off.
// off must be 4-byte aligned.
func (r *Region) LoadUint32Acquire(off int64) uint32 {
	p := (*uint32)(unsafe.Pointer(&r.data[off]))
	return atomic.LoadUint32(p)
}

// StoreUint32Release performs a release-store of a 32-bit quantity at off.
// off must be 4-byte aligned.
func (r *Region) StoreUint32Release(off int64, v uint32) {
	p := (*uint32)(unsafe.Pointer(&r.data[off]))
	atomic.StoreUint32(p, v)
}

// LoadUint64Acquire performs an acquire-load of a 64-bit quantity at off.
// off must be 8-byte aligned.
func (r *Region) LoadUint64Acquire(off int64) uint64 {
	p := (*uint64)(unsafe.Pointer(&r.data[off]))
	return atomic.LoadUint64(p)
}

// StoreUint64Release performs a release-store of a 64-bit quantity at off.
// off must be 8-byte aligned.
func (r *Region) StoreUint64Release(off int64, v uint64) {
	p := (*uint64)(unsafe.Pointer(&r.data[off]))
	atomic.StoreUint64(p, v)
}

// Close unmaps the region and, if deleteFile is set, removes the backing
// file right after this region's own unmap and close. Other openers of the
// same file are not tracked: the file is removed even if another process
// still has it mapped.
func (r *Region) Close(deleteFile bool) error {
	path := r.file.Name()
	munmapErr := unix.Munmap(r.data)
	closeErr := r.file.Close()
	if munmapErr != nil {
		return ringerr.Wrap(ringerr.ResourceAcquisition, munmapErr, "shm: munmap "+path)
	}
	if closeErr != nil {
		return ringerr.Wrap(ringerr.ResourceAcquisition, closeErr, "shm: close "+path)
	}
	if deleteFile {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ringerr.Wrap(ringerr.ResourceAcquisition, err, "shm: remove "+path)
		}
	}
	return nil
}
