// Package block implements the block device layer: a fixed-size byte array
// addressed in block-granular units, with a free-space bitmap for blocks and
// a second bitmap for inode allocation. Both bitmaps live in block 0 and are
// exposed as zero-copy views so that flipping a bit is immediately visible to
// anyone holding a slice of the same underlying array.
package block

import (
	"fmt"
	"io"
	"os"

	"github.com/boljen/go-bitmap"
	"github.com/noxer/bytewriter"
	"github.com/xaionaro-go/bytesextra"
)

// BS is the size of a single block, in bytes.
const BS = 4096

// DefaultTotalBlocks is the number of blocks in a freshly formatted volume
// using the default geometry.
const DefaultTotalBlocks = 256

// DefaultTotalInodes is the number of inode slots reserved by a freshly
// formatted volume using the default geometry.
const DefaultTotalInodes = 256

// InodeRecordSize is the on-disk size of a single inode record, in bytes.
// See the inode package for the field layout.
const InodeRecordSize = 72

// ID identifies a block by its index into the volume.
type ID uint32

// Device is the block device (BD): it owns the raw byte array backing the
// volume and the two allocation bitmaps packed into block 0.
//
// Device is not safe for concurrent use; callers (the sfs.Storage façade)
// are responsible for serializing access.
type Device struct {
	raw            []byte
	stream         io.ReadWriteSeeker
	totalBlocks    uint
	totalInodes    uint
	reservedBlocks uint // block 0 plus the inode table blocks
	blockBitmap    bitmap.Bitmap
	inodeBitmap    bitmap.Bitmap
}

// BytesToBlocks rounds n up to the nearest whole number of blocks.
// BytesToBlocks(0) is 0.
func BytesToBlocks(n uint) uint {
	return (n + BS - 1) / BS
}

// InodeTableBlocks gives the number of blocks reserved for the inode table
// given a total inode count: block 1 through the block holding the last
// inode record.
func InodeTableBlocks(totalInodes uint) uint {
	return BytesToBlocks(totalInodes * InodeRecordSize)
}

// blockBitmapBytes and inodeBitmapBytes give the byte ranges within block 0
// occupied by each bitmap.
func blockBitmapBytes(totalBlocks uint) uint {
	return (totalBlocks + 7) / 8
}

func inodeBitmapBytes(totalInodes uint) uint {
	return (totalInodes + 7) / 8
}

// New creates a freshly formatted, purely in-memory Device: block 0 and the
// inode table blocks are reserved, every other block and inode is free.
func New(totalBlocks, totalInodes uint) (*Device, error) {
	if err := checkGeometry(totalBlocks, totalInodes); err != nil {
		return nil, err
	}

	raw := make([]byte, totalBlocks*BS)
	return newFromRaw(raw, totalBlocks, totalInodes, true)
}

// Mount acquires a backing image file, creating and zero-filling it if it
// doesn't exist. If the block bitmap stored in the image is entirely zero,
// the volume is treated as unformatted and is formatted in place; otherwise
// the existing bitmaps and data are loaded as-is.
//
// The caller must call Unmount to flush the image back to disk and release
// the file handle.
func Mount(path string, totalBlocks, totalInodes uint) (*Device, error) {
	if err := checkGeometry(totalBlocks, totalInodes); err != nil {
		return nil, err
	}

	size := int64(totalBlocks) * BS

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("block: mount %q: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("block: stat %q: %w", path, err)
	}

	if info.Size() != size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("block: resize %q: %w", path, err)
		}
	}

	raw := make([]byte, size)
	if _, err := file.ReadAt(raw, 0); err != nil && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("block: read %q: %w", path, err)
	}

	needsFormat := isAllZero(raw[:blockBitmapBytes(totalBlocks)])

	dev, err := newFromRaw(raw, totalBlocks, totalInodes, needsFormat)
	if err != nil {
		file.Close()
		return nil, err
	}
	dev.stream = file
	return dev, nil
}

// MountStream builds a Device over an already-open stream (typically a
// bytesextra-wrapped in-memory image in tests, or any other
// io.ReadWriteSeeker), reading its full contents up front the same way
// Mount does for a file. The stream must already be sized to
// totalBlocks*BS bytes.
func MountStream(stream io.ReadWriteSeeker, totalBlocks, totalInodes uint) (*Device, error) {
	if err := checkGeometry(totalBlocks, totalInodes); err != nil {
		return nil, err
	}

	size := int64(totalBlocks) * BS
	raw := make([]byte, size)
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("block: mount stream: %w", err)
	}
	if _, err := io.ReadFull(stream, raw); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("block: mount stream: %w", err)
	}

	needsFormat := isAllZero(raw[:blockBitmapBytes(totalBlocks)])

	dev, err := newFromRaw(raw, totalBlocks, totalInodes, needsFormat)
	if err != nil {
		return nil, err
	}
	dev.stream = stream
	return dev, nil
}

func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func checkGeometry(totalBlocks, totalInodes uint) error {
	reserved := 1 + InodeTableBlocks(totalInodes)
	if totalBlocks <= reserved {
		return fmt.Errorf(
			"block: geometry too small: %d blocks can't hold %d reserved blocks for %d inodes",
			totalBlocks, reserved, totalInodes,
		)
	}
	return nil
}

// newFromRaw builds a Device on top of an already-sized raw buffer. If
// format is true, the bitmaps are reset and the reserved region is marked
// in-use; otherwise the existing bitmap bytes are trusted as-is.
func newFromRaw(raw []byte, totalBlocks, totalInodes uint, format bool) (*Device, error) {
	blockBitmapSize := blockBitmapBytes(totalBlocks)
	inodeBitmapSize := inodeBitmapBytes(totalInodes)

	dev := &Device{
		raw:            raw,
		totalBlocks:    totalBlocks,
		totalInodes:    totalInodes,
		reservedBlocks: 1 + InodeTableBlocks(totalInodes),
		blockBitmap:    bitmap.NewSlice(raw[0:blockBitmapSize]),
		inodeBitmap:    bitmap.NewSlice(raw[blockBitmapSize : blockBitmapSize+inodeBitmapSize]),
	}

	if format {
		for i := uint(0); i < dev.reservedBlocks; i++ {
			dev.blockBitmap.Set(int(i), true)
		}
		if err := zeroInodeTable(raw, totalInodes); err != nil {
			return nil, err
		}
	}

	return dev, nil
}

// zeroInodeTable lays down a clean inode table at format time, one block at
// a time, through a sequential writer the way the on-disk layout is
// assembled block by block rather than via an offset computed by the
// caller. The backing buffer already starts zero-filled; this makes the
// inode table's layout an explicit step of formatting rather than an
// accident of Go's zero value, so a reformatted-in-place image (Mount
// reusing a stale buffer) ends up with the same clean table either way.
func zeroInodeTable(raw []byte, totalInodes uint) error {
	tableBlocks := InodeTableBlocks(totalInodes)
	if tableBlocks == 0 {
		return nil
	}

	span := tableBlocks * BS
	w := bytewriter.New(raw[BS : BS+span])
	zeroBlock := make([]byte, BS)
	for i := uint(0); i < tableBlocks; i++ {
		if _, err := w.Write(zeroBlock); err != nil {
			return fmt.Errorf("block: format inode table: %w", err)
		}
	}
	return nil
}

// Unmount flushes the image back to the backing stream (if any) and, for a
// backing file, closes it. It is a no-op for purely in-memory devices
// created with New.
func (d *Device) Unmount() error {
	if d.stream == nil {
		return nil
	}

	if err := d.flush(); err != nil {
		return err
	}

	if file, ok := d.stream.(*os.File); ok {
		return file.Close()
	}
	return nil
}

// Sync flushes the image to the backing stream without releasing it.
func (d *Device) Sync() error {
	if d.stream == nil {
		return nil
	}
	return d.flush()
}

func (d *Device) flush() error {
	if file, ok := d.stream.(*os.File); ok {
		if _, err := file.WriteAt(d.raw, 0); err != nil {
			return fmt.Errorf("block: flush: %w", err)
		}
		return file.Sync()
	}

	if _, err := d.stream.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("block: flush: %w", err)
	}
	if _, err := d.stream.Write(d.raw); err != nil {
		return fmt.Errorf("block: flush: %w", err)
	}
	return nil
}

// TotalBlocks returns the number of blocks in the volume.
func (d *Device) TotalBlocks() uint {
	return d.totalBlocks
}

// TotalInodes returns the number of inode slots in the volume.
func (d *Device) TotalInodes() uint {
	return d.totalInodes
}

// ReservedBlocks returns the number of blocks permanently reserved for the
// superblock and inode table (never allocatable, never freeable).
func (d *Device) ReservedBlocks() uint {
	return d.reservedBlocks
}

// FirstDataBlock is the first block index available for file/directory data.
func (d *Device) FirstDataBlock() ID {
	return ID(d.reservedBlocks)
}

// GetBlock returns a zero-copy view onto block i's BS bytes. It panics if i
// is out of range, matching the spec's "undefined for i not in [0, NBLOCKS)"
// — callers are expected to have validated the index against TotalBlocks
// already (every caller in this module does).
func (d *Device) GetBlock(i ID) []byte {
	start := uint(i) * BS
	return d.raw[start : start+BS]
}

// InodeBitmap returns the live view of the inode allocation bitmap, used by
// the inode package to manage inode allocation without duplicating the
// bitmap storage.
func (d *Device) InodeBitmap() bitmap.Bitmap {
	return d.inodeBitmap
}

// AllocBlock scans for the lowest-indexed free block at or above the first
// data block, marks it in use, zero-fills it, and returns its index.
func (d *Device) AllocBlock() (ID, error) {
	for i := uint(d.reservedBlocks); i < d.totalBlocks; i++ {
		if !d.blockBitmap.Get(int(i)) {
			d.blockBitmap.Set(int(i), true)
			block := d.GetBlock(ID(i))
			for j := range block {
				block[j] = 0
			}
			return ID(i), nil
		}
	}
	return 0, ErrNoSpace
}

// FreeBlock clears block i's bit. Freeing an already-free block is a
// documented no-op; freeing a reserved block is forbidden.
func (d *Device) FreeBlock(i ID) error {
	if uint(i) >= d.totalBlocks {
		return fmt.Errorf("block: %w: block %d not in [0, %d)", ErrInvalidArgument, i, d.totalBlocks)
	}
	if uint(i) < d.reservedBlocks {
		return fmt.Errorf("block: %w: block %d is reserved", ErrInvalidArgument, i)
	}
	d.blockBitmap.Set(int(i), false)
	return nil
}

// FreeBlockCount returns the number of currently unallocated blocks.
func (d *Device) FreeBlockCount() uint {
	free := uint(0)
	for i := uint(0); i < d.totalBlocks; i++ {
		if !d.blockBitmap.Get(int(i)) {
			free++
		}
	}
	return free
}

// BlockInUse reports whether block i is currently marked allocated.
func (d *Device) BlockInUse(i ID) bool {
	return d.blockBitmap.Get(int(i))
}

// bytesextraBackedStream wraps raw with bytesextra, giving callers an
// io.ReadWriteSeeker view instead of direct slice access.
func bytesextraBackedStream(raw []byte) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(raw)
}

// Stream returns an io.ReadWriteSeeker view of the whole image, backed by
// the same bytes GetBlock windows into. Storage.Dump uses this to let the
// CLI's dump command copy a volume out without understanding its layout.
func (d *Device) Stream() io.ReadWriteSeeker {
	return bytesextraBackedStream(d.raw)
}
