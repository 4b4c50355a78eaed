// Package inode implements the inode table (IT): fixed-size 72-byte records
// stored contiguously starting at block 1, each describing one file or
// directory's type, link count, size, and the block map used to locate its
// data.
package inode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nwillc/sfs/block"
)

// NDirect is the number of direct block pointers stored in each inode.
const NDirect = 12

// NIndirect is the number of block pointers held in the single indirect
// block, i.e. BS/4.
const NIndirect = block.BS / 4

// MaxFileBlocks is the largest number of data blocks a single file can
// reference: NDirect direct pointers plus NIndirect pointers reachable
// through the one indirect block.
const MaxFileBlocks = NDirect + NIndirect

// MaxFileSize is the largest byte offset a file may grow to.
const MaxFileSize = MaxFileBlocks * block.BS

// RootNum is the inode number of the root directory, reserved at format
// time and never freed.
const RootNum Num = 1

// Record layout, all little-endian uint32 fields, 72 bytes total, matching
// the on-disk contract bit for bit:
//
//	offset  0: inum     (redundant self-reference)
//	offset  4: mode     (type + permission bits)
//	offset  8: refs     (reserved, always zero)
//	offset 12: links    (hard link count)
//	offset 16: size     (file size in bytes)
//	offset 20: direct[0..11] (12 * 4 = 48 bytes)
//	offset 68: indirect (pointer to the single indirect block, 0 if unused)
const (
	offInum     = 0
	offMode     = 4
	offRefs     = 8
	offLinks    = 12
	offSize     = 16
	offDirect   = 20
	offIndirect = offDirect + NDirect*4
)

// Mode bits stored in an inode's mode field. Only the type bits are
// interpreted by this package; permission bits are opaque to it.
const (
	ModeTypeMask = 0xF000
	ModeTypeFile = 0x8000
	ModeTypeDir  = 0x4000
)

var (
	// ErrNoInodes is returned by Alloc when every inode slot in [2, N) is
	// in use.
	ErrNoInodes = errors.New("no free inodes")

	// ErrInvalidInode is returned for an out-of-range inode number passed
	// to an operation that requires one.
	ErrInvalidInode = errors.New("invalid inode number")
)

// Num identifies an inode by its slot index in the table. 0 is reserved as
// the null inode; 1 is reserved as the root directory.
type Num uint32

// Raw is a zero-copy typed view onto one 72-byte inode record. Mutations
// through a Raw are visible to every other Raw over the same record,
// matching the aliasing the block layer already provides for blocks.
type Raw struct {
	buf []byte
}

func rawAt(dev *block.Device, n Num) Raw {
	byteOffset := uint(n) * block.InodeRecordSize
	blockIdx := 1 + byteOffset/block.BS
	withinBlock := byteOffset % block.BS
	blk := dev.GetBlock(block.ID(blockIdx))
	return Raw{buf: blk[withinBlock : withinBlock+block.InodeRecordSize]}
}

// Inum returns the inode's self-reported index.
func (r Raw) Inum() Num { return Num(binary.LittleEndian.Uint32(r.buf[offInum:])) }

// SetInum sets the inode's self-reported index.
func (r Raw) SetInum(n Num) { binary.LittleEndian.PutUint32(r.buf[offInum:], uint32(n)) }

// Mode returns the inode's type+permission bits.
func (r Raw) Mode() uint32 { return binary.LittleEndian.Uint32(r.buf[offMode:]) }

// SetMode sets the inode's type+permission bits.
func (r Raw) SetMode(mode uint32) { binary.LittleEndian.PutUint32(r.buf[offMode:], mode) }

// Links returns the inode's hard-link count.
func (r Raw) Links() uint32 { return binary.LittleEndian.Uint32(r.buf[offLinks:]) }

// SetLinks sets the inode's hard-link count.
func (r Raw) SetLinks(links uint32) { binary.LittleEndian.PutUint32(r.buf[offLinks:], links) }

// Size returns the file's logical size in bytes.
func (r Raw) Size() uint32 { return binary.LittleEndian.Uint32(r.buf[offSize:]) }

// SetSize sets the file's logical size in bytes.
func (r Raw) SetSize(size uint32) { binary.LittleEndian.PutUint32(r.buf[offSize:], size) }

// IsDir reports whether the inode's type bits mark it as a directory.
func (r Raw) IsDir() bool { return r.Mode()&ModeTypeMask == ModeTypeDir }

// IsFile reports whether the inode's type bits mark it as a regular file.
func (r Raw) IsFile() bool { return r.Mode()&ModeTypeMask == ModeTypeFile }

// Direct returns the i'th direct block pointer (i in [0, NDirect)). A value
// of 0 means unallocated.
func (r Raw) Direct(i int) block.ID {
	return block.ID(binary.LittleEndian.Uint32(r.buf[offDirect+i*4:]))
}

// SetDirect sets the i'th direct block pointer.
func (r Raw) SetDirect(i int, id block.ID) {
	binary.LittleEndian.PutUint32(r.buf[offDirect+i*4:], uint32(id))
}

// Indirect returns the pointer to the single indirect block. A value of 0
// means unallocated.
func (r Raw) Indirect() block.ID {
	return block.ID(binary.LittleEndian.Uint32(r.buf[offIndirect:]))
}

// SetIndirect sets the pointer to the single indirect block.
func (r Raw) SetIndirect(id block.ID) {
	binary.LittleEndian.PutUint32(r.buf[offIndirect:], uint32(id))
}

// Reset zeroes the record, used both at Format time and when an inode is
// freed, so no stale block pointers survive reallocation.
func (r Raw) Reset() {
	for i := range r.buf {
		r.buf[i] = 0
	}
}

// Table is the inode table (IT): it owns the inode allocation bitmap (held
// by the Device) and provides typed access to individual records plus
// whole-file block mapping.
type Table struct {
	dev *block.Device
}

// New returns a Table backed by dev. It does not itself format anything;
// see Init for root-directory bootstrap and the sfs package's Format for
// the full volume bring-up.
func New(dev *block.Device) *Table {
	return &Table{dev: dev}
}

// Init brings up the root directory: if inode 1 is already allocated and
// marked a directory, it's a no-op (matching the idempotent contract this
// runs under every mount). Otherwise it force-sets inode-bitmap bit 1 and
// writes a fresh, empty root directory record.
func (t *Table) Init() error {
	if t.IsAllocated(RootNum) {
		raw, err := t.Get(RootNum)
		if err != nil {
			return err
		}
		if raw.IsDir() {
			return nil
		}
	}

	t.dev.InodeBitmap().Set(int(RootNum), true)
	raw, err := t.Get(RootNum)
	if err != nil {
		return err
	}
	raw.Reset()
	raw.SetInum(RootNum)
	raw.SetMode(ModeTypeDir | 0o755)
	return nil
}

// Get returns a typed view onto inode n's record. It does not check that n
// is allocated; use IsAllocated for that.
func (t *Table) Get(n Num) (Raw, error) {
	if uint(n) >= t.dev.TotalInodes() {
		return Raw{}, fmt.Errorf("inode: %w: %d not in [0, %d)", ErrInvalidInode, n, t.dev.TotalInodes())
	}
	return rawAt(t.dev, n), nil
}

// IsAllocated reports whether inode n's bit is set in the allocation bitmap.
func (t *Table) IsAllocated(n Num) bool {
	return t.dev.InodeBitmap().Get(int(n))
}

// Alloc finds the lowest free inode number at or above 2 (0 and 1 are
// reserved), marks it allocated, writes mode, and zeroes everything else.
func (t *Table) Alloc(mode uint32) (Num, error) {
	bm := t.dev.InodeBitmap()
	for i := uint(2); i < t.dev.TotalInodes(); i++ {
		if !bm.Get(int(i)) {
			bm.Set(int(i), true)
			raw, _ := t.Get(Num(i))
			raw.Reset()
			raw.SetInum(Num(i))
			raw.SetMode(mode)
			return Num(i), nil
		}
	}
	return 0, ErrNoInodes
}

// Free shrinks n's file to zero length, releasing every block it owns, then
// zeroes the record and clears n's bit in the allocation bitmap. Idempotent
// on an already-free inode.
func (t *Table) Free(n Num) error {
	if !t.IsAllocated(n) {
		return nil
	}
	if err := t.Truncate(n, 0, 0); err != nil {
		return err
	}
	raw, err := t.Get(n)
	if err != nil {
		return err
	}
	raw.Reset()
	t.dev.InodeBitmap().Set(int(n), false)
	return nil
}

// BlockAt returns the data block holding logical block index idx of n's
// file, allocating it (and, if needed, the indirect block) on demand when
// grow is true. With grow false, a return of block ID 0 with a nil error
// means the block is a hole that has never been written.
func (t *Table) BlockAt(n Num, idx uint, grow bool) (block.ID, error) {
	if idx >= MaxFileBlocks {
		return 0, fmt.Errorf("inode: block index %d exceeds max file size of %d blocks", idx, MaxFileBlocks)
	}

	raw, err := t.Get(n)
	if err != nil {
		return 0, err
	}

	if idx < NDirect {
		id := raw.Direct(int(idx))
		if id == 0 && grow {
			newID, err := t.dev.AllocBlock()
			if err != nil {
				return 0, err
			}
			raw.SetDirect(int(idx), newID)
			id = newID
		}
		return id, nil
	}

	indIdx := idx - NDirect
	indID := raw.Indirect()
	if indID == 0 {
		if !grow {
			return 0, nil
		}
		newInd, err := t.dev.AllocBlock()
		if err != nil {
			return 0, err
		}
		raw.SetIndirect(newInd)
		indID = newInd
	}

	indBlock := t.dev.GetBlock(indID)
	id := block.ID(binary.LittleEndian.Uint32(indBlock[indIdx*4:]))
	if id == 0 && grow {
		newID, err := t.dev.AllocBlock()
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(indBlock[indIdx*4:], uint32(newID))
		id = newID
	}
	return id, nil
}

// Truncate releases every data block at or beyond newBlockCount blocks and
// updates the record's size field to newSize. It does not allocate; callers
// that grow a file do so through BlockAt/Write.
func (t *Table) Truncate(n Num, newSize uint32, newBlockCount uint) error {
	raw, err := t.Get(n)
	if err != nil {
		return err
	}

	for i := uint(newBlockCount); i < NDirect; i++ {
		if id := raw.Direct(int(i)); id != 0 {
			_ = t.dev.FreeBlock(id)
			raw.SetDirect(int(i), 0)
		}
	}

	if ind := raw.Indirect(); ind != 0 {
		indBlock := t.dev.GetBlock(ind)
		start := uint(0)
		if newBlockCount > NDirect {
			start = newBlockCount - NDirect
		}
		anyLeft := false
		for i := uint(0); i < NIndirect; i++ {
			id := block.ID(binary.LittleEndian.Uint32(indBlock[i*4:]))
			if id == 0 {
				continue
			}
			if i >= start {
				_ = t.dev.FreeBlock(id)
				binary.LittleEndian.PutUint32(indBlock[i*4:], 0)
			} else {
				anyLeft = true
			}
		}
		if !anyLeft && newBlockCount <= NDirect {
			_ = t.dev.FreeBlock(ind)
			raw.SetIndirect(0)
		}
	}

	raw.SetSize(newSize)
	return nil
}
