// Package directory implements the directory layer (DL): a directory's
// contents are a dense array of fixed-size 64-byte records stored as
// ordinary file data through the inode table, each mapping a name to an
// inode number, with tombstones marking deleted entries.
package directory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/inode"
)

// Size is the on-disk size of one directory entry, in bytes.
const Size = 64

// NameLen is the size in bytes of the name field. Names must leave room for
// at least one NUL byte, so the longest name that fits is NameLen-1 bytes.
const NameLen = 48

// Record layout, matching the on-disk contract bit for bit:
//
//	offset 0:  name, NameLen bytes, NUL-padded
//	offset 48: inode number (uint32, 0 means tombstone/unused)
//	offset 52..64: reserved, always zero
const (
	offName  = 0
	offInode = NameLen
)

var (
	// ErrNameTooLong is returned when a name won't fit in NameLen bytes.
	ErrNameTooLong = errors.New("name too long")

	// ErrNotFound is returned when a lookup finds no live entry with the
	// requested name.
	ErrNotFound = errors.New("entry not found")

	// ErrExists marks an attempt to create a name that already has a live
	// entry. Put itself never returns it (it accepts duplicates); the sfs
	// package's Mkdir does, after checking with Lookup.
	ErrExists = errors.New("entry already exists")
)

// Entry is a zero-copy typed view onto one 64-byte directory record.
type Entry struct {
	buf []byte
}

func entryAt(buf []byte, slot uint) Entry {
	start := slot * Size
	return Entry{buf: buf[start : start+Size]}
}

// Inode returns the entry's inode number. Zero means the slot is a
// tombstone or was never used.
func (e Entry) Inode() inode.Num {
	return inode.Num(binary.LittleEndian.Uint32(e.buf[offInode:]))
}

// SetInode sets the entry's inode number.
func (e Entry) SetInode(n inode.Num) {
	binary.LittleEndian.PutUint32(e.buf[offInode:], uint32(n))
}

// Live reports whether the slot holds a live (non-tombstone) entry.
func (e Entry) Live() bool {
	return e.Inode() != 0
}

// Name returns the entry's name with NUL padding trimmed.
func (e Entry) Name() string {
	raw := e.buf[offName : offName+NameLen]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// SetName writes name into the entry, NUL-padding the remainder. It returns
// ErrNameTooLong if name doesn't fit.
func (e Entry) SetName(name string) error {
	if len(name) >= NameLen {
		return fmt.Errorf("directory: %q: %w", name, ErrNameTooLong)
	}
	field := e.buf[offName : offName+NameLen]
	for i := range field {
		field[i] = 0
	}
	copy(field, name)
	return nil
}

// Clear zeroes the entry, turning it into a tombstone.
func (e Entry) Clear() {
	for i := range e.buf {
		e.buf[i] = 0
	}
}

// Dir gives directory operations over one directory's inode. It reads and
// writes entries through the inode table's block mapping, treating the
// directory's data as a dense array of Size-byte records.
type Dir struct {
	dev *block.Device
	it  *inode.Table
}

// New returns a Dir operating over it's inodes, backed by dev's blocks.
func New(dev *block.Device, it *inode.Table) *Dir {
	return &Dir{dev: dev, it: it}
}

// count returns how many directory-entry slots the directory currently
// spans, based on its recorded size.
func (d *Dir) count(dirInode inode.Num) (uint, error) {
	raw, err := d.it.Get(dirInode)
	if err != nil {
		return 0, err
	}
	return uint(raw.Size()) / Size, nil
}

// entry returns a live view onto slot i of dirInode's entry array,
// allocating the backing block (but not growing the inode's recorded size)
// if grow is true and the slot's block is a hole.
func (d *Dir) entry(dirInode inode.Num, slot uint, grow bool) (Entry, error) {
	blockIdx := slot * Size / block.BS
	withinBlock := (slot * Size) % block.BS

	id, err := d.it.BlockAt(dirInode, blockIdx, grow)
	if err != nil {
		return Entry{}, err
	}
	if id == 0 {
		return Entry{}, fmt.Errorf("directory: %w: slot %d is a hole", ErrNotFound, slot)
	}

	blk := d.dev.GetBlock(id)
	return Entry{buf: blk[withinBlock : withinBlock+Size]}, nil
}

// Lookup scans dirInode's entries for name and returns the matching live
// entry's inode number.
func (d *Dir) Lookup(dirInode inode.Num, name string) (inode.Num, error) {
	n, err := d.count(dirInode)
	if err != nil {
		return 0, err
	}

	for slot := uint(0); slot < n; slot++ {
		e, err := d.entry(dirInode, slot, false)
		if err != nil {
			continue
		}
		if e.Live() && e.Name() == name {
			return e.Inode(), nil
		}
	}
	return 0, fmt.Errorf("directory: %q: %w", name, ErrNotFound)
}

// Put adds a (name, target) entry to dirInode, reusing the first tombstone
// slot if one exists and otherwise appending a new slot, growing the
// directory's recorded size and block allocation as needed. It does not
// check for a duplicate name: if one already has a live entry, both live on
// as separate entries and Lookup returns whichever comes first in slot
// order. Callers that must reject duplicates (Mkdir) check beforehand with
// Lookup.
func (d *Dir) Put(dirInode inode.Num, name string, target inode.Num) error {
	if len(name) >= NameLen {
		return fmt.Errorf("directory: %q: %w", name, ErrNameTooLong)
	}

	n, err := d.count(dirInode)
	if err != nil {
		return err
	}

	var freeSlot uint
	foundFree := false

	for slot := uint(0); slot < n; slot++ {
		e, err := d.entry(dirInode, slot, false)
		if err != nil {
			continue
		}
		if e.Live() {
			continue
		}
		if !foundFree {
			freeSlot = slot
			foundFree = true
		}
	}

	if !foundFree {
		freeSlot = n
		raw, err := d.it.Get(dirInode)
		if err != nil {
			return err
		}
		raw.SetSize(uint32((n + 1) * Size))
	}

	e, err := d.entry(dirInode, freeSlot, true)
	if err != nil {
		return err
	}
	if err := e.SetName(name); err != nil {
		return err
	}
	e.SetInode(target)

	targetRaw, err := d.it.Get(target)
	if err != nil {
		return err
	}
	targetRaw.SetLinks(targetRaw.Links() + 1)
	return nil
}

// Delete removes the live entry named name from dirInode by turning its
// slot into a tombstone, decrementing the target inode's link count and
// freeing it if that count drops to zero. It returns ErrNotFound if no live
// entry matches.
func (d *Dir) Delete(dirInode inode.Num, name string) error {
	n, err := d.count(dirInode)
	if err != nil {
		return err
	}

	for slot := uint(0); slot < n; slot++ {
		e, err := d.entry(dirInode, slot, false)
		if err != nil {
			continue
		}
		if e.Live() && e.Name() == name {
			target := e.Inode()
			e.Clear()

			raw, err := d.it.Get(target)
			if err != nil {
				return err
			}
			if raw.Links() > 0 {
				raw.SetLinks(raw.Links() - 1)
			}
			if raw.Links() == 0 {
				return d.it.Free(target)
			}
			return nil
		}
	}
	return fmt.Errorf("directory: %q: %w", name, ErrNotFound)
}

// List returns the names of every live entry in dirInode, in slot order.
func (d *Dir) List(dirInode inode.Num) ([]string, error) {
	n, err := d.count(dirInode)
	if err != nil {
		return nil, err
	}

	var names []string
	for slot := uint(0); slot < n; slot++ {
		e, err := d.entry(dirInode, slot, false)
		if err != nil {
			continue
		}
		if e.Live() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Empty reports whether dirInode has no live entry in any slot; a directory
// holding only tombstones counts as empty.
func (d *Dir) Empty(dirInode inode.Num) (bool, error) {
	n, err := d.count(dirInode)
	if err != nil {
		return false, err
	}
	for slot := uint(0); slot < n; slot++ {
		e, err := d.entry(dirInode, slot, false)
		if err != nil {
			continue
		}
		if e.Live() {
			return false, nil
		}
	}
	return true, nil
}
