// Package sfs ties the block device, inode table, and directory layer
// together behind a single path-resolving façade (PR-SF): every exported
// method takes a POSIX-style path, resolves it against the volume's single
// root directory, and performs one filesystem operation under a lock that
// serializes all callers.
package sfs

import (
	"fmt"
	"io"
	"os"
	posixpath "path"
	"strings"
	"sync"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/directory"
	"github.com/nwillc/sfs/inode"
)

// Storage is the path-resolving storage façade (PR-SF). All exported
// methods lock internally, so a Storage can be shared across goroutines
// (e.g. by a FUSE bridge) without any coordination beyond holding a
// reference to it.
type Storage struct {
	mu  sync.Mutex
	dev *block.Device
	it  *inode.Table
	dl  *directory.Dir
}

// Format lays out a brand new volume in memory: it allocates the root
// inode, marks it a directory with no entries, and returns a Storage ready
// for use. It does not touch any backing file; pair it with Mount for a
// persistent volume, or use it directly for an in-memory one.
func Format(totalBlocks, totalInodes uint) (*Storage, error) {
	dev, err := block.New(totalBlocks, totalInodes)
	if err != nil {
		return nil, err
	}
	return formatOnto(dev)
}

// FormatFile lays out a brand new volume backed by the file at path,
// creating it if necessary, and returns a Storage ready for use. Call
// Close when done to flush the image back to disk.
func FormatFile(path string, totalBlocks, totalInodes uint) (*Storage, error) {
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("sfs: format %q: %w", path, err)
	}
	dev, err := block.Mount(path, totalBlocks, totalInodes)
	if err != nil {
		return nil, err
	}
	return formatOnto(dev)
}

func formatOnto(dev *block.Device) (*Storage, error) {
	it := inode.New(dev)
	dl := directory.New(dev, it)

	if err := it.Init(); err != nil {
		return nil, err
	}

	return &Storage{dev: dev, it: it, dl: dl}, nil
}

// Mount opens an existing volume image at path. If the image is entirely
// unformatted (every bit in its block bitmap clear) it is formatted in
// place, matching block.Mount's semantics; otherwise the existing contents
// are used as-is.
func Mount(path string, totalBlocks, totalInodes uint) (*Storage, error) {
	dev, err := block.Mount(path, totalBlocks, totalInodes)
	if err != nil {
		return nil, err
	}

	it := inode.New(dev)
	dl := directory.New(dev, it)
	if err := it.Init(); err != nil {
		return nil, err
	}

	return &Storage{dev: dev, it: it, dl: dl}, nil
}

// MountStream builds a Storage over an already-open io.ReadWriteSeeker
// (typically a bytesextra-wrapped in-memory image in tests), formatting it
// in place if its block bitmap is entirely unset.
func MountStream(stream io.ReadWriteSeeker, totalBlocks, totalInodes uint) (*Storage, error) {
	dev, err := block.MountStream(stream, totalBlocks, totalInodes)
	if err != nil {
		return nil, err
	}

	it := inode.New(dev)
	dl := directory.New(dev, it)
	if err := it.Init(); err != nil {
		return nil, err
	}

	return &Storage{dev: dev, it: it, dl: dl}, nil
}

// Close flushes the volume to its backing file (if any) and releases it.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Unmount()
}

// Sync flushes the volume to its backing file without releasing it.
func (s *Storage) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Sync()
}

// Dump copies the entire volume image, bitmaps and inode table included, to
// w. It's meant for ad hoc inspection or archiving a volume outside sfs
// (e.g. piping it to a hex dump), not for normal filesystem access.
func (s *Storage) Dump(w io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.Copy(w, s.dev.Stream())
}

////////////////////////////////////////////////////////////////////////////////
// Path resolution

// normalizePath cleans path into an absolute, slash-separated form the way
// the path resolver expects: "." and ".." components removed, leading
// slash guaranteed, no trailing slash except for the root itself.
func normalizePath(path string) string {
	if path == "" {
		path = "/"
	}
	cleaned := posixpath.Clean(path)
	if !posixpath.IsAbs(cleaned) {
		cleaned = "/" + cleaned
		cleaned = posixpath.Clean(cleaned)
	}
	return cleaned
}

// splitComponents breaks a normalized absolute path into its non-empty
// components. The root itself yields an empty slice.
func splitComponents(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// resolve walks path from the root, returning the inode number of the
// final component. Every intermediate component must resolve to a
// directory or ErrNotDirectory is returned.
func (s *Storage) resolve(path string) (inode.Num, error) {
	components := splitComponents(normalizePath(path))

	current := inode.RootNum
	for i, name := range components {
		raw, err := s.it.Get(current)
		if err != nil {
			return 0, err
		}
		if !raw.IsDir() {
			return 0, fmt.Errorf("sfs: %w: %q", ErrNotDirectory, joinUpTo(components, i))
		}

		next, err := s.dl.Lookup(current, name)
		if err != nil {
			return 0, fmt.Errorf("sfs: %q: %w", path, ErrNotFound)
		}
		current = next
	}

	return current, nil
}

func joinUpTo(components []string, n int) string {
	return "/" + strings.Join(components[:n], "/")
}

// splitParent resolves path's parent directory and returns it along with
// the final path component's name. It fails with ErrInvalidArgument for the
// root itself, which has no parent.
func (s *Storage) splitParent(path string) (inode.Num, string, error) {
	normalized := normalizePath(path)
	if normalized == "/" {
		return 0, "", fmt.Errorf("sfs: %w: %q has no parent", ErrInvalidArgument, path)
	}

	parentPath := posixpath.Dir(normalized)
	name := posixpath.Base(normalized)

	parent, err := s.resolve(parentPath)
	if err != nil {
		return 0, "", err
	}

	raw, err := s.it.Get(parent)
	if err != nil {
		return 0, "", err
	}
	if !raw.IsDir() {
		return 0, "", fmt.Errorf("sfs: %w: %q", ErrNotDirectory, parentPath)
	}

	return parent, name, nil
}

////////////////////////////////////////////////////////////////////////////////
// Façade operations

// Access reports whether path exists.
func (s *Storage) Access(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.resolve(path)
	return err
}

// Stat returns metadata about the inode at path.
func (s *Storage) Stat(path string) (FileStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.resolve(path)
	if err != nil {
		return FileStat{}, err
	}
	raw, err := s.it.Get(n)
	if err != nil {
		return FileStat{}, err
	}
	return statFromInode(n, raw), nil
}

// Mknod creates a new regular file at path with the given permission bits.
// It does not check whether path already exists: a duplicate name gets its
// own entry, and lookups keep resolving to the older one.
func (s *Storage) Mknod(path string, perm uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.splitParent(path)
	if err != nil {
		return err
	}

	n, err := s.it.Alloc(S_IFREG | perm&^S_IFMT)
	if err != nil {
		return err
	}

	if err := s.dl.Put(parent, name, n); err != nil {
		_ = s.it.Free(n)
		return wrapf("mknod", path, err)
	}
	return nil
}

// Mkdir creates a new, empty directory at path with the given permission
// bits. It fails with ErrExists if path already exists. This is a
// supplemented operation: the on-disk format carries no parent pointers, so
// a new directory has no "." or ".." entries.
func (s *Storage) Mkdir(path string, perm uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.splitParent(path)
	if err != nil {
		return err
	}

	if _, err := s.dl.Lookup(parent, name); err == nil {
		return fmt.Errorf("sfs: mkdir %q: %w", path, ErrExists)
	}

	n, err := s.it.Alloc(S_IFDIR | perm&^S_IFMT)
	if err != nil {
		return err
	}

	if err := s.dl.Put(parent, name, n); err != nil {
		_ = s.it.Free(n)
		return wrapf("mkdir", path, err)
	}
	return nil
}

// Read reads up to len(buf) bytes from path starting at offset, returning
// the number of bytes actually read. It fails with ErrIsDirectory if path
// names a directory.
func (s *Storage) Read(path string, offset int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	raw, err := s.it.Get(n)
	if err != nil {
		return 0, err
	}
	if raw.IsDir() {
		return 0, fmt.Errorf("sfs: %w: %q", ErrIsDirectory, path)
	}
	if offset < 0 {
		return 0, fmt.Errorf("sfs: %w: negative offset", ErrInvalidArgument)
	}

	size := int64(raw.Size())
	if offset >= size {
		return 0, nil
	}

	toRead := int64(len(buf))
	if offset+toRead > size {
		toRead = size - offset
	}

	var read int64
	for read < toRead {
		blockIdx := uint(offset+read) / block.BS
		withinBlock := uint(offset+read) % block.BS

		id, err := s.it.BlockAt(n, blockIdx, false)
		if err != nil {
			return int(read), err
		}

		chunk := toRead - read
		if remaining := block.BS - int64(withinBlock); chunk > remaining {
			chunk = remaining
		}

		if id == 0 {
			for i := int64(0); i < chunk; i++ {
				buf[read+i] = 0
			}
		} else {
			data := s.dev.GetBlock(id)
			copy(buf[read:read+chunk], data[withinBlock:uint(withinBlock)+uint(chunk)])
		}
		read += chunk
	}

	return int(read), nil
}

// Write writes data to path starting at offset, growing the file (and
// allocating blocks on demand, including holes if offset is past the
// current end) as needed. It fails with ErrIsDirectory if path names a
// directory.
func (s *Storage) Write(path string, offset int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	raw, err := s.it.Get(n)
	if err != nil {
		return 0, err
	}
	if raw.IsDir() {
		return 0, fmt.Errorf("sfs: %w: %q", ErrIsDirectory, path)
	}
	if offset < 0 {
		return 0, fmt.Errorf("sfs: %w: negative offset", ErrInvalidArgument)
	}

	var written int64
	total := int64(len(data))
	for written < total {
		blockIdx := uint(offset+written) / block.BS
		withinBlock := uint(offset+written) % block.BS

		id, err := s.it.BlockAt(n, blockIdx, true)
		if err != nil {
			if newEnd := offset + written; newEnd > int64(raw.Size()) {
				raw.SetSize(uint32(newEnd))
			}
			return int(written), err
		}

		chunk := total - written
		if remaining := block.BS - int64(withinBlock); chunk > remaining {
			chunk = remaining
		}

		dst := s.dev.GetBlock(id)
		copy(dst[withinBlock:uint(withinBlock)+uint(chunk)], data[written:written+chunk])
		written += chunk
	}

	newEnd := offset + written
	if newEnd > int64(raw.Size()) {
		raw.SetSize(uint32(newEnd))
	}

	return int(written), nil
}

// Truncate resizes path to exactly newSize bytes, releasing blocks beyond
// the new end. Growing past the current size leaves the new region as a
// hole (read back as zeros) rather than allocating it eagerly.
func (s *Storage) Truncate(path string, newSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.resolve(path)
	if err != nil {
		return err
	}
	raw, err := s.it.Get(n)
	if err != nil {
		return err
	}
	if raw.IsDir() {
		return fmt.Errorf("sfs: %w: %q", ErrIsDirectory, path)
	}
	if newSize < 0 {
		return fmt.Errorf("sfs: %w: negative size", ErrInvalidArgument)
	}

	newBlockCount := block.BytesToBlocks(uint(newSize))
	return s.it.Truncate(n, uint32(newSize), newBlockCount)
}

// Unlink removes the directory entry for path and frees its inode. It
// fails with ErrIsDirectory if path names a directory (use Rmdir).
func (s *Storage) Unlink(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.splitParent(path)
	if err != nil {
		return err
	}

	target, err := s.dl.Lookup(parent, name)
	if err != nil {
		return wrapf("unlink", path, err)
	}
	raw, err := s.it.Get(target)
	if err != nil {
		return err
	}
	if raw.IsDir() {
		return fmt.Errorf("sfs: %w: %q", ErrIsDirectory, path)
	}

	if err := s.dl.Delete(parent, name); err != nil {
		return wrapf("unlink", path, err)
	}
	return nil
}

// Rmdir removes the empty directory at path. It fails with ErrNotEmpty if
// the directory has any live entries, and ErrNotDirectory if path names a
// regular file.
func (s *Storage) Rmdir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.splitParent(path)
	if err != nil {
		return err
	}

	target, err := s.dl.Lookup(parent, name)
	if err != nil {
		return wrapf("rmdir", path, err)
	}
	raw, err := s.it.Get(target)
	if err != nil {
		return err
	}
	if !raw.IsDir() {
		return fmt.Errorf("sfs: %w: %q", ErrNotDirectory, path)
	}

	empty, err := s.dl.Empty(target)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("sfs: %w: %q", ErrNotEmpty, path)
	}

	if err := s.dl.Delete(parent, name); err != nil {
		return wrapf("rmdir", path, err)
	}
	return nil
}

// List returns the names of every entry in the directory at path. It
// fails with ErrNotDirectory if path names a regular file.
func (s *Storage) List(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := s.it.Get(n)
	if err != nil {
		return nil, err
	}
	if !raw.IsDir() {
		return nil, fmt.Errorf("sfs: %w: %q", ErrNotDirectory, path)
	}
	return s.dl.List(n)
}

// Rename moves the entry at from to to, atomically from the caller's
// perspective. A regular file renamed onto an existing directory moves into
// that directory under its original name. It supports directories (a
// supplemented capability): moving a directory into itself or one of its
// own descendants is rejected with ErrInvalidArgument, detected via a
// normalized-path prefix check since entries carry no parent pointers to
// walk.
func (s *Storage) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normFrom := normalizePath(from)
	normTo := normalizePath(to)
	if normTo == normFrom || strings.HasPrefix(normTo, normFrom+"/") {
		return fmt.Errorf("sfs: %w: %q is %q or a descendant of it", ErrInvalidArgument, to, from)
	}

	fromParent, fromName, err := s.splitParent(from)
	if err != nil {
		return err
	}
	target, err := s.dl.Lookup(fromParent, fromName)
	if err != nil {
		return wrapf("rename", from, err)
	}

	var toParent inode.Num
	var toName string
	if fromRaw, err := s.it.Get(target); err == nil && fromRaw.IsFile() {
		if dir, err := s.resolve(to); err == nil {
			if dirRaw, err := s.it.Get(dir); err == nil && dirRaw.IsDir() {
				toParent, toName = dir, fromName
			}
		}
	}
	if toName == "" {
		if toParent, toName, err = s.splitParent(to); err != nil {
			return err
		}
	}

	// directory_put does not check for duplicate names, so if to already
	// names a live entry it survives alongside the new one; Lookup returns
	// whichever comes first in slot order. Put before Delete so the target
	// is reachable under both names for the instant between the two.
	if err := s.dl.Put(toParent, toName, target); err != nil {
		return wrapf("rename", to, err)
	}
	return s.dl.Delete(fromParent, fromName)
}
