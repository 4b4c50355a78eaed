package sfs

import (
	"errors"
	"fmt"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/directory"
	"github.com/nwillc/sfs/inode"
)

// Sentinel errors returned by Storage's operations. Lower layers define
// their own sentinels for the conditions only they can detect (no free
// block, no free inode, no such directory entry); this package re-exports
// the ones a façade caller cares about under names that read naturally at
// this level, and adds the handful only the path resolver can detect.
var (
	// ErrNoSpace means the device has no free data blocks left.
	ErrNoSpace = block.ErrNoSpace

	// ErrNoInodes means the inode table has no free slots left.
	ErrNoInodes = inode.ErrNoInodes

	// ErrNotFound means a path component, or a final path target, doesn't
	// exist.
	ErrNotFound = directory.ErrNotFound

	// ErrExists means an operation that must create a new name found one
	// already there.
	ErrExists = directory.ErrExists

	// ErrNameTooLong means a path component is longer than the directory
	// layer's fixed name field can hold.
	ErrNameTooLong = directory.ErrNameTooLong

	// ErrInvalidArgument means a request was malformed independent of
	// filesystem state: a negative offset or size, a path that needs a
	// parent but names the root, and similar.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState means an operation was attempted against a Storage
	// that isn't in a state that allows it (not mounted, already mounted).
	ErrInvalidState = errors.New("invalid state")

	// ErrNotDirectory means a path component that must be a directory
	// (everything but the last) or an operation that requires one (Mkdir's
	// parent, Rmdir's target, List's target) resolved to a non-directory
	// inode.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory means an operation that must target a regular file
	// (Read, Write, Truncate, Unlink) resolved to a directory inode.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty means Rmdir was asked to remove a directory that still
	// has live entries.
	ErrNotEmpty = errors.New("directory not empty")
)

// wrapf is a small helper matching the teacher's own style of attaching an
// operation name to a lower-layer error via %w so errors.Is still sees
// through to the original sentinel.
func wrapf(op, path string, err error) error {
	return fmt.Errorf("sfs: %s %q: %w", op, path, err)
}
