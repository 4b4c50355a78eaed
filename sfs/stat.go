package sfs

import (
	"os"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/inode"
)

// FileStat is a platform-independent description of a single inode, the
// shape Stat hands back to callers.
type FileStat struct {
	InodeNumber uint32
	ModeFlags   uint32
	Links       uint32
	Size        int64
	BlockSize   int64
	NumBlocks   int64
	Uid         int
	Gid         int
}

// statFromInode populates a FileStat from an on-disk inode record. The
// on-disk record has no room for an owner, so Uid/Gid report the host
// process's identity rather than anything persisted per file.
func statFromInode(n inode.Num, raw inode.Raw) FileStat {
	size := int64(raw.Size())
	return FileStat{
		InodeNumber: uint32(n),
		ModeFlags:   raw.Mode(),
		Links:       raw.Links(),
		Size:        size,
		BlockSize:   block.BS,
		NumBlocks:   (size + block.BS - 1) / block.BS,
		Uid:         os.Getuid(),
		Gid:         os.Getgid(),
	}
}

// IsDir reports whether the stat describes a directory.
func (s FileStat) IsDir() bool {
	return s.ModeFlags&S_IFMT == S_IFDIR
}

// IsRegular reports whether the stat describes a regular file.
func (s FileStat) IsRegular() bool {
	return s.ModeFlags&S_IFMT == S_IFREG
}
