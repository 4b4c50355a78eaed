package sfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/inode"
)

func newVolume(t *testing.T, totalBlocks, totalInodes uint) *Storage {
	t.Helper()
	s, err := Format(totalBlocks, totalInodes)
	require.NoError(t, err)
	return s
}

func TestFormatCreatesEmptyRoot(t *testing.T) {
	s := newVolume(t, 64, 16)

	names, err := s.List("/")
	require.NoError(t, err)
	assert.Empty(t, names)

	stat, err := s.Stat("/")
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestMknodThenWriteThenReadRoundTrip(t *testing.T) {
	s := newVolume(t, 64, 16)

	require.NoError(t, s.Mknod("/hello.txt", DefaultFileMode))

	data := []byte("hello, filesystem")
	n, err := s.Write("/hello.txt", 0, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	n, err = s.Read("/hello.txt", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
}

func TestMknodDuplicateNameIsAllowedAndOlderWins(t *testing.T) {
	s := newVolume(t, 64, 16)

	require.NoError(t, s.Mknod("/a", DefaultFileMode))
	require.NoError(t, s.Mknod("/a", DefaultFileMode), "mknod does not check for an existing entry, unlike mkdir")

	first, err := s.resolve("/a")
	require.NoError(t, err)

	names, err := s.List("/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "a"}, names)

	got, err := s.resolve("/a")
	require.NoError(t, err)
	assert.Equal(t, first, got, "lookup (and thus resolve) returns the first (older) live match")
}

func TestMkdirDuplicateNameFails(t *testing.T) {
	s := newVolume(t, 64, 16)

	require.NoError(t, s.Mkdir("/sub", DefaultDirMode))
	err := s.Mkdir("/sub", DefaultDirMode)
	assert.ErrorIs(t, err, ErrExists)
}

func TestMkdirThenListNestedPath(t *testing.T) {
	s := newVolume(t, 64, 16)

	require.NoError(t, s.Mkdir("/sub", DefaultDirMode))
	require.NoError(t, s.Mknod("/sub/file.txt", DefaultFileMode))

	names, err := s.List("/sub")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"file.txt"}, names)
}

func TestUnlinkFreesInodeAndBlocks(t *testing.T) {
	s := newVolume(t, 64, 16)

	require.NoError(t, s.Mknod("/a", DefaultFileMode))
	_, err := s.Write("/a", 0, []byte("some data"))
	require.NoError(t, err)

	freeBefore := s.dev.FreeBlockCount()
	require.NoError(t, s.Unlink("/a"))
	assert.Greater(t, s.dev.FreeBlockCount(), freeBefore)

	_, err = s.Stat("/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlinkOnDirectoryFails(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mkdir("/sub", DefaultDirMode))

	err := s.Unlink("/sub")
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestRmdirRequiresEmpty(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mkdir("/sub", DefaultDirMode))
	require.NoError(t, s.Mknod("/sub/file.txt", DefaultFileMode))

	err := s.Rmdir("/sub")
	assert.ErrorIs(t, err, ErrNotEmpty)

	require.NoError(t, s.Unlink("/sub/file.txt"))
	require.NoError(t, s.Rmdir("/sub"))

	_, err = s.Stat("/sub")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRmdirOnFileFails(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mknod("/a", DefaultFileMode))

	err := s.Rmdir("/a")
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestRenamePreservesContent(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mknod("/a", DefaultFileMode))
	_, err := s.Write("/a", 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, s.Rename("/a", "/b"))

	_, err = s.Stat("/a")
	assert.ErrorIs(t, err, ErrNotFound)

	buf := make([]byte, len("payload"))
	n, err := s.Read("/b", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestRenameRejectsMoveIntoOwnDescendant(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mkdir("/sub", DefaultDirMode))

	err := s.Rename("/sub", "/sub/nested")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTruncateGrowLeavesHoleReadAsZeros(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mknod("/a", DefaultFileMode))

	require.NoError(t, s.Truncate("/a", 10))
	buf := make([]byte, 10)
	n, err := s.Read("/a", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, make([]byte, 10), buf)
}

func TestTruncateShrinkBelowNDirectFreesIndirectBlock(t *testing.T) {
	s := newVolume(t, 4096, 16)
	require.NoError(t, s.Mknod("/big", DefaultFileMode))

	data := make([]byte, (inode.NDirect+5)*block.BS)
	_, err := s.Write("/big", 0, data)
	require.NoError(t, err)

	n, err := s.resolve("/big")
	require.NoError(t, err)
	raw, err := s.it.Get(n)
	require.NoError(t, err)
	require.NotEqual(t, block.ID(0), raw.Indirect())

	require.NoError(t, s.Truncate("/big", int64(5*block.BS)))
	assert.Equal(t, block.ID(0), raw.Indirect())
}

func TestBlockAtUpToMaxFileBlocksSucceedsOneBeyondFails(t *testing.T) {
	s := newVolume(t, 4096, 16)
	require.NoError(t, s.Mknod("/max", DefaultFileMode))

	n, err := s.resolve("/max")
	require.NoError(t, err)

	for i := uint(0); i < inode.MaxFileBlocks; i++ {
		_, err := s.it.BlockAt(n, i, true)
		require.NoError(t, err)
	}

	_, err = s.it.BlockAt(n, inode.MaxFileBlocks, true)
	assert.Error(t, err)
}

func TestWriteThroughFacadePastMaxFileSizeCommitsPartialSize(t *testing.T) {
	s := newVolume(t, 4096, 16)
	require.NoError(t, s.Mknod("/max", DefaultFileMode))

	maxSize := int64(inode.MaxFileSize)
	// One write spanning the very last in-range byte through one byte past
	// the limit: the block allocation for the final chunk must fail, but
	// everything written before that point should still be there and
	// readable afterward.
	data := make([]byte, block.BS+1)
	for i := range data {
		data[i] = 0x5a
	}

	n, err := s.Write("/max", maxSize-block.BS, data)
	require.Error(t, err)
	require.Equal(t, int(block.BS), n, "only the last whole block fits before hitting the block limit")

	stat, err := s.Stat("/max")
	require.NoError(t, err)
	assert.Equal(t, maxSize, stat.Size, "size must reflect the bytes actually written, not be left at 0")

	got := make([]byte, block.BS)
	read, err := s.Read("/max", maxSize-block.BS, got)
	require.NoError(t, err)
	assert.Equal(t, int(block.BS), read)
	assert.Equal(t, data[:block.BS], got, "the committed bytes must be readable back")
}

func TestDumpCopiesWholeImage(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mknod("/a", DefaultFileMode))

	var buf bytes.Buffer
	n, err := s.Dump(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(64*block.BS), n)
	assert.Equal(t, int(64*block.BS), buf.Len())
}

func TestAccessAndAbsentPath(t *testing.T) {
	s := newVolume(t, 64, 16)
	assert.ErrorIs(t, s.Access("/nope"), ErrNotFound)

	require.NoError(t, s.Mknod("/here", DefaultFileMode))
	assert.NoError(t, s.Access("/here"))
}

func TestReadWriteOnDirectoryFails(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mkdir("/sub", DefaultDirMode))

	_, err := s.Read("/sub", 0, make([]byte, 1))
	assert.ErrorIs(t, err, ErrIsDirectory)

	_, err = s.Write("/sub", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestIntermediateNonDirectoryComponentFails(t *testing.T) {
	s := newVolume(t, 64, 16)
	require.NoError(t, s.Mknod("/file", DefaultFileMode))

	_, err := s.Stat("/file/nested")
	assert.ErrorIs(t, err, ErrNotDirectory)
}
