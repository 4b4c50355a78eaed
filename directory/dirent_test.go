package directory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/inode"
)

func newDir(t *testing.T, totalBlocks, totalInodes uint) (*inode.Table, *Dir, inode.Num) {
	t.Helper()
	dev, err := block.New(totalBlocks, totalInodes)
	require.NoError(t, err)

	it := inode.New(dev)
	require.NoError(t, it.Init())
	dl := New(dev, it)

	return it, dl, inode.RootNum
}

func TestPutThenLookup(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	target, err := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, err)

	require.NoError(t, dl.Put(root, "hello.txt", target))

	got, err := dl.Lookup(root, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestPutIncrementsTargetLinks(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	target, err := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, err)

	raw, err := it.Get(target)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), raw.Links())

	require.NoError(t, dl.Put(root, "hello.txt", target))
	assert.Equal(t, uint32(1), raw.Links())
}

func TestPutDuplicateNameIsAllowedAndOlderWins(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	a, _ := it.Alloc(inode.ModeTypeFile)
	b, _ := it.Alloc(inode.ModeTypeFile)

	require.NoError(t, dl.Put(root, "dup", a))
	require.NoError(t, dl.Put(root, "dup", b), "directory_put does not check for duplicate names")

	got, err := dl.Lookup(root, "dup")
	require.NoError(t, err)
	assert.Equal(t, a, got, "lookup returns the first (older) live match in slot order")

	names, err := dl.List(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dup", "dup"}, names)
}

func TestPutNameTooLong(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)
	target, err := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, err)

	longName := ""
	for i := 0; i < NameLen+1; i++ {
		longName += "x"
	}

	err = dl.Put(root, longName, target)
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestPutNameExactlyNameLenFails(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)
	target, err := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, err)

	name := ""
	for i := 0; i < NameLen; i++ {
		name += "x"
	}

	err = dl.Put(root, name, target)
	assert.ErrorIs(t, err, ErrNameTooLong, "a name exactly NameLen bytes leaves no room for a NUL terminator")
}

func TestPutNameOneShortOfNameLenSucceeds(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)
	target, err := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, err)

	name := ""
	for i := 0; i < NameLen-1; i++ {
		name += "x"
	}

	require.NoError(t, dl.Put(root, name, target))
	got, err := dl.Lookup(root, name)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestDeleteFreesInodeWhenLinksReachZero(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	a, _ := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, dl.Put(root, "a", a))
	require.NoError(t, dl.Delete(root, "a"))

	_, err := dl.Lookup(root, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, it.IsAllocated(a), "link count dropping to zero must free the inode")
}

func TestDeleteThenPutReusesTombstoneSlot(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	a, _ := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, dl.Put(root, "a", a))
	require.NoError(t, dl.Delete(root, "a"))

	b, _ := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, dl.Put(root, "b", b))
	names, err := dl.List(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, names)

	rootRaw, err := it.Get(root)
	require.NoError(t, err)
	assert.Equal(t, uint32(Size), rootRaw.Size(), "b must reuse a's tombstoned slot rather than append a new one")
}

func TestDeleteUnknownNameFails(t *testing.T) {
	_, dl, root := newDir(t, 64, 16)
	err := dl.Delete(root, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsOnlyLiveEntries(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	for i := 0; i < 5; i++ {
		target, err := it.Alloc(inode.ModeTypeFile)
		require.NoError(t, err)
		require.NoError(t, dl.Put(root, fmt.Sprintf("f%d", i), target))
	}
	require.NoError(t, dl.Delete(root, "f2"))

	names, err := dl.List(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f0", "f1", "f3", "f4"}, names)
}

func TestEmptyTracksSlotZero(t *testing.T) {
	it, dl, root := newDir(t, 64, 16)

	empty, err := dl.Empty(root)
	require.NoError(t, err)
	assert.True(t, empty)

	target, err := it.Alloc(inode.ModeTypeFile)
	require.NoError(t, err)
	require.NoError(t, dl.Put(root, "only", target))

	empty, err = dl.Empty(root)
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, dl.Delete(root, "only"))
	empty, err = dl.Empty(root)
	require.NoError(t, err)
	assert.True(t, empty, "tombstoned slot 0 counts as empty")
}
