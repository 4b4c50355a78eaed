package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservesBootAndInodeTableBlocks(t *testing.T) {
	dev, err := New(32, 16)
	require.NoError(t, err)

	assert.Equal(t, uint(2), dev.ReservedBlocks())
	for i := uint(0); i < dev.ReservedBlocks(); i++ {
		assert.True(t, dev.BlockInUse(ID(i)), "reserved block %d should be marked in use", i)
	}
	assert.False(t, dev.BlockInUse(dev.FirstDataBlock()))
}

func TestAllocBlockZeroesAndMarksInUse(t *testing.T) {
	dev, err := New(32, 16)
	require.NoError(t, err)

	blk := dev.GetBlock(dev.FirstDataBlock())
	blk[0] = 0xFF

	id, err := dev.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, dev.FirstDataBlock(), id)
	assert.True(t, dev.BlockInUse(id))

	fresh := dev.GetBlock(id)
	assert.Equal(t, byte(0), fresh[0], "newly allocated block must be zero-filled")
}

func TestAllocBlockExhaustion(t *testing.T) {
	dev, err := New(32, 16)
	require.NoError(t, err)

	for {
		_, err := dev.AllocBlock()
		if err != nil {
			assert.ErrorIs(t, err, ErrNoSpace)
			break
		}
	}

	_, err = dev.AllocBlock()
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestFreeBlockRejectsReservedAndOutOfRange(t *testing.T) {
	dev, err := New(32, 16)
	require.NoError(t, err)

	assert.ErrorIs(t, dev.FreeBlock(0), ErrInvalidArgument)
	assert.ErrorIs(t, dev.FreeBlock(ID(dev.TotalBlocks())), ErrInvalidArgument)
}

func TestFreeBlockThenReallocateZeroesAgain(t *testing.T) {
	dev, err := New(32, 16)
	require.NoError(t, err)

	id, err := dev.AllocBlock()
	require.NoError(t, err)

	dev.GetBlock(id)[0] = 0x42
	require.NoError(t, dev.FreeBlock(id))
	assert.False(t, dev.BlockInUse(id))

	again, err := dev.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, byte(0), dev.GetBlock(again)[0])
}

func TestGetBlockAliasesSameBackingArray(t *testing.T) {
	dev, err := New(32, 16)
	require.NoError(t, err)

	id, err := dev.AllocBlock()
	require.NoError(t, err)

	a := dev.GetBlock(id)
	b := dev.GetBlock(id)
	a[5] = 0x7A
	assert.Equal(t, byte(0x7A), b[5], "two views of the same block must alias")
}

func TestBytesToBlocks(t *testing.T) {
	assert.Equal(t, uint(0), BytesToBlocks(0))
	assert.Equal(t, uint(1), BytesToBlocks(1))
	assert.Equal(t, uint(1), BytesToBlocks(BS))
	assert.Equal(t, uint(2), BytesToBlocks(BS+1))
}

func TestCheckGeometryRejectsTooSmallVolume(t *testing.T) {
	_, err := New(2, 16)
	assert.Error(t, err)
}
