package block

import "errors"

// Sentinel errors returned by the block device. Higher layers wrap these
// with fmt.Errorf's %w rather than redefining them, so errors.Is continues
// to work all the way up through the sfs façade.
var (
	// ErrNoSpace is returned by AllocBlock when every data block is in use.
	ErrNoSpace = errors.New("no free blocks")

	// ErrInvalidArgument is returned for out-of-range block IDs or
	// operations on reserved blocks.
	ErrInvalidArgument = errors.New("invalid argument")
)
