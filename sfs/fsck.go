package sfs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/directory"
	"github.com/nwillc/sfs/inode"
)

// Fsck is a supplemented consistency checker: it walks the whole volume and
// reports every invariant violation it finds rather than stopping at the
// first, using multierror the way a diagnostic tool should. It never
// mutates the volume. A nil return means the volume is internally
// consistent.
func (s *Storage) Fsck() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error

	referenced := make(map[block.ID]bool)
	inodeReferenced := make(map[inode.Num]bool)
	inodeReferenced[inode.RootNum] = true

	for i := uint(0); i < s.dev.TotalInodes(); i++ {
		n := inode.Num(i)
		allocated := s.it.IsAllocated(n)

		raw, err := s.it.Get(n)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("inode %d: %w", n, err))
			continue
		}

		if !allocated {
			if raw.Mode() != 0 || raw.Size() != 0 {
				result = multierror.Append(result, fmt.Errorf(
					"inode %d: marked free but record is not zeroed (mode=%#x size=%d)",
					n, raw.Mode(), raw.Size(),
				))
			}
			continue
		}

		if !raw.IsDir() && !raw.IsFile() {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d: allocated with unrecognized type bits %#x", n, raw.Mode(),
			))
		}

		blockCount := block.BytesToBlocks(uint(raw.Size()))
		if blockCount > inode.MaxFileBlocks {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d: size %d implies %d blocks, exceeding the maximum of %d",
				n, raw.Size(), blockCount, inode.MaxFileBlocks,
			))
		}

		for d := 0; d < inode.NDirect; d++ {
			if id := raw.Direct(d); id != 0 {
				s.checkBlockRef(&result, n, id, referenced)
			}
		}
		if ind := raw.Indirect(); ind != 0 {
			s.checkBlockRef(&result, n, ind, referenced)
			if uint(ind) < s.dev.TotalBlocks() {
				for k := uint(inode.NDirect); k < inode.MaxFileBlocks; k++ {
					if id, err := s.it.BlockAt(n, k, false); err == nil && id != 0 {
						s.checkBlockRef(&result, n, id, referenced)
					}
				}
			}
		}

		if raw.IsDir() {
			if raw.Size()%directory.Size != 0 {
				result = multierror.Append(result, fmt.Errorf(
					"inode %d: directory size %d is not a multiple of %d", n, raw.Size(), directory.Size,
				))
			}
			names, err := s.dl.List(n)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("inode %d: listing entries: %w", n, err))
				continue
			}
			for _, name := range names {
				target, err := s.dl.Lookup(n, name)
				if err != nil {
					result = multierror.Append(result, fmt.Errorf(
						"inode %d: entry %q: %w", n, name, err,
					))
					continue
				}
				if !s.it.IsAllocated(target) {
					result = multierror.Append(result, fmt.Errorf(
						"inode %d: entry %q points at unallocated inode %d", n, name, target,
					))
					continue
				}
				inodeReferenced[target] = true
			}
		}
	}

	for i := uint(0); i < s.dev.TotalBlocks(); i++ {
		id := block.ID(i)
		if id < block.ID(s.dev.ReservedBlocks()) {
			continue
		}
		inUse := s.dev.BlockInUse(id)
		if inUse && !referenced[id] {
			result = multierror.Append(result, fmt.Errorf(
				"block %d: marked in use but not referenced by any inode", id,
			))
		}
		if !inUse && referenced[id] {
			result = multierror.Append(result, fmt.Errorf(
				"block %d: referenced by an inode but not marked in use", id,
			))
		}
	}

	for i := uint(0); i < s.dev.TotalInodes(); i++ {
		n := inode.Num(i)
		if s.it.IsAllocated(n) && !inodeReferenced[n] {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d: allocated but not reachable from the root directory", n,
			))
		}
	}

	return result.ErrorOrNil()
}

func (s *Storage) checkBlockRef(result **multierror.Error, n inode.Num, id block.ID, referenced map[block.ID]bool) {
	if uint(id) >= s.dev.TotalBlocks() {
		*result = multierror.Append(*result, fmt.Errorf(
			"inode %d: block pointer %d out of range [0, %d)", n, id, s.dev.TotalBlocks(),
		))
		return
	}
	if uint(id) < s.dev.ReservedBlocks() {
		*result = multierror.Append(*result, fmt.Errorf(
			"inode %d: block pointer %d falls in the reserved region", n, id,
		))
		return
	}
	if referenced[id] {
		*result = multierror.Append(*result, fmt.Errorf(
			"block %d: referenced by more than one inode (inode %d)", id, n,
		))
		return
	}
	referenced[id] = true
}
