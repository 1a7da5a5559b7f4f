package column

import "github.com/cloudimpl/colattr/pack"

// seedTrivialBatch reconstructs the rows a trivial (never-materialized)
// integer/real DPN already accounts for in its stats, so a pack being
// materialized for the first time starts with dpn.NR rows already present
// rather than zero: a trivial DPN is either null-only or uniform, and
// either case is fully determined by the DPN's own counters.
func seedTrivialBatch(dpn *DPN) *pack.Batch {
	n := int(dpn.NR)
	if n == 0 {
		return &pack.Batch{}
	}
	if dpn.NullOnly() {
		ints := make([]int64, n)
		nulls := make([]bool, n)
		for i := range nulls {
			nulls[i] = true
		}
		return &pack.Batch{Ints: ints, Nulls: nulls}
	}
	ints := make([]int64, n)
	for i := range ints {
		ints[i] = dpn.MinI
	}
	return &pack.Batch{Ints: ints}
}

// seedTrivialBatchStr is seedTrivialBatch's string-pack counterpart. A
// trivial string DPN can only be null-only: string packs have no uniform
// fast path, so any non-null row materializes the pack immediately.
func seedTrivialBatchStr(dpn *DPN) *pack.Batch {
	n := int(dpn.NR)
	if n == 0 {
		return &pack.Batch{Strs: []string{}}
	}
	strs := make([]string, n)
	nulls := make([]bool, n)
	for i := range nulls {
		nulls[i] = true
	}
	return &pack.Batch{Strs: strs, Nulls: nulls}
}
