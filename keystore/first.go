package keystore

import "iter"

// First returns the first value produced by seq and stops the sequence right after it.
// The sequence may be backed by a slice, a lazy generator or an endless cycle; only one
// value is ever pulled. ok is false when seq yields nothing.
func First[T any](seq iter.Seq[T]) (v T, ok bool) {
	if seq == nil {
		return v, false
	}
	for item := range seq {
		return item, true
	}
	return v, false
}
