package realtime

import "math/big"

// Event ids are opaque strings, conventionally decimal-encoded 64-bit
// monotonic integers. The resume protocol and event de-duplication need a
// total order over them, and the numeric form can exceed 2^63, so numeric
// comparison is done with arbitrary precision rather than int64 parsing.

// IsNumericOrdinal reports whether id is a non-empty string of ASCII digits.
func IsNumericOrdinal(id string) bool {
	if id == "" {
		return false
	}

	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}

	return true
}

// CompareEventIDs returns -1, 0, or 1 ordering a before/equal/after b.
//
// When both ids are numeric ordinals they compare as unbounded integers.
// Otherwise comparison falls back to byte-wise lexicographic order, which
// is deliberately weaker: callers must not assume it is meaningful across
// heterogeneous id formats. The empty string sorts before everything.
func CompareEventIDs(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}

	if IsNumericOrdinal(a) && IsNumericOrdinal(b) {
		ia, okA := new(big.Int).SetString(a, 10)
		ib, okB := new(big.Int).SetString(b, 10)

		if okA && okB {
			return ia.Cmp(ib)
		}
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
