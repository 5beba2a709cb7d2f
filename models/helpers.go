package models

import (
	"strconv"
)

// ─── shared formatting helpers (package-private) ────────────────────────

func utoa64(v uint64) string { return strconv.FormatUint(v, 10) }
func ftoa(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
