package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	microsPerSecond = 1_000_000
	sessionLayout   = "20060102_150405"
)

// FormatMicros renders a node timestamp as MM:SS:UUUUUU. Minutes and
// seconds wrap at 60; the microsecond remainder is zero-padded to six digits.
func FormatMicros(us uint64) string {
	totalSeconds := us / microsPerSecond
	rem := us % microsPerSecond
	minutes := (totalSeconds / 60) % 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%06d", minutes, seconds, rem)
}

// ParseMicros is the inverse of FormatMicros for values below one hour.
// Malformed input yields 0.
func ParseMicros(s string) uint64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0
	}
	var vals [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0
		}
		vals[i] = v
	}
	return vals[0]*60*microsPerSecond + vals[1]*microsPerSecond + vals[2]
}

// SessionStamp formats t as YYYYMMDD_HHMMSS, the suffix used in file names.
func SessionStamp(t time.Time) string {
	return t.Format(sessionLayout)
}

// RecordingFileName builds {node}_{base}_{stamp}.csv. Path separators in
// the node id are replaced so a node can never write outside the directory.
func RecordingFileName(nodeID, baseName, stamp string) string {
	return fmt.Sprintf("%s_%s_%s.csv", fileSafe(nodeID), baseName, stamp)
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
}
