// Package util provides common helpers for building output names.
package util

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// stampLayout sorts lexically in time order and is safe in file names on
// every platform.
const stampLayout = "20060102_150405.000"

// RotationStamp formats t as YYYYMMDD_HHMMSS_mmm.
func RotationStamp(t time.Time) string {
	return strings.Replace(t.Format(stampLayout), ".", "_", 1)
}

// FormatFixed renders v with the given number of decimals. Non-finite values
// render as zero so they never end up in a file name.
func FormatFixed(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	if decimals < 0 {
		decimals = 0
	}
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if s == "-"+strconv.FormatFloat(0, 'f', decimals, 64) {
		s = s[1:]
	}
	return s
}

// StampedName joins prefix and stamp with a dash and appends ext, which may
// be given with or without its leading dot.
func StampedName(prefix, stamp, ext string) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('-')
	}
	b.WriteString(stamp)
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			b.WriteByte('.')
		}
		b.WriteString(ext)
	}
	return b.String()
}

// StampedPath is StampedName rooted at dir.
func StampedPath(dir, prefix, stamp, ext string) string {
	return filepath.Join(dir, StampedName(prefix, stamp, ext))
}
