package conv

import (
	"fmt"
	"math"
)

// IntToUint16 converts int to uint16, failing on negative or oversized values.
func IntToUint16(v int) (uint16, error) {
	if v < 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("integer overflow: %d does not fit uint16", v)
	}
	return uint16(v), nil
}

// IntToUint32 converts int to uint32, failing on negative or oversized values.
func IntToUint32(v int) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d does not fit uint32 (negative)", v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d does not fit uint32", v)
	}
	return uint32(v), nil
}

// Uint64ToInt converts uint64 to int.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d does not fit int", v)
	}
	return int(v), nil
}

// Uint64ToUint32 converts uint64 to uint32.
func Uint64ToUint32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d does not fit uint32", v)
	}
	return uint32(v), nil
}

// Int64ToInt converts int64 to int. Only fails on 32-bit platforms.
func Int64ToInt(v int64) (int, error) {
	if v > math.MaxInt || v < math.MinInt {
		return 0, fmt.Errorf("integer overflow: %d does not fit int", v)
	}
	return int(v), nil
}
