package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseSize parses a human-readable size: "1048576", "64k", "1M", "2G",
// "1GB", "1e6". Binary suffixes are powers of 1024; an exponent is
// decimal. "", "0" and "unlimited" mean 0.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0, nil
	}

	if mant, exp, ok := strings.Cut(s, "E"); ok {
		m, err := strconv.ParseInt(mant, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		e, err := strconv.Atoi(exp)
		if err != nil || e < 0 || e > 18 {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		v := float64(m) * math.Pow10(e)
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("size %q overflows", s)
		}
		return int64(v), nil
	}

	s = strings.TrimSuffix(s, "B")

	var shift uint
	switch {
	case strings.HasSuffix(s, "K"):
		shift = 10
	case strings.HasSuffix(s, "M"):
		shift = 20
	case strings.HasSuffix(s, "G"):
		shift = 30
	case strings.HasSuffix(s, "T"):
		shift = 40
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if val > math.MaxInt64>>shift {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return val << shift, nil
}
