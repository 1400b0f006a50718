package matrix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hupe1980/kwip/condensed"
)

// WriteTSV writes m as a labeled tab-separated matrix: a header row of
// names preceded by an empty cell, then one row per sample holding its
// name and N values. Values use the shortest 17-digit form, which
// round-trips exactly.
func WriteTSV(w io.Writer, names []string, m *Matrix) error {
	if len(names) != m.n {
		return fmt.Errorf("matrix: %d names for %d rows", len(names), m.n)
	}
	if !m.Complete() {
		return fmt.Errorf("%w: %d of %d missing", ErrIncomplete, m.Len()-m.NumComputed(), m.Len())
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	record := make([]string, m.n+1)
	copy(record[1:], names)
	if err := cw.Write(record); err != nil {
		return err
	}

	for i, name := range names {
		record[0] = name
		for j := range m.n {
			v, _ := m.At(i, j)
			record[j+1] = strconv.FormatFloat(v, 'g', 17, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadTSV parses a matrix written by WriteTSV. The input must be
// symmetric, and for the distance family its diagonal must be zero.
func ReadTSV(r io.Reader, family condensed.Family) ([]string, *Matrix, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty input", ErrMalformed)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	names := append([]string(nil), header[1:]...)
	n := len(names)

	m, err := New(n, family)
	if err != nil {
		return nil, nil, err
	}
	dense := make([]float64, n*n)

	for i := range n {
		rec, err := cr.Read()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: row %d: %w", ErrMalformed, i, err)
		}
		if rec[0] != names[i] {
			return nil, nil, fmt.Errorf("%w: row %d is %q, want %q", ErrMalformed, i, rec[0], names[i])
		}
		for j := range n {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: cell (%d, %d): %w", ErrMalformed, i, j, err)
			}
			dense[i*n+j] = v
		}
	}
	if _, err := cr.Read(); !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: trailing rows", ErrMalformed)
	}

	for i := range n {
		for j := range i + 1 {
			v := dense[i*n+j]
			if v != dense[j*n+i] {
				return nil, nil, fmt.Errorf("%w: (%d, %d) and (%d, %d) differ", ErrMalformed, i, j, j, i)
			}
			if i == j && family == condensed.Distance {
				if v != 0 {
					return nil, nil, fmt.Errorf("%w: distance diagonal (%d, %d) is %g", ErrMalformed, i, i, v)
				}
				continue
			}
			if err := m.SetAt(i, j, v); err != nil {
				return nil, nil, err
			}
		}
	}
	return names, m, nil
}
