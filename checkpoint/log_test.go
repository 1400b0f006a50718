package checkpoint

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/internal/fs"
)

func TestLogAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernellog.tab")

	l, err := OpenLog(path, func(o *Options) {
		o.Banner = Banner(condensed.Kernel, "1.0.0", "run-1")
	})
	require.NoError(t, err)

	records := []Record{
		{A: "s1", B: "s1", Index: 0, Value: 1.0 / 3.0},
		{A: "s2", B: "s1", Index: 1, Value: math.SmallestNonzeroFloat64},
		{A: "s2", B: "s2", Index: 2, Value: 12345678.9},
	}
	for _, rec := range records {
		require.NoError(t, l.Append(rec))
	}

	got, err := l.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, records, got)
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "# Kernel values generated with kwip version 1.0.0 (run run-1)", lines[0])
	assert.Equal(t, "s1\ts1\t0\t0.33333333333333331", lines[1])

	assert.ErrorIs(t, l.Append(records[0]), ErrClosed)
}

func TestLogReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distlog.tab")
	banner := func(o *Options) { o.Banner = "banner" }

	l, err := OpenLog(path, banner)
	require.NoError(t, err)
	require.NoError(t, l.Append(Record{A: "a", B: "b", Index: 0, Value: 1}))
	require.NoError(t, l.Close())

	l, err = OpenLog(path, banner)
	require.NoError(t, err)
	require.NoError(t, l.Append(Record{A: "c", B: "a", Index: 1, Value: 2}))

	got, err := l.Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "# banner"))

	l, err = OpenLog(path, func(o *Options) { o.Banner = "fresh"; o.Truncate = true })
	require.NoError(t, err)
	got, err = l.Load(t.Context())
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, l.Close())
}

func TestLogRepairsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distlog.tab")
	require.NoError(t, os.WriteFile(path, []byte("# banner\na\tb\t0\t0.1\nc\td\t1\t0.2"), 0o600))

	for resume := range 2 {
		l, err := OpenLog(path, func(o *Options) { o.Banner = "banner" })
		require.NoError(t, err)

		got, err := l.Load(t.Context())
		require.NoError(t, err)
		require.Len(t, got, 1+resume)

		require.NoError(t, l.Append(Record{A: "c", B: "d", Index: 1, Value: 0.25}))
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# banner\na\tb\t0\t0.1\nc\td\t1\t0.25\nc\td\t1\t0.25\n", string(data))

	l, err := OpenLog(path)
	require.NoError(t, err)
	defer l.Close()
	got, err := l.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{A: "a", B: "b", Index: 0, Value: 0.1},
		{A: "c", B: "d", Index: 1, Value: 0.25},
		{A: "c", B: "d", Index: 1, Value: 0.25},
	}, got)
}

func TestLogRepairsTornBanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernellog.tab")
	require.NoError(t, os.WriteFile(path, []byte("# ban"), 0o600))

	l, err := OpenLog(path, func(o *Options) { o.Banner = "banner" })
	require.NoError(t, err)
	require.NoError(t, l.Append(Record{A: "a", B: "a", Index: 0, Value: 1}))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# banner\na\ta\t0\t1\n", string(data))
}

func TestLogRejectsControlCharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernellog.tab")
	l, err := OpenLog(path)
	require.NoError(t, err)

	for _, name := range []string{"a\tb", "a\nb", "a\r"} {
		assert.ErrorIs(t, l.Append(Record{A: name, B: "x"}), ErrInvalidName)
		assert.ErrorIs(t, l.Append(Record{A: "x", B: name}), ErrInvalidName)
	}
	require.NoError(t, l.Append(Record{A: "a b", B: "c", Index: 0, Value: 1}))

	got, err := l.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []Record{{A: "a b", B: "c", Index: 0, Value: 1}}, got)
	require.NoError(t, l.Close())
}

func TestLogConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernellog.tab")
	l, err := OpenLog(path, func(o *Options) { o.Durability = DurabilityBuffered })
	require.NoError(t, err)
	defer l.Close()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				assert.NoError(t, l.Append(Record{A: "a", B: "b", Index: uint64(w*50 + i), Value: float64(i)}))
			}
		}()
	}
	wg.Wait()

	got, err := l.Load(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 400)

	seen := make(map[uint64]bool)
	for _, rec := range got {
		seen[rec.Index] = true
	}
	assert.Len(t, seen, 400)
}

func TestLogWriteFailurePoisons(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("kernellog", fs.Fault{FailAfterBytes: 0})

	l, err := OpenLog(filepath.Join(t.TempDir(), "kernellog.tab"), func(o *Options) { o.FS = faulty })
	require.NoError(t, err)
	defer l.Close()

	err = l.Append(Record{A: "a", B: "b", Value: 1})
	require.ErrorIs(t, err, fs.ErrInjected)

	err = l.Append(Record{A: "a", B: "b", Index: 1, Value: 1})
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.ErrorIs(t, l.Flush(), fs.ErrInjected)
}

func TestLogSyncFailure(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("kernellog", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	l, err := OpenLog(filepath.Join(t.TempDir(), "kernellog.tab"), func(o *Options) {
		o.FS = faulty
		o.Durability = DurabilitySync
	})
	require.NoError(t, err)
	defer l.Close()

	assert.ErrorIs(t, l.Append(Record{A: "a", B: "b"}), fs.ErrInjected)
}

func TestParseLog(t *testing.T) {
	input := "# banner\n" +
		"a\tb\t3\t0.5\n" +
		"\n" +
		"c\td\t4\t1e-3\n" +
		"e\tf\t5\t0.2" // torn

	got, err := ParseLog(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{A: "a", B: "b", Index: 3, Value: 0.5},
		{A: "c", B: "d", Index: 4, Value: 0.001},
	}, got)

	for _, bad := range []string{"a\tb\t3\n", "a\tb\tx\t1\n", "a\tb\t1\ty\n"} {
		_, err := ParseLog(strings.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt, bad)
	}
}
