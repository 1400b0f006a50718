package kwip

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/checkpoint"
	"github.com/hupe1980/kwip/engine"
	"github.com/hupe1980/kwip/internal/cache"
	"github.com/hupe1980/kwip/matrix"
	"github.com/hupe1980/kwip/metric"
	"github.com/hupe1980/kwip/sketch"
	"github.com/hupe1980/kwip/testutil"
)

func sampleStore(t *testing.T, counts ...[]uint32) (*blobstore.MemoryStore, []string) {
	t.Helper()
	store := blobstore.NewMemoryStore()
	paths := make([]string, len(counts))
	for i, c := range counts {
		paths[i] = fmt.Sprintf("data/s%d.kwip", i)
		h := sketch.Header{K: 21, Tables: 1, BlockSize: 3, Compression: sketch.CompressionLZ4}
		require.NoError(t, sketch.Save(t.Context(), store, paths[i], h, c))
	}
	return store, paths
}

func newCalculator(t *testing.T, name string, store blobstore.BlobStore, paths []string, optFns ...Option) *Calculator {
	t.Helper()
	calc, err := NewByName(name, append([]Option{WithStore(store), WithWorkers(2)}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = calc.Close() })
	for _, p := range paths {
		_, err := calc.AddSample(p)
		require.NoError(t, err)
	}
	return calc
}

func TestComputeKernel(t *testing.T) {
	store, paths := sampleStore(t,
		[]uint32{2, 0, 0, 1},
		[]uint32{0, 2, 1, 0},
		[]uint32{1, 1, 1, 1},
	)
	mc := &BasicMetricsCollector{}
	var (
		mu       sync.Mutex
		progress []uint64
	)
	calc := newCalculator(t, "ip", store, paths,
		WithMetricsCollector(mc),
		WithProgress(func(done, _ uint64) {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, done)
		}),
	)

	res, err := calc.Compute(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"s0", "s1", "s2"}, res.Names)
	assert.True(t, res.PSD)

	v, _ := res.Kernel.At(2, 0)
	assert.Equal(t, 3.0, v)
	v, _ = res.Normalized.At(1, 1)
	assert.InDelta(t, 1.0, v, 1e-12)
	v, _ = res.Distance.At(0, 1)
	assert.InDelta(t, 1.4142135623730951, v, 1e-12)

	var buf bytes.Buffer
	require.NoError(t, res.WriteKernel(&buf))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "\ts0\ts1\ts2", lines[0])
	assert.Equal(t, "s0\t5\t0\t3", lines[1])

	buf.Reset()
	require.NoError(t, res.WriteDistance(&buf))
	names, dist, err := matrix.ReadTSV(&buf, res.Distance.Family())
	require.NoError(t, err)
	assert.Equal(t, res.Names, names)
	got, _ := dist.At(2, 1)
	want, _ := res.Distance.At(2, 1)
	assert.Equal(t, want, got)

	stats := mc.GetStats()
	assert.Equal(t, int64(6), stats.CompareCount)
	assert.Equal(t, int64(3), stats.LoadCount)
	assert.Equal(t, int64(1), stats.RunCount)
	assert.Zero(t, stats.RunFailed)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	assert.Equal(t, uint64(6), progress[len(progress)-1])
}

func TestComputeDistance(t *testing.T) {
	store, paths := sampleStore(t,
		[]uint32{1, 2, 3, 4, 5},
		[]uint32{1, 2, 3, 4, 5},
		[]uint32{0, 0, 0, 0, 0},
	)
	calc := newCalculator(t, "manhattan", store, paths, WithStreaming(true))

	res, err := calc.Compute(t.Context())
	require.NoError(t, err)
	assert.Nil(t, res.Kernel)
	assert.Error(t, res.WriteKernel(&bytes.Buffer{}))

	v, ok := res.Distance.At(0, 1)
	require.True(t, ok)
	assert.Zero(t, v)
	v, _ = res.Distance.At(2, 0)
	assert.Equal(t, 1.0, v)
	v, _ = res.Distance.At(1, 1)
	assert.Zero(t, v)
}

func TestComputeFailureKinds(t *testing.T) {
	store, paths := sampleStore(t,
		[]uint32{1, 2, 3, 4},
		[]uint32{4, 3, 2, 1},
		[]uint32{1, 2, 3},
	)
	paths = append(paths, "data/missing.kwip")

	mc := &BasicMetricsCollector{}
	calc := newCalculator(t, "ip", store, paths, WithAbortOnError(false), WithMetricsCollector(mc))
	require.NoError(t, calc.Finalize(t.Context()))

	err := calc.Run(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.Equal(t, engine.StateFailed, calc.State())

	var ce *CompareError
	require.ErrorAs(t, err, &ce)

	failures := calc.Failures()
	assert.NotEmpty(t, failures)
	for _, f := range failures {
		assert.True(t, f.A == "s2" || f.A == "missing" || f.B == "s2" || f.B == "missing", f.Error())
	}

	_, err = calc.Result(t.Context())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, int64(1), mc.GetStats().RunFailed)
}

func TestConfigurationErrors(t *testing.T) {
	_, err := NewByName("nope")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, metric.ErrUnknownMetric)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	store, paths := sampleStore(t, []uint32{1})
	calc := newCalculator(t, "ip", store, paths)
	_, err = calc.Compute(t.Context())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResumeMismatchIsConfiguration(t *testing.T) {
	dir := t.TempDir()
	store, paths := sampleStore(t, []uint32{1, 2}, []uint32{3, 4}, []uint32{5, 6})

	first := newCalculator(t, "ip", store, paths[:2], WithCheckpointDir(dir, checkpoint.FormatTSV))
	_, err := first.Compute(t.Context())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newCalculator(t, "l2", store, paths[:2], WithCheckpointDir(dir, checkpoint.FormatTSV), WithResume(true))
	err = second.Finalize(t.Context())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, checkpoint.ErrManifestMismatch)
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	err := translateError(fmt.Errorf("open: %w", sketch.ErrChecksum))
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, sketch.ErrChecksum)

	err = translateError(fmt.Errorf("release: %w", cache.ErrInvariantViolation))
	assert.ErrorIs(t, err, ErrCacheInvariant)
	assert.NotErrorIs(t, err, ErrIO)

	other := errors.New("other")
	assert.Same(t, other, translateError(other))

	joined := translateError(errors.Join(
		fmt.Errorf("%w: 1 missing", engine.ErrIncomplete),
		&engine.CompareError{Index: 1, A: "x", B: "y", Err: fmt.Errorf("read: %w", sketch.ErrShortRead)},
	))
	assert.ErrorIs(t, joined, ErrIncomplete)
	assert.ErrorIs(t, joined, ErrIO)
	var ce *CompareError
	require.ErrorAs(t, joined, &ce)
	assert.Equal(t, "x", ce.A)
}

func TestRandomPopulationIsPSD(t *testing.T) {
	rng := testutil.NewRNG(11)
	store, paths := sampleStore(t, rng.Population(6, 40, 9)...)

	calc := newCalculator(t, "ip", store, paths, WithCacheCapacity(3), WithMemoryLimit(64))
	res, err := calc.Compute(t.Context())
	require.NoError(t, err)
	assert.True(t, res.PSD)

	for i := range 6 {
		for j := range 6 {
			d, ok := res.Distance.At(i, j)
			require.True(t, ok)
			assert.GreaterOrEqual(t, d, 0.0)
		}
	}
}
