package metric

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/sketch"
)

var (
	// ErrUnknownMetric is returned by ByName.
	ErrUnknownMetric = errors.New("metric: unknown metric")

	// ErrNotPrepared is returned by metrics that need a population pass
	// before Compare.
	ErrNotPrepared = errors.New("metric: not prepared")
)

// Kind says whether a metric measures similarity or dissimilarity.
type Kind uint8

const (
	KindKernel Kind = iota
	KindDistance
)

func (k Kind) String() string {
	if k == KindDistance {
		return "distance"
	}
	return "kernel"
}

// Family returns the condensed layout for results of this kind. Kernels
// include self-comparisons, distances do not.
func (k Kind) Family() condensed.Family {
	if k == KindDistance {
		return condensed.Distance
	}
	return condensed.Kernel
}

// Metric compares two sketches. Implementations must be symmetric, must
// not modify the sources and must be safe for concurrent use.
type Metric interface {
	Name() string
	Kind() Kind
	// Compare fails with sketch.ErrDimensionMismatch when the sketches
	// differ in length or hashing parameters.
	Compare(ctx context.Context, a, b sketch.Source) (float64, error)
}

// Normalizer is implemented by metrics with a single-sketch companion,
// such as a norm.
type Normalizer interface {
	Norm(ctx context.Context, s sketch.Source) (float64, error)
}

// Preparer is implemented by metrics that derive state from the whole
// population before any pair is compared.
type Preparer interface {
	Prepare(ctx context.Context, population []sketch.Source) error
}

// Factory returns a fresh metric instance.
type Factory func() Metric

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"ip":        func() Metric { return IP{} },
		"wip":       func() Metric { return NewWIP() },
		"manhattan": func() Metric { return Manhattan{} },
		"l2":        func() Metric { return L2{} },
	}
)

// Register adds a metric under name, replacing any previous registration.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// ByName returns a new instance of the named metric.
func ByName(name string) (Metric, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownMetric, name, Names())
	}
	return f(), nil
}

// Names lists the registered metrics in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
