package match

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hypermatch/internal/similarity"
)

// ErrInvalidThreshold is returned for an acceptance threshold outside (0, 1]
// or a negative point distance threshold.
var ErrInvalidThreshold = errors.New("threshold out of range")

// ErrInvalidParams is returned for other out-of-range matcher parameters.
var ErrInvalidParams = errors.New("invalid match parameters")

// Backend selects how the score matrix is computed.
type Backend int

const (
	// BackendSequential scores every pair on the calling goroutine.
	BackendSequential Backend = iota
	// BackendParallel scores row stripes concurrently.
	BackendParallel
)

func (b Backend) String() string {
	switch b {
	case BackendSequential:
		return "sequential"
	case BackendParallel:
		return "parallel"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend converts a backend name ("sequential", "parallel").
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "seq":
		return BackendSequential, nil
	case "parallel", "par":
		return BackendParallel, nil
	}
	return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidParams, s)
}

// Dedup controls how point matches derived from overlapping edge matches
// are merged.
type Dedup int

const (
	// DedupNone keeps every pairing, including repeats.
	DedupNone Dedup = iota
	// DedupPairs keeps one match per (A, B) pair with the smallest distance.
	DedupPairs
	// DedupOneToOne lets each point appear at most once per side, preferring
	// smaller distances.
	DedupOneToOne
)

func (d Dedup) String() string {
	switch d {
	case DedupNone:
		return "none"
	case DedupPairs:
		return "pairs"
	case DedupOneToOne:
		return "one-to-one"
	default:
		return fmt.Sprintf("Dedup(%d)", int(d))
	}
}

// ParseDedup converts a dedup policy name ("none", "pairs", "one-to-one").
func ParseDedup(s string) (Dedup, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return DedupNone, nil
	case "pairs":
		return DedupPairs, nil
	case "one-to-one", "onetoone", "1:1":
		return DedupOneToOne, nil
	}
	return 0, fmt.Errorf("%w: unknown dedup policy %q", ErrInvalidParams, s)
}

// Params holds hyperedge and point matching parameters.
type Params struct {
	// Combined score coefficients, normalized before use.
	Weights similarity.Weights

	// Edge pairs scoring below Threshold are not matched. Range (0, 1].
	Threshold float64

	Sigma     float64 // Normalizes area and angle distances
	DescSigma float64 // Normalizes descriptor distance; 1 is unscaled

	// Point pairings with descriptor distance >= PointThreshold are dropped.
	PointThreshold float64
	Dedup          Dedup

	Backend        Backend
	Workers        int  // Parallel workers; 0 means one per CPU
	MaxMatrixCells int  // Largest matrix the parallel backend accepts; 0 is unlimited
	Fallback       bool // Retry on the sequential backend after a backend failure

	Logger *slog.Logger // nil means slog.Default()
}

// DefaultParams returns the default matching parameters.
func DefaultParams() Params {
	return Params{
		Weights: similarity.EqualWeights(),

		// Historic tuning used 0.4 to 0.85 depending on the detector.
		Threshold: 0.75,

		Sigma:     0.5,
		DescSigma: 1,

		PointThreshold: 0.1,
		Dedup:          DedupPairs,

		Backend:  BackendParallel,
		Fallback: true,
	}
}

// WithWeights returns a copy of p with the given area, angle and descriptor weights.
func (p Params) WithWeights(area, angle, desc float64) Params {
	p.Weights = similarity.Weights{Area: area, Angle: angle, Desc: desc}
	return p
}

// WithThreshold returns a copy of p with a new acceptance threshold.
func (p Params) WithThreshold(tau float64) Params {
	p.Threshold = tau
	return p
}

// WithBackend returns a copy of p using backend b with the given worker count.
func (p Params) WithBackend(b Backend, workers int) Params {
	p.Backend = b
	p.Workers = workers
	return p
}

// WithDedup returns a copy of p with a different point dedup policy.
func (p Params) WithDedup(d Dedup) Params {
	p.Dedup = d
	return p
}

// WithLogger returns a copy of p that logs to l.
func (p Params) WithLogger(l *slog.Logger) Params {
	p.Logger = l
	return p
}

// Validate reports the first out-of-range parameter.
func (p Params) Validate() error {
	if _, err := p.Weights.Normalize(); err != nil {
		return err
	}
	if !(p.Threshold > 0 && p.Threshold <= 1) {
		return fmt.Errorf("%w: threshold %g not in (0, 1]", ErrInvalidThreshold, p.Threshold)
	}
	if !(p.PointThreshold >= 0) {
		return fmt.Errorf("%w: point threshold %g is negative", ErrInvalidThreshold, p.PointThreshold)
	}
	if !(p.Sigma > 0) || !(p.DescSigma > 0) {
		return fmt.Errorf("%w: sigma=%g desc_sigma=%g", similarity.ErrInvalidSigma, p.Sigma, p.DescSigma)
	}
	if p.Backend != BackendSequential && p.Backend != BackendParallel {
		return fmt.Errorf("%w: %s", ErrInvalidParams, p.Backend)
	}
	if p.Dedup < DedupNone || p.Dedup > DedupOneToOne {
		return fmt.Errorf("%w: %s", ErrInvalidParams, p.Dedup)
	}
	if p.Workers < 0 || p.MaxMatrixCells < 0 {
		return fmt.Errorf("%w: workers=%d max_matrix_cells=%d", ErrInvalidParams, p.Workers, p.MaxMatrixCells)
	}
	return nil
}
