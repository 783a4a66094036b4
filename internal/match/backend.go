package match

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ErrBackend matches every *BackendError via errors.Is.
var ErrBackend = errors.New("score backend failed")

// BackendError reports that a backend could not produce the score matrix.
// The matcher itself is still usable; callers may retry on another backend.
//
// The underlying cause can be accessed via errors.Unwrap.
type BackendError struct {
	Backend Backend
	cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.cause)
}

func (e *BackendError) Unwrap() error { return e.cause }

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// PairScorer is the per-pair function shared by the backends.
// *similarity.Scorer implements it.
type PairScorer interface {
	Dims() (int, int)
	Combined(i, j int) float64
}

// ScoreMatrix holds the combined score of every edge pair, rows indexing
// hypergraph A and columns hypergraph B.
type ScoreMatrix struct {
	rows, cols int
	dense      *mat.Dense // nil when either side is empty
}

func newScoreMatrix(rows, cols int, data []float64) *ScoreMatrix {
	m := &ScoreMatrix{rows: rows, cols: cols}
	if rows > 0 && cols > 0 {
		m.dense = mat.NewDense(rows, cols, data)
	}
	return m
}

// Dims returns the matrix shape.
func (m *ScoreMatrix) Dims() (int, int) {
	return m.rows, m.cols
}

// At returns the score of edge i of A against edge j of B.
func (m *ScoreMatrix) At(i, j int) float64 {
	return m.dense.At(i, j)
}

// Row returns the scores of edge i of A. The slice aliases the matrix.
func (m *ScoreMatrix) Row(i int) []float64 {
	return m.dense.RawRowView(i)
}

// Dense returns the underlying matrix, or nil when empty.
func (m *ScoreMatrix) Dense() *mat.Dense {
	return m.dense
}

// ComputeScores fills the score matrix for s on the selected backend.
func ComputeScores(ctx context.Context, s PairScorer, p Params) (*ScoreMatrix, error) {
	switch p.Backend {
	case BackendSequential:
		return scoreSequential(ctx, s)
	case BackendParallel:
		return scoreParallel(ctx, s, p.Workers, p.MaxMatrixCells)
	default:
		return nil, &BackendError{Backend: p.Backend, cause: ErrInvalidParams}
	}
}

func scoreSequential(ctx context.Context, s PairScorer) (*ScoreMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BackendError{Backend: BackendSequential, cause: err}
	}
	rows, cols := s.Dims()
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		for j := range row {
			row[j] = s.Combined(i, j)
		}
	}
	return newScoreMatrix(rows, cols, data), nil
}

func scoreParallel(ctx context.Context, s PairScorer, workers, maxCells int) (*ScoreMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BackendError{Backend: BackendParallel, cause: err}
	}
	rows, cols := s.Dims()
	if maxCells > 0 && rows*cols > maxCells {
		return nil, &BackendError{
			Backend: BackendParallel,
			cause:   fmt.Errorf("%dx%d score matrix exceeds %d cells", rows, cols, maxCells),
		}
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Each worker owns a contiguous stripe of rows, so every cell is
	// written exactly once and no locking is needed.
	data := make([]float64, rows*cols)
	stripe := stripeRows(rows, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < rows; start += stripe {
		if gctx.Err() != nil {
			break
		}
		end := min(start+stripe, rows)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker panic on rows [%d, %d): %v", start, end, r)
				}
			}()
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				row := data[i*cols : (i+1)*cols]
				for j := range row {
					row[j] = s.Combined(i, j)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &BackendError{Backend: BackendParallel, cause: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &BackendError{Backend: BackendParallel, cause: err}
	}
	return newScoreMatrix(rows, cols, data), nil
}

// stripeRows splits rows into about four stripes per worker so a slow
// stripe does not leave the other workers idle.
func stripeRows(rows, workers int) int {
	n := workers * 4
	stripe := (rows + n - 1) / n
	if stripe < 1 {
		stripe = 1
	}
	return stripe
}

// bestPerRow returns, for each row, the column with the strictly greatest
// score (the first one on ties) and whether it reaches tau.
func bestPerRow(m *ScoreMatrix, tau float64) []EdgeMatch {
	if m.dense == nil {
		return nil
	}
	var out []EdgeMatch
	for i := 0; i < m.rows; i++ {
		best, bestJ := 0.0, -1
		for j, v := range m.Row(i) {
			if bestJ < 0 || v > best {
				best, bestJ = v, j
			}
		}
		if bestJ >= 0 && best >= tau {
			out = append(out, EdgeMatch{EdgeA: i, EdgeB: bestJ, Score: best})
		}
	}
	return out
}
