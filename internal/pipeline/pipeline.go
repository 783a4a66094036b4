// Package pipeline runs one match request: keypoint limiting, hypergraph
// construction for both images, hyperedge and point matching, and optional
// geometric verification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/internal/match"
	"hypermatch/internal/verify"
	"hypermatch/pkg/geometry"
)

// Input is one side of a match request.
type Input struct {
	Name      string
	Keypoints *keypoint.Set
	Bounds    geometry.Rect // Empty means the bounding box of the keypoints
}

// Options configures Run.
type Options struct {
	Match  match.Params
	Limit  int // Strongest keypoints kept per image; 0 keeps all
	Verify bool
	// VerifyParams is used when Verify is set.
	VerifyParams verify.Params
	// Triangulator replaces the default Delaunay triangulator when non-nil.
	Triangulator hypergraph.Triangulator
	Logger       *slog.Logger
}

// DefaultOptions returns default matching with verification enabled.
func DefaultOptions() Options {
	return Options{
		Match:        match.DefaultParams(),
		Verify:       true,
		VerifyParams: verify.DefaultParams(),
	}
}

// Side holds the per-image intermediate results.
type Side struct {
	Name      string
	Keypoints *keypoint.Set // After the limit was applied
	Graph     *hypergraph.Hypergraph
}

// Output is the result of Run.
type Output struct {
	A, B   Side
	Result *match.Result

	// Verification is nil when verification was disabled or failed;
	// VerifyErr holds the failure.
	Verification *verify.Report
	VerifyErr    error

	Elapsed time.Duration
}

// Run matches image a against image b.
func Run(ctx context.Context, a, b Input, opts Options) (*Output, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	params := opts.Match
	if params.Logger == nil {
		params.Logger = logger
	}
	matcher, err := match.NewMatcher(params)
	if err != nil {
		return nil, fmt.Errorf("match params: %w", err)
	}

	sideA, err := buildSide(a, opts, logger)
	if err != nil {
		return nil, err
	}
	sideB, err := buildSide(b, opts, logger)
	if err != nil {
		return nil, err
	}

	res, err := matcher.Match(ctx, sideA.Graph, sideB.Graph, sideA.Keypoints, sideB.Keypoints)
	if err != nil {
		return nil, fmt.Errorf("match %s against %s: %w", sideA.Name, sideB.Name, err)
	}

	out := &Output{A: sideA, B: sideB, Result: res}
	if opts.Verify {
		report, err := verify.Matches(res.Points, sideA.Keypoints, sideB.Keypoints, opts.VerifyParams)
		switch {
		case err == nil:
			out.Verification = report
			logger.Info("[pipeline] verified",
				"inliers", len(report.Inliers), "matches", len(res.Points),
				"rms", report.RMS, "rotation_deg", report.Transform.RotationDegrees(),
				"scale", report.Transform.ScaleFactor())
		case errors.Is(err, verify.ErrTooFewMatches), errors.Is(err, verify.ErrNoConsensus):
			out.VerifyErr = err
			logger.Info("[pipeline] verification skipped", "reason", err)
		default:
			return nil, fmt.Errorf("verify: %w", err)
		}
	}

	out.Elapsed = time.Since(start)
	logger.Info("[pipeline] done",
		"a", sideA.Name, "b", sideB.Name,
		"edge_matches", len(res.Edges), "point_matches", len(res.Points),
		"elapsed", out.Elapsed)
	return out, nil
}

func buildSide(in Input, opts Options, logger *slog.Logger) (Side, error) {
	if in.Keypoints == nil {
		return Side{}, fmt.Errorf("%s: no keypoints", in.Name)
	}
	kps := in.Keypoints
	if opts.Limit > 0 {
		kps = kps.TopN(opts.Limit)
	}

	builderOpts := []hypergraph.Option{hypergraph.WithLogger(logger)}
	if opts.Triangulator != nil {
		builderOpts = append(builderOpts, hypergraph.WithTriangulator(opts.Triangulator))
	}
	g, err := hypergraph.NewBuilder(in.Bounds, builderOpts...).Build(kps.Points())
	if err != nil {
		return Side{}, fmt.Errorf("%s: %w", in.Name, err)
	}

	logger.Info("[pipeline] hypergraph",
		"image", in.Name, "keypoints", kps.Len(), "edges", g.Len(),
		"rejected", g.Stats.Rejected())
	return Side{Name: in.Name, Keypoints: kps, Graph: g}, nil
}
