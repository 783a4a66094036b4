// Command hypermatch matches the keypoints of two images through their
// triangular hypergraphs and writes the matches as overlay images.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"hypermatch/internal/config"
	"hypermatch/internal/features"
	himage "hypermatch/internal/image"
	"hypermatch/internal/pipeline"
	"hypermatch/internal/render"
	"hypermatch/internal/version"

	"github.com/joho/godotenv"
	"gocv.io/x/gocv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	_ = godotenv.Load()

	pathA := flag.String("a", "", "Path to the first image (TIFF, PNG, or JPEG)")
	pathB := flag.String("b", "", "Path to the second image")
	configPath := flag.String("config", "", "Config file (default ./hypermatch.yaml or ~/.config/hypermatch/config.yaml)")
	cang := flag.Float64("cang", 0, "Weight of the angle similarity")
	crat := flag.Float64("crat", 0, "Weight of the area similarity")
	cdesc := flag.Float64("cdesc", 0, "Weight of the descriptor similarity")
	threshold := flag.Float64("threshold", 0, "Minimum combined score of a hyperedge match")
	limit := flag.Int("limit", 0, "Strongest keypoints kept per image (0 keeps all)")
	maxDim := flag.Int("maxdim", 0, "Downscale images whose longer side exceeds this")
	backend := flag.String("backend", "", "Score matrix backend: sequential or parallel")
	workers := flag.Int("workers", 0, "Parallel backend workers (0 uses all CPUs)")
	detector := flag.String("detector", "", "Keypoint detector: sift, orb, akaze or brisk")
	dedup := flag.String("dedup", "", "Point match dedup: none, pairs or one-to-one")
	verifyFlag := flag.Bool("verify", true, "Fit an affine transform to the point matches")
	outDir := flag.String("out", "", "Directory for overlay images (empty writes none)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *pathA == "" || *pathB == "" {
		fmt.Println("Usage: hypermatch -a <image> -b <image> [-config file] [-cang w] [-crat w] [-cdesc w] [-threshold t] [-out dir]")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line win over the config file and the
	// environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cang":
			cfg.Match.Weights.Angle = *cang
		case "crat":
			cfg.Match.Weights.Area = *crat
		case "cdesc":
			cfg.Match.Weights.Desc = *cdesc
		case "threshold":
			cfg.Match.Threshold = *threshold
		case "limit":
			cfg.Features.Limit = *limit
		case "maxdim":
			cfg.Features.MaxDim = *maxDim
		case "backend":
			cfg.Match.Backend = *backend
		case "workers":
			cfg.Match.Workers = *workers
		case "detector":
			cfg.Features.Detector = *detector
		case "dedup":
			cfg.Match.Dedup = *dedup
		case "verify":
			cfg.Verify.Enabled = *verifyFlag
		}
	})

	level, err := cfg.Level()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	params, err := cfg.MatchParams()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid match parameters: %v\n", err)
		os.Exit(1)
	}
	det, err := features.ParseDetector(cfg.Features.Detector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid detector: %v\n", err)
		os.Exit(1)
	}
	extractor, err := features.NewExtractor(features.Options{Detector: det, Normalize: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create extractor: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Weights: area=%.3f angle=%.3f desc=%.3f\n",
		params.Weights.Area, params.Weights.Angle, params.Weights.Desc)
	fmt.Printf("Threshold: %.3f  Backend: %s  Dedup: %s  Detector: %s\n",
		params.Threshold, params.Backend, params.Dedup, det)

	imgA, inA, err := loadSide(*pathA, cfg.Features.MaxDim, extractor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	imgB, inB, err := loadSide(*pathB, cfg.Features.MaxDim, extractor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := pipeline.Options{
		Match:        params,
		Limit:        cfg.Features.Limit,
		Verify:       cfg.Verify.Enabled,
		VerifyParams: cfg.VerifyParams(),
		Logger:       logger,
	}
	out, err := pipeline.Run(ctx, inA, inB, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matching failed: %v\n", err)
		os.Exit(1)
	}
	printSummary(out, imgA.Scale, imgB.Scale)

	if *outDir != "" {
		ropts := render.DefaultOptions()
		ropts.PointRadius = cfg.Render.PointRadius
		ropts.LineThickness = cfg.Render.LineThickness
		if err := writeOverlays(*outDir, imgA, imgB, out, ropts); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write overlays: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nOverlays written to %s\n", *outDir)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSide(path string, maxDim int, extractor features.Extractor) (*himage.Image, pipeline.Input, error) {
	img, err := himage.Load(path)
	if err != nil {
		return nil, pipeline.Input{}, err
	}
	img = img.Fit(maxDim)

	kps, err := features.ExtractImage(extractor, img.Data)
	if err != nil {
		return nil, pipeline.Input{}, fmt.Errorf("keypoint extraction failed for %s: %w", path, err)
	}
	fmt.Printf("Loaded %s: %dx%d pixels (scale %.3f), %d keypoints\n",
		filepath.Base(path), img.Width(), img.Height(), img.Scale, kps.Len())

	return img, pipeline.Input{Name: filepath.Base(path), Keypoints: kps, Bounds: img.Bounds()}, nil
}

func printSummary(out *pipeline.Output, scaleA, scaleB float64) {
	st := out.Result.Stats
	fmt.Printf("\n=== Hypergraphs ===\n")
	fmt.Printf("%-20s %10s %10s %10s\n", "Image", "Keypoints", "Edges", "Rejected")
	for _, side := range []pipeline.Side{out.A, out.B} {
		fmt.Printf("%-20s %10d %10d %10d\n",
			side.Name, side.Keypoints.Len(), side.Graph.Len(), side.Graph.Stats.Rejected())
	}

	fmt.Printf("\n=== Matches ===\n")
	fmt.Printf("Backend: %s", st.Backend)
	if st.FellBack {
		fmt.Printf(" (fell back)")
	}
	fmt.Println()
	fmt.Printf("Edge matches: %d of %d (unmatched %d)\n", st.EdgeMatches, st.EdgesA, st.Unmatched)
	if st.EdgeMatches > 0 {
		fmt.Printf("Score: avg %.3f, min %.3f\n", st.AvgScore, st.MinScore)
	}
	fmt.Printf("Point matches: %d\n", st.PointMatches)
	if st.PointMatches > 0 {
		fmt.Printf("Descriptor distance: avg %.4f, max %.4f\n", st.AvgDistance, st.MaxDistance)
	}

	switch {
	case out.Verification != nil:
		r := out.Verification
		fmt.Printf("\n=== Verification ===\n")
		fmt.Printf("Inliers: %d/%d (%.1f%%)\n", len(r.Inliers), st.PointMatches, r.InlierRatio*100)
		fmt.Printf("RMS error: %.2f px\n", r.RMS)
		fmt.Printf("Rotation: %.4f°\n", r.Transform.RotationDegrees())
		fmt.Printf("Scale: %.6f\n", r.Transform.ScaleFactor())
		fmt.Printf("Translation: (%.1f, %.1f)\n", r.Transform.TX, r.Transform.TY)
		if scaleA != 1 || scaleB != 1 {
			orig := r.InOriginalPixels(scaleA, scaleB)
			fmt.Printf("In original pixels: rotation %.4f°, scale %.6f, translation (%.1f, %.1f)\n",
				orig.RotationDegrees(), orig.ScaleFactor(), orig.TX, orig.TY)
		}
	case out.VerifyErr != nil:
		fmt.Printf("\nVerification skipped: %v\n", out.VerifyErr)
	}
	fmt.Printf("\nElapsed: %s\n", out.Elapsed)
}

func writeOverlays(dir string, imgA, imgB *himage.Image, out *pipeline.Output, opts render.Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	matA := features.ToMat(imgA.Data)
	defer matA.Close()
	matB := features.ToMat(imgB.Data)
	defer matB.Close()

	overlays := map[string]func() gocv.Mat{
		"triangulation_a.png": func() gocv.Mat {
			return render.Triangulation(matA, out.A.Graph, out.A.Keypoints, opts)
		},
		"triangulation_b.png": func() gocv.Mat {
			return render.Triangulation(matB, out.B.Graph, out.B.Keypoints, opts)
		},
		"edge_matches.png": func() gocv.Mat {
			return render.EdgeMatches(matA, matB, out.A.Graph, out.B.Graph,
				out.A.Keypoints, out.B.Keypoints, out.Result.Edges, opts)
		},
		"point_matches.png": func() gocv.Mat {
			return render.PointMatches(matA, matB, out.A.Keypoints, out.B.Keypoints, out.Result.Points, opts)
		},
	}
	for name, draw := range overlays {
		m := draw()
		err := render.Write(filepath.Join(dir, name), m)
		m.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
