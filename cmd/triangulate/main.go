// Command triangulate detects keypoints in one image, builds its triangular
// hypergraph and writes the triangulation as an overlay.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"hypermatch/internal/features"
	"hypermatch/internal/hypergraph"
	himage "hypermatch/internal/image"
	"hypermatch/internal/render"

	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	_ = godotenv.Load()

	imagePath := flag.String("image", "", "Path to the image (TIFF, PNG, or JPEG)")
	detector := flag.String("detector", "sift", "Keypoint detector: sift, orb, akaze or brisk")
	limit := flag.Int("limit", 0, "Strongest keypoints kept (0 keeps all)")
	maxDim := flag.Int("maxdim", 0, "Downscale the image if its longer side exceeds this")
	out := flag.String("out", "triangulation.png", "Output overlay path")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: triangulate -image <path> [-detector sift] [-limit n] [-out triangulation.png]")
		os.Exit(1)
	}

	img, err := himage.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	img = img.Fit(*maxDim)
	fmt.Printf("Loaded image: %dx%d pixels\n", img.Width(), img.Height())
	if img.DPI > 0 {
		fmt.Printf("DPI: %.0f\n", img.DPI)
	}

	det, err := features.ParseDetector(*detector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	extractor, err := features.NewExtractor(features.Options{Detector: det, Normalize: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create extractor: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nDetecting %s keypoints...\n", det)
	kps, err := features.ExtractImage(extractor, img.Data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Detected %d keypoints (descriptor width %d)\n", kps.Len(), kps.Dim())
	if *limit > 0 {
		kps = kps.TopN(*limit)
		fmt.Printf("Kept the %d strongest\n", kps.Len())
	}

	g, err := hypergraph.NewBuilder(img.Bounds()).Build(kps.Points())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Triangulation failed: %v\n", err)
		os.Exit(1)
	}

	st := g.Stats
	fmt.Printf("\nHyperedges: %d\n", g.Len())
	fmt.Printf("  Candidates: %d\n", st.Candidates)
	fmt.Printf("  Rejected: %d (outside %d, unresolved %d, degenerate %d)\n",
		st.Rejected(), st.OutsideBounds, st.Unresolved, st.Degenerate)

	mat := features.ToMat(img.Data)
	defer mat.Close()
	overlay := render.Triangulation(mat, g, kps, render.DefaultOptions())
	defer overlay.Close()
	if err := render.Write(*out, overlay); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nOverlay written to %s\n", *out)
}
