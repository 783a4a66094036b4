package features

import (
	"image"
	"runtime"
	"sync"

	"hypermatch/internal/keypoint"

	"gocv.io/x/gocv"
)

// ToMat converts an image to a BGR gocv.Mat. The caller must Close it.
func ToMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	if width == 0 || height == 0 {
		return mat
	}

	// Horizontal stripes, one per CPU
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for startY := 0; startY < height; startY += rowsPerWorker {
		endY := min(startY+rowsPerWorker, height)
		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				for x := 0; x < width; x++ {
					r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
					mat.SetUCharAt(y, x*3+0, uint8(b>>8))
					mat.SetUCharAt(y, x*3+1, uint8(g>>8))
					mat.SetUCharAt(y, x*3+2, uint8(r>>8))
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return mat
}

// ExtractImage converts img and runs e on it.
func ExtractImage(e Extractor, img image.Image) (*keypoint.Set, error) {
	m := ToMat(img)
	defer m.Close()
	return e.Extract(m)
}
