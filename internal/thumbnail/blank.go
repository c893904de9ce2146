package thumbnail

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// meanLuminance returns the average Rec. 601 luma of the image at path, on
// a 0-255 scale. Large images are sampled on a grid.
func meanLuminance(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("frame has no pixels")
	}

	step := 1
	if longest := max(bounds.Dx(), bounds.Dy()); longest > 256 {
		step = longest / 256
	}

	var sum float64
	var samples int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, _ := img.At(x, y).RGBA()
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257
			samples++
		}
	}

	return sum / float64(samples), nil
}
