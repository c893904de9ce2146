package thumbnail

// Bucket is one of the fixed output sizes a thumbnail is scaled to
type Bucket struct {
	Name   string
	Width  int
	Height int
}

var (
	Landscape = Bucket{Name: "landscape", Width: 640, Height: 360} // 16:9
	Wide      = Bucket{Name: "wide", Width: 640, Height: 480}      // 4:3
	Square    = Bucket{Name: "square", Width: 480, Height: 480}    // 1:1
	Tall      = Bucket{Name: "tall", Width: 480, Height: 640}      // 3:4
	Portrait  = Bucket{Name: "portrait", Width: 360, Height: 640}  // 9:16
)

// DefaultWidth is used when the source dimensions are unknown; the height
// then follows the source aspect ratio.
const DefaultWidth = 640

// BucketFor maps a source size to an output bucket. Ratios are compared by
// integer cross-multiplication, and a ratio exactly on a threshold belongs
// to the wider bucket (1920x1080 is landscape, 1080x1080 is square).
// Every width with height > 0 selects exactly one bucket.
func BucketFor(width, height int) Bucket {
	w, h := int64(width), int64(height)

	switch {
	case w*9 >= h*16:
		return Landscape
	case w*3 >= h*4:
		return Wide
	case w*4 >= h*3:
		return Square
	case w*16 >= h*9:
		return Tall
	default:
		return Portrait
	}
}
