package thumbnail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		width, height int
		want          Bucket
	}{
		{1920, 1080, Landscape}, // exactly 16:9
		{2560, 1080, Landscape},
		{1919, 1080, Wide},
		{1440, 1080, Wide}, // exactly 4:3
		{1439, 1080, Square},
		{1080, 1080, Square}, // exactly 1:1
		{810, 1080, Square},  // exactly 3:4
		{809, 1080, Tall},
		{1080, 1920, Tall}, // exactly 9:16
		{1079, 1920, Portrait},
		{0, 1080, Portrait},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFor(tt.width, tt.height), "%dx%d", tt.width, tt.height)
	}
}

func TestBucketFor_TotalAndDeterministic(t *testing.T) {
	known := map[Bucket]bool{Landscape: true, Wide: true, Square: true, Tall: true, Portrait: true}

	for w := 1; w <= 400; w += 7 {
		for h := 1; h <= 400; h += 11 {
			first := BucketFor(w, h)
			assert.True(t, known[first], "%dx%d selected unknown bucket %v", w, h, first)
			assert.Equal(t, first, BucketFor(w, h))
		}
	}
}

func TestBucketFor_ScaleInvariant(t *testing.T) {
	for _, size := range [][2]int{{16, 9}, {4, 3}, {1, 1}, {3, 4}, {9, 16}} {
		base := BucketFor(size[0], size[1])
		for k := 2; k <= 120; k++ {
			assert.Equal(t, base, BucketFor(size[0]*k, size[1]*k))
		}
	}
}
