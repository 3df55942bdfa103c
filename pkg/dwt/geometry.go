package dwt

import (
	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// rowsPerItem is how many lines one work item walks per tile column.
const rowsPerItem = 15

// Dims is a width/height pair.
type Dims struct {
	Width, Height int
}

// Half returns the dimensions of the next coarser level, rounded up.
func (d Dims) Half() Dims {
	return Dims{compute.DivRoundUp(d.Width, 2), compute.DivRoundUp(d.Height, 2)}
}

// LevelDims lists the pyramid dimensions: index 0 is the full image and
// each following entry halves its predecessor, rounding up.
func LevelDims(width, height, levels int) []Dims {
	if levels <= 0 || width <= 0 || height <= 0 {
		return nil
	}
	dims := make([]Dims, levels)
	dims[0] = Dims{width, height}
	for i := 1; i < levels; i++ {
		dims[i] = dims[i-1].Half()
	}
	return dims
}

// Overlap is the filter support needed outside a tile: 4 samples for the
// 9/7 kernel and 2 for the 5/3 kernel.
func Overlap(lossy bool) int {
	if lossy {
		return 4
	}
	return 2
}

// ForwardRange computes the horizontal-pass geometry of one forward level.
// Every work item handles tileX*steps columns; the vertical extent gets one
// extra tile and starts Overlap samples above the image so that the first
// and last tiles see their boundary context.
func ForwardRange(lossy bool, width, height, tileX, tileY int) (steps int, nd compute.NDRange) {
	steps = compute.DivRoundUp(width, rowsPerItem*tileX)
	nd = compute.NewNDRange2D(
		[2]int{0, -Overlap(lossy)},
		[2]int{compute.DivRoundUp(width, tileX*steps), (compute.DivRoundUp(height, tileY) + 1) * tileY},
		[2]int{1, tileY},
	)
	return steps, nd
}

// ReverseRange is ForwardRange transposed: tiles run down columns, so the
// overlap and the extra tile move to the horizontal axis.
func ReverseRange(lossy bool, width, height, tileX, tileY int) (steps int, nd compute.NDRange) {
	steps = compute.DivRoundUp(height, rowsPerItem*tileY)
	nd = compute.NewNDRange2D(
		[2]int{-Overlap(lossy), 0},
		[2]int{(compute.DivRoundUp(width, tileX) + 1) * tileX, compute.DivRoundUp(height, tileY*steps)},
		[2]int{tileX, 1},
	)
	return steps, nd
}
