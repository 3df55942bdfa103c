package compute

import (
	"errors"
	"fmt"
)

var (
	ErrBadDims      = errors.New("work dimensions must be 1, 2 or 3")
	ErrBadLocalSize = errors.New("local work size must be positive")
	ErrNotDivisible = errors.New("global work size is not a multiple of the local work size")
)

// NDRange is one unit of accelerator work: an index space of Global items,
// shifted by Offset, split into work groups of Local items.
// Unused trailing dimensions hold 0 offset and extent 1.
type NDRange struct {
	Dims   int
	Offset [3]int
	Global [3]int
	Local  [3]int
}

// NewNDRange2D builds a two dimensional range.
func NewNDRange2D(offset, global, local [2]int) NDRange {
	return NDRange{
		Dims:   2,
		Offset: [3]int{offset[0], offset[1], 0},
		Global: [3]int{global[0], global[1], 1},
		Local:  [3]int{local[0], local[1], 1},
	}
}

// Validate checks the range the way an OpenCL runtime would reject it.
func (nd NDRange) Validate() error {
	if nd.Dims < 1 || nd.Dims > 3 {
		return fmt.Errorf("%w: %d", ErrBadDims, nd.Dims)
	}
	for i := 0; i < nd.Dims; i++ {
		if nd.Local[i] <= 0 {
			return fmt.Errorf("%w: dim %d = %d", ErrBadLocalSize, i, nd.Local[i])
		}
		if nd.Global[i]%nd.Local[i] != 0 {
			return fmt.Errorf("%w: dim %d global %d local %d", ErrNotDivisible, i, nd.Global[i], nd.Local[i])
		}
	}
	return nil
}

// Groups returns the number of work groups along each dimension.
func (nd NDRange) Groups() [3]int {
	g := [3]int{1, 1, 1}
	for i := 0; i < nd.Dims; i++ {
		if nd.Local[i] > 0 {
			g[i] = nd.Global[i] / nd.Local[i]
		}
	}
	return g
}

// End returns the exclusive upper bound of the index space per dimension.
func (nd NDRange) End() [3]int {
	var e [3]int
	for i := range e {
		e[i] = nd.Offset[i] + nd.Global[i]
	}
	return e
}

// String formats the range as offset/global/local triples
func (nd NDRange) String() string {
	return fmt.Sprintf("dims=%d offset=%v global=%v local=%v", nd.Dims, nd.Offset[:nd.Dims], nd.Global[:nd.Dims], nd.Local[:nd.Dims])
}

// DivRoundUp returns ceil(n/d) for positive d.
func DivRoundUp(n, d int) int {
	if d <= 0 {
		return 0
	}
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}
