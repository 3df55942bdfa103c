// Package post dispatches the stages that consume a finished forward
// transform: splitting the interleaved output into channel planes and
// per code-block bit-plane coding.
package post

import (
	"fmt"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
)

// ErrCodeBlock reports a code-block size the coder cannot dispatch.
var ErrCodeBlock = fmt.Errorf("%w: code-block width must be positive and height a positive multiple of 4", dwt.ErrConfig)

// Source is the transform output a post stage reads.
type Source interface {
	Width() int
	Height() int
	Output() compute.Buffer
	OutputChannels() []compute.Buffer
}

// CodeBlock is a rectangle of the output coded independently.
type CodeBlock struct {
	X, Y          int
	Width, Height int
}

// Partition splits a width x height plane into code-blocks of cbW x cbH in
// raster order. Blocks on the right and bottom edges are clipped.
func Partition(width, height, cbW, cbH int) []CodeBlock {
	if width <= 0 || height <= 0 || cbW <= 0 || cbH <= 0 {
		return nil
	}
	var blocks []CodeBlock
	for y := 0; y < height; y += cbH {
		for x := 0; x < width; x += cbW {
			blocks = append(blocks, CodeBlock{X: x, Y: y, Width: min(cbW, width-x), Height: min(cbH, height-y)})
		}
	}
	return blocks
}

func roundUp(n, m int) int {
	return compute.DivRoundUp(n, m) * m
}
