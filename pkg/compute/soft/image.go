package soft

import (
	"fmt"
	"math"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// image is a row-major, channel-interleaved host allocation.
type image struct {
	dev      *Device
	id       uint64
	width    int
	height   int
	format   compute.Format
	data     []float32
	released bool
}

func (m *image) ID() uint64             { return m.id }
func (m *image) Width() int             { return m.width }
func (m *image) Height() int            { return m.height }
func (m *image) Format() compute.Format { return m.format }

func (m *image) Release() error {
	d := m.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.released {
		return compute.Wrap("release", "", compute.ErrReleased)
	}
	m.released = true
	delete(d.images, m.id)
	d.stats.Releases++
	d.stats.Live--
	return nil
}

func (m *image) checkRegion(r compute.Region, hostLen int) error {
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 || r.X+r.Width > m.width || r.Y+r.Height > m.height {
		return fmt.Errorf("%w: %+v in %dx%d", compute.ErrRegion, r, m.width, m.height)
	}
	if need := r.Width * r.Height * m.format.Channels; hostLen < need {
		return fmt.Errorf("%w: have %d need %d", compute.ErrShortBuffer, hostLen, need)
	}
	return nil
}

// quantize applies the storage type of the image to a value.
func (m *image) quantize(v float32) float32 {
	if m.format.Type != compute.Int16 {
		return v
	}
	r := math.Round(float64(v))
	switch {
	case r > math.MaxInt16:
		r = math.MaxInt16
	case r < math.MinInt16:
		r = math.MinInt16
	}
	return float32(r)
}

func (m *image) store(r compute.Region, src []float32) {
	ch := m.format.Channels
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width*ch; x++ {
			m.data[((r.Y+y)*m.width+r.X)*ch+x] = m.quantize(src[y*r.Width*ch+x])
		}
	}
}

func (m *image) load(r compute.Region, dst []float32) {
	ch := m.format.Channels
	for y := 0; y < r.Height; y++ {
		row := ((r.Y+y)*m.width + r.X) * ch
		copy(dst[y*r.Width*ch:(y+1)*r.Width*ch], m.data[row:row+r.Width*ch])
	}
}

// plane extracts channel c of the w x h top-left region as float64.
func (m *image) plane(c, w, h int) []float64 {
	ch := m.format.Channels
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float64(m.data[(y*m.width+x)*ch+c])
		}
	}
	return out
}

// setPlane writes a w x h plane into channel c of the top-left region.
func (m *image) setPlane(c, w, h int, p []float64) {
	ch := m.format.Channels
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.data[(y*m.width+x)*ch+c] = m.quantize(float32(p[y*w+x]))
		}
	}
}
