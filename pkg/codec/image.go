package codec

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

var (
	ErrInvalidImage     = errors.New("invalid image")
	ErrUnsupportedImage = errors.New("unsupported image type")
)

// Image is a set of equally sized component planes, row-major, unsigned
// samples of Precision bits.
type Image struct {
	Width      int
	Height     int
	Precision  int
	Components [][]int32
}

// Validate checks the planes against the geometry.
func (im *Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidImage, im.Width, im.Height)
	}
	if im.Precision <= 0 || im.Precision > 16 {
		return fmt.Errorf("%w: precision %d", ErrInvalidImage, im.Precision)
	}
	switch len(im.Components) {
	case 1, 3, 4:
	default:
		return fmt.Errorf("%w: %d components", ErrInvalidImage, len(im.Components))
	}
	for i, c := range im.Components {
		if len(c) != im.Width*im.Height {
			return fmt.Errorf("%w: component %d has %d samples", ErrInvalidImage, i, len(c))
		}
	}
	return nil
}

// FromImage extracts component planes. Gray images give one component,
// opaque color images three and anything with alpha four.
func FromImage(img image.Image) (*Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidImage, w, h)
	}
	out := &Image{Width: w, Height: h, Precision: 8}
	plane := func() []int32 { return make([]int32, w*h) }

	switch src := img.(type) {
	case *image.Gray:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = int32(src.GrayAt(x+b.Min.X, y+b.Min.Y).Y)
			}
		}
		out.Components = [][]int32{g}
	case *image.Gray16:
		out.Precision = 16
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = int32(src.Gray16At(x+b.Min.X, y+b.Min.Y).Y)
			}
		}
		out.Components = [][]int32{g}
	default:
		r, g, bl, a := plane(), plane(), plane(), plane()
		opaque := true
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.NRGBA)
				i := y*w + x
				r[i], g[i], bl[i], a[i] = int32(c.R), int32(c.G), int32(c.B), int32(c.A)
				if c.A != 0xff {
					opaque = false
				}
			}
		}
		out.Components = [][]int32{r, g, bl}
		if !opaque {
			out.Components = append(out.Components, a)
		}
	}
	return out, nil
}

// ReducePrecision drops low order bits so samples fit precision bits.
func (im *Image) ReducePrecision(precision int) error {
	if precision <= 0 || precision > im.Precision {
		return fmt.Errorf("%w: cannot reduce %d bits to %d", ErrInvalidImage, im.Precision, precision)
	}
	shift := im.Precision - precision
	for _, c := range im.Components {
		for i := range c {
			c[i] >>= shift
		}
	}
	im.Precision = precision
	return nil
}

// ToImage converts the planes back into a standard library image. Samples
// are clamped to the precision range and scaled to 8 or 16 bits.
func (im *Image) ToImage() (image.Image, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	w, h := im.Width, im.Height
	rect := image.Rect(0, 0, w, h)
	maxVal := int32(1)<<im.Precision - 1

	switch len(im.Components) {
	case 1:
		if im.Precision > 8 {
			dst := image.NewGray16(rect)
			for i, v := range im.Components[0] {
				dst.SetGray16(i%w, i/w, color.Gray16{Y: uint16(scale(v, maxVal, 0xffff))})
			}
			return dst, nil
		}
		dst := image.NewGray(rect)
		for i, v := range im.Components[0] {
			dst.Pix[i] = uint8(scale(v, maxVal, 0xff))
		}
		return dst, nil
	case 3, 4:
		dst := image.NewNRGBA(rect)
		for i := 0; i < w*h; i++ {
			o := i * 4
			for c := 0; c < 3; c++ {
				dst.Pix[o+c] = uint8(scale(im.Components[c][i], maxVal, 0xff))
			}
			dst.Pix[o+3] = 0xff
			if len(im.Components) == 4 {
				dst.Pix[o+3] = uint8(scale(im.Components[3][i], maxVal, 0xff))
			}
		}
		return dst, nil
	}
	return nil, fmt.Errorf("%w: %d components", ErrUnsupportedImage, len(im.Components))
}

// scale clamps v to [0, maxVal] and maps it onto [0, full].
func scale(v, maxVal, full int32) int32 {
	v = clamp(v, maxVal)
	if maxVal == full {
		return v
	}
	return int32((int64(v)*int64(full) + int64(maxVal)/2) / int64(maxVal))
}

func clamp(v, maxVal int32) int32 {
	switch {
	case v < 0:
		return 0
	case v > maxVal:
		return maxVal
	}
	return v
}
