package dwt

// Band identifies a sub-band by its orientation code.
type Band int

const (
	BandLL Band = 0 // low-pass both directions
	BandLH Band = 1 // vertical detail
	BandHL Band = 2 // horizontal detail
	BandHH Band = 3 // diagonal detail
)

// Bands lists every orientation in code order.
var Bands = [...]Band{BandLL, BandLH, BandHL, BandHH}

// String returns the band name
func (b Band) String() string {
	switch b {
	case BandLL:
		return "LL"
	case BandLH:
		return "LH"
	case BandHL:
		return "HL"
	case BandHH:
		return "HH"
	default:
		return "Unknown"
	}
}

// Gain is the log2 dynamic range growth of the band: 0, 1, 1, 2.
func (b Band) Gain() int {
	switch b {
	case BandLL:
		return 0
	case BandLH, BandHL:
		return 1
	default:
		return 2
	}
}

// Bounds is a rectangle inside the combined output, X1/Y1 exclusive.
type Bounds struct {
	X0, Y0 int
	X1, Y1 int
}

// Width of the rectangle
func (b Bounds) Width() int { return b.X1 - b.X0 }

// Height of the rectangle
func (b Bounds) Height() int { return b.Y1 - b.Y0 }

// BandBounds locates band of the given level (0 = finest) inside a
// width x height Mallat layout. The LL band is only meaningful for the
// last level; for earlier levels it is overwritten by coarser bands.
func BandBounds(width, height, level int, band Band) Bounds {
	if level < 0 {
		return Bounds{}
	}
	w, h := width, height
	for i := 0; i < level; i++ {
		w, h = (w+1)/2, (h+1)/2
	}
	halfW, halfH := (w+1)/2, (h+1)/2
	switch band {
	case BandLL:
		return Bounds{0, 0, halfW, halfH}
	case BandHL:
		return Bounds{halfW, 0, w, halfH}
	case BandLH:
		return Bounds{0, halfH, halfW, h}
	case BandHH:
		return Bounds{halfW, halfH, w, h}
	}
	return Bounds{}
}

// ExtractBand copies channel ch of a band out of an interleaved plane.
func ExtractBand(data []float32, width, channels, ch int, b Bounds) []float32 {
	out := make([]float32, b.Width()*b.Height())
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			out[y*b.Width()+x] = data[((b.Y0+y)*width+b.X0+x)*channels+ch]
		}
	}
	return out
}
