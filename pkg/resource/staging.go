package resource

// Sample is an element type a component plane may carry.
type Sample interface {
	~int16 | ~int32 | ~float32
}

// Interleave packs component planes into dst the way the pyramid image
// expects them: one plane is copied straight, three or four planes are
// packed RGBA with a zero fourth lane when only three are given. When rct
// is set the first three planes pass through ForwardRCT on the way.
func Interleave[T Sample](dst []float32, planes [][]T, rct bool) {
	switch len(planes) {
	case 0:
		return
	case 1:
		for i, v := range planes[0] {
			dst[i] = float32(v)
		}
		return
	}
	n := len(planes[0])
	for i := 0; i < n; i++ {
		o := i * 4
		if rct && len(planes) >= 3 {
			y, cb, cr := ForwardRCT(int32(planes[0][i]), int32(planes[1][i]), int32(planes[2][i]))
			dst[o], dst[o+1], dst[o+2] = float32(y), float32(cb), float32(cr)
		} else {
			dst[o], dst[o+1], dst[o+2] = float32(planes[0][i]), float32(planes[1][i]), float32(planes[2][i])
		}
		dst[o+3] = 0
		if len(planes) > 3 {
			dst[o+3] = float32(planes[3][i])
		}
	}
}

// Deinterleave splits an interleaved buffer of lanes channels into the first
// n planes.
func Deinterleave(src []float32, lanes, n int) [][]float32 {
	if lanes <= 0 {
		return nil
	}
	size := len(src) / lanes
	out := make([][]float32, n)
	for c := range out {
		out[c] = make([]float32, size)
		for i := 0; i < size; i++ {
			out[c][i] = src[i*lanes+c]
		}
	}
	return out
}
