package resource

// Reversible color transform (ITU-T T.800 Annex G), applied to the first
// three components before interleaving on the lossless path.

// ForwardRCT maps one RGB sample to Y, Cb, Cr.
func ForwardRCT(r, g, b int32) (y, cb, cr int32) {
	y = (r + 2*g + b) >> 2 // floor((R + 2G + B) / 4)
	cb = b - g
	cr = r - g
	return y, cb, cr
}

// InverseRCT maps one Y, Cb, Cr sample back to RGB.
func InverseRCT(y, cb, cr int32) (r, g, b int32) {
	g = y - ((cb + cr) >> 2)
	r = cr + g
	b = cb + g
	return r, g, b
}

// InverseRCTPlanes undoes the transform in place on reconstructed planes.
// Samples are rounded to integers first.
func InverseRCTPlanes(planes [][]float32) {
	if len(planes) < 3 {
		return
	}
	y, cb, cr := planes[0], planes[1], planes[2]
	for i := range y {
		r, g, b := InverseRCT(round32(y[i]), round32(cb[i]), round32(cr[i]))
		y[i], cb[i], cr[i] = float32(r), float32(g), float32(b)
	}
}

func round32(v float32) int32 {
	if v < 0 {
		return int32(v - 0.5)
	}
	return int32(v + 0.5)
}
