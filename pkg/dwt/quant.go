package dwt

import (
	"fmt"
	"math"
)

// StepMode selects how the quantization step is derived from the exponent
// and mantissa.
type StepMode int

const (
	// StepDerived computes mantissa and exponent from the band norm.
	StepDerived StepMode = iota
	// StepLiteral pins mantissa 8.0 and exponent 8.5, reproducing the
	// fixed constants earlier encoders shipped with.
	StepLiteral
)

func (m StepMode) String() string {
	switch m {
	case StepDerived:
		return "derived"
	case StepLiteral:
		return "literal"
	}
	return fmt.Sprintf("StepMode(%d)", int(m))
}

// ParseStepMode is the inverse of String.
func ParseStepMode(s string) (StepMode, error) {
	switch s {
	case "derived", "":
		return StepDerived, nil
	case "literal":
		return StepLiteral, nil
	}
	return 0, fmt.Errorf("%w: unknown step mode %q", ErrConfig, s)
}

// norms holds the synthesis filter L2 norms per orientation and decomposition
// level for the 9/7 filter bank.
var norms = [4][6]float64{
	{1.000, 1.965, 4.177, 8.403, 16.90, 33.84},
	{2.022, 3.989, 8.355, 17.04, 34.27, 68.63},
	{2.022, 3.989, 8.355, 17.04, 34.27, 68.63},
	{2.080, 3.865, 8.307, 17.18, 34.71, 69.59},
}

// Norm returns the filter norm of band at level, clamped to the deepest
// tabulated entry.
func Norm(level int, band Band) float64 {
	level = max(0, min(level, len(norms[0])-1))
	return norms[band][level]
}

// floorLog2 is the position of the highest set bit, -1 for zero.
func floorLog2(v int) int {
	l := -1
	for v > 0 {
		v >>= 1
		l++
	}
	return l
}

// Encoding is the exponent/mantissa pair a band step is signalled with.
type Encoding struct {
	Exponent float64
	Mantissa float64
}

// Encode derives the exponent/mantissa signalling of a band.
func Encode(level int, band Band, precision int, mode StepMode) Encoding {
	if mode == StepLiteral {
		return Encoding{Exponent: 8.5, Mantissa: 8.0}
	}
	numbps := precision + band.Gain()
	base := int(math.Floor(math.Exp2(float64(band.Gain())) / Norm(level, band) * 8192))
	l := floorLog2(base)
	p := l - 13
	n := 11 - l
	var mant int
	if n < 0 {
		mant = base >> -n
	} else {
		mant = base << n
	}
	mant &= 0x7ff
	return Encoding{Exponent: float64(numbps - p), Mantissa: float64(mant)}
}

// Step is the quantization step of a band:
// (1 + mantissa/2048) * 2^(numbps - exponent).
func Step(levels, level int, band Band, precision int, mode StepMode) (float64, error) {
	if band < BandLL || band > BandHH {
		return 0, fmt.Errorf("%w: %d", ErrOrientation, band)
	}
	if levels <= 0 || level < 0 || level >= levels {
		return 0, fmt.Errorf("%w: %d of %d", ErrLevel, level, levels)
	}
	e := Encode(level, band, precision, mode)
	numbps := float64(precision + band.Gain())
	return (1 + e.Mantissa/2048) * math.Exp2(numbps-e.Exponent), nil
}

// Quantizers are the reciprocal steps bound to a quantizing forward pass.
type Quantizers struct {
	LL, LH, HH float32
}

// QuantizersFor returns the reciprocal steps for level. HL shares the LH
// value since both bands have the same gain and norm.
func QuantizersFor(levels, level, precision int, mode StepMode) (Quantizers, error) {
	var q Quantizers
	for _, b := range []struct {
		band Band
		dst  *float32
	}{{BandLL, &q.LL}, {BandLH, &q.LH}, {BandHH, &q.HH}} {
		s, err := Step(levels, level, b.band, precision, mode)
		if err != nil {
			return Quantizers{}, err
		}
		*b.dst = float32(1 / s)
	}
	return q, nil
}
