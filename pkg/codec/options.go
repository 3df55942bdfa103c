package codec

import (
	"fmt"

	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
)

// MaxPrecision keeps lossless coefficients inside 16-bit device images.
const MaxPrecision = 12

// Options configures an Encoder.
type Options struct {
	Config         dwt.Config
	Levels         int  // decomposition levels (default: 5)
	ColorTransform bool // reversible color transform on the lossless path
	BitPlaneCoding bool // run planarization and bit-plane coding after the transform
	CodeBlockW     int  // code-block width (default: 64)
	CodeBlockH     int  // code-block height, a multiple of 4 (default: 64)
	Async          bool // upload through a transfer queue
}

// DefaultOptions returns lossless options with five levels.
func DefaultOptions() Options {
	return Options{
		Config:         dwt.DefaultConfig(),
		Levels:         5,
		ColorTransform: true,
		CodeBlockW:     64,
		CodeBlockH:     64,
	}
}

// Validate reports option combinations an Encoder cannot run.
func (o Options) Validate() error {
	if err := o.Config.Validate(); err != nil {
		return err
	}
	if o.Levels <= 0 {
		return fmt.Errorf("%w: %d", dwt.ErrLevel, o.Levels)
	}
	if o.BitPlaneCoding && (o.CodeBlockW <= 0 || o.CodeBlockH <= 0 || o.CodeBlockH%4 != 0) {
		return fmt.Errorf("%w: code-block %dx%d", dwt.ErrConfig, o.CodeBlockW, o.CodeBlockH)
	}
	return nil
}
