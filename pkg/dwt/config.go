package dwt

import (
	"fmt"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// Config is fixed for the lifetime of a pipeline.
type Config struct {
	Lossy      bool     // 9/7 float kernels instead of 5/3 integer kernels
	OnlyDWTOut bool     // lossy only: emit raw coefficients, skip quantization
	TileX      int      // work window width compiled into the kernels
	TileY      int      // work window height compiled into the kernels
	StepMode   StepMode // how quantization steps are derived
}

// DefaultConfig returns the 128x8 window the kernels are tuned for.
func DefaultConfig() Config {
	return Config{
		TileX:    128,
		TileY:    8,
		StepMode: StepDerived,
	}
}

// Validate reports tile sizes the dispatch geometry cannot use.
func (c Config) Validate() error {
	if c.TileX <= 0 || c.TileY <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrTileSize, c.TileX, c.TileY)
	}
	return nil
}

// Quantize reports whether forward dispatches carry quantization scalars.
func (c Config) Quantize() bool {
	return c.Lossy && !c.OnlyDWTOut
}

// BuildOptions are handed to the device when kernels are compiled.
func (c Config) BuildOptions() string {
	return compute.TileOptions(c.TileX, c.TileY)
}

// Format is the device image format of the pyramid for channels components.
func (c Config) Format(channels int) compute.Format {
	f := compute.Format{Channels: deviceChannels(channels), Type: compute.Int16}
	if c.Lossy {
		f.Type = compute.Float32
	}
	return f
}

// OutputFormat is the format of the combined transform output.
func (c Config) OutputFormat(channels int) compute.Format {
	f := compute.Format{Channels: deviceChannels(channels), Type: compute.Int16}
	if c.Lossy && c.OnlyDWTOut {
		f.Type = compute.Float32
	}
	return f
}

// deviceChannels maps component counts onto R or RGBA images.
func deviceChannels(components int) int {
	if components > 1 {
		return 4
	}
	return 1
}
