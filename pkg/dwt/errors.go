package dwt

import (
	"errors"
	"fmt"
)

// ErrConfig classifies caller mistakes: bad geometry, empty input, tile
// sizes the kernels cannot use. Test with errors.Is(err, ErrConfig).
// Device failures are reported as *compute.DeviceError instead.
var ErrConfig = errors.New("configuration error")

// Configuration errors
var (
	ErrInvalidGeometry = fmt.Errorf("%w: width, height and levels must be positive", ErrConfig)
	ErrNoComponents    = fmt.Errorf("%w: no image components", ErrConfig)
	ErrComponentSize   = fmt.Errorf("%w: component planes differ in size", ErrConfig)
	ErrChannels        = fmt.Errorf("%w: unsupported number of components", ErrConfig)
	ErrTileSize        = fmt.Errorf("%w: tile sizes must be positive", ErrConfig)
	ErrLevel           = fmt.Errorf("%w: level out of range", ErrConfig)
	ErrNotConfigured   = fmt.Errorf("%w: resources not configured", ErrConfig)
	ErrOrientation     = fmt.Errorf("%w: orientation out of range", ErrConfig)
)
