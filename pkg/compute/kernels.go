package compute

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kernel catalog. Pipelines and backends agree on program names, entry
// points and argument positions through these constants only.
const (
	ProgramForward53 = "dwt53.cl"
	ProgramForward97 = "dwt97.cl"
	ProgramReverse53 = "dwt53rev.cl"
	ProgramReverse97 = "dwt97rev.cl"
	ProgramBPC       = "bpc.cl"
	ProgramPlanar    = "planar.cl"

	EntryRun             = "run"
	EntryRunQuantization = "runWithQuantization"
)

// Forward transform arguments.
const (
	ArgFwdIn = iota
	ArgFwdOut
	ArgFwdCombined
	ArgFwdWidth
	ArgFwdHeight
	ArgFwdSteps
	ArgFwdLevel
	ArgFwdLevels
	ArgFwdQuantLL
	ArgFwdQuantLH
	ArgFwdQuantHH
)

// Reverse transform arguments.
const (
	ArgRevCoeffs = iota
	ArgRevLL
	ArgRevOut
	ArgRevWidth
	ArgRevHeight
	ArgRevSteps
	ArgRevLevel
)

// Planarization arguments; channel outputs follow from ArgPlanarChannel0.
const (
	ArgPlanarCombined = iota
	ArgPlanarWidth
	ArgPlanarHeight
	ArgPlanarChannel0
)

// Bit-plane coding arguments.
const (
	ArgBPCChannel = iota
	ArgBPCBlocks
)

// ArgCount returns how many arguments program/entry takes. Planarization
// accepts up to four channel outputs.
func ArgCount(program, entry string) (int, error) {
	switch program {
	case ProgramForward53, ProgramForward97:
		if entry == EntryRunQuantization {
			return ArgFwdQuantHH + 1, nil
		}
		return ArgFwdLevels + 1, nil
	case ProgramReverse53, ProgramReverse97:
		return ArgRevLevel + 1, nil
	case ProgramPlanar:
		return ArgPlanarChannel0 + 4, nil
	case ProgramBPC:
		return ArgBPCBlocks + 1, nil
	}
	return 0, fmt.Errorf("%w: %s:%s", ErrUnknownKernel, program, entry)
}

// TileOptions renders the build options carrying the work window size.
func TileOptions(tileX, tileY int) string {
	return fmt.Sprintf("-I . -D WIN_SIZE_X=%d -D WIN_SIZE_Y=%d", tileX, tileY)
}

var tileOptRe = regexp.MustCompile(`-D\s*WIN_SIZE_([XY])=(\d+)`)

// ParseTileOptions extracts the window size from build options. Missing
// values are returned as 0.
func ParseTileOptions(options string) (tileX, tileY int) {
	for _, m := range tileOptRe.FindAllStringSubmatch(options, -1) {
		v, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if m[1] == "X" {
			tileX = v
		} else {
			tileY = v
		}
	}
	return tileX, tileY
}
