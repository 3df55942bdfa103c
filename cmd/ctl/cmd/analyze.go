package cmd

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/jpfielding/dwtgpu.go/pkg/codec"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/spf13/cobra"
)

// NewInspectCmd creates the inspect cobra command
func NewInspectCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Analyze a coefficient file",
		Long:  "Prints the header of a .dwtz file and per band statistics of every level and component.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath, _ := cmd.Flags().GetString("file")
			dumpBand, _ := cmd.Flags().GetString("dump-band")
			dumpLevel, _ := cmd.Flags().GetInt("dump-level")
			out, _ := cmd.Flags().GetString("out")

			if filePath == "" && len(args) > 0 {
				filePath = args[0]
			}
			if filePath == "" {
				return fmt.Errorf("file path is required. Use --file flag or provide as argument")
			}
			return runInspect(ctx, filePath, dumpBand, dumpLevel, out)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("file", "f", "", "coefficient file to analyze")
	pf.String("dump-band", "", "band to dump (LL, LH, HL, HH) as text")
	pf.Int("dump-level", 0, "level of the dumped band")
	pf.String("out", "", "output path for the dumped band")
	return cmd
}

// bandStats summarises one band of one component.
type bandStats struct {
	Min, Max float32
	Energy   float64
	Zeros    int
	Count    int
}

func statsOf(v []float32) bandStats {
	s := bandStats{Count: len(v)}
	if len(v) == 0 {
		return s
	}
	s.Min, s.Max = v[0], v[0]
	for _, x := range v {
		s.Min = min(s.Min, x)
		s.Max = max(s.Max, x)
		s.Energy += float64(x) * float64(x)
		if x == 0 {
			s.Zeros++
		}
	}
	s.Energy = math.Sqrt(s.Energy / float64(len(v)))
	return s
}

func parseBand(name string) (dwt.Band, error) {
	for _, b := range dwt.Bands {
		if b.String() == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", dwt.ErrOrientation, name)
}

// runInspect reads the container and prints what it holds
func runInspect(ctx context.Context, filePath, dumpBand string, dumpLevel int, outPath string) error {
	in, err := openInput(ctx, filePath, false)
	if err != nil {
		return err
	}
	defer in.Close()
	c, err := codec.ReadCoefficients(in)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	fmt.Println("=== Header ===")
	fmt.Printf("Size: %dx%d\n", c.Width, c.Height)
	fmt.Printf("Components: %d\n", len(c.Planes))
	fmt.Printf("Levels: %d\n", c.Levels)
	fmt.Printf("Precision: %d\n", c.Precision)
	fmt.Printf("Lossy: %v Quantized: %v StepMode: %s\n", c.Lossy, c.Quantized, c.StepMode)
	fmt.Printf("ColorTransform: %v\n", c.ColorTransform)

	if dumpBand != "" {
		band, err := parseBand(dumpBand)
		if err != nil {
			return err
		}
		if dumpLevel < 0 || dumpLevel >= c.Levels {
			return fmt.Errorf("level %d out of bounds (0-%d)", dumpLevel, c.Levels-1)
		}
		if outPath == "" {
			outPath = fmt.Sprintf("band_%s_%d.txt", band, dumpLevel)
		}
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		b := dwt.BandBounds(c.Width, c.Height, dumpLevel, band)
		for comp, p := range c.Planes {
			fmt.Fprintf(f, "# component %d %s level %d %dx%d\n", comp, band, dumpLevel, b.Width(), b.Height())
			v := dwt.ExtractBand(p, c.Width, 1, 0, b)
			for y := 0; y < b.Height(); y++ {
				for x := 0; x < b.Width(); x++ {
					fmt.Fprintf(f, "%g ", v[y*b.Width()+x])
				}
				fmt.Fprintln(f)
			}
		}
		fmt.Printf("Dumping %s level %d to %s\n", band, dumpLevel, outPath)
		return f.Close()
	}

	for comp, p := range c.Planes {
		fmt.Printf("\n--- Component %d ---\n", comp)
		for level := 0; level < c.Levels; level++ {
			bands := []dwt.Band{dwt.BandHL, dwt.BandLH, dwt.BandHH}
			if level == c.Levels-1 {
				bands = append(bands, dwt.BandLL)
			}
			for _, band := range bands {
				b := dwt.BandBounds(c.Width, c.Height, level, band)
				s := statsOf(dwt.ExtractBand(p, c.Width, 1, 0, b))
				fmt.Printf("L%d %s %4dx%-4d min=%g max=%g rms=%.3f zeros=%d/%d\n",
					level, band, b.Width(), b.Height(), s.Min, s.Max, s.Energy, s.Zeros, s.Count)
			}
		}
	}
	return nil
}
