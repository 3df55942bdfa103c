package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/codec"
	"github.com/jpfielding/dwtgpu.go/pkg/compute/soft"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/spf13/cobra"
)

// NewEncodeCmd transforms an image and stores its coefficients
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "forward transform an image into a coefficient file",
		Long:  "Reads a PNG, JPEG, GIF or JPEG 2000 image, runs the forward transform and writes the coefficients as a .dwtz file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")
			insecure, _ := cmd.Flags().GetBool("insecure")
			precision, _ := cmd.Flags().GetInt("precision")
			if inPath == "" && len(args) > 0 {
				inPath = args[0]
			}
			opts, err := encodeOptions(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(ctx, inPath, insecure)
			if err != nil {
				return err
			}
			defer in.Close()
			std, err := readImage(in, inPath)
			if err != nil {
				return err
			}
			img, err := codec.FromImage(std)
			if err != nil {
				return err
			}
			if precision > 0 && precision < img.Precision {
				if err := img.ReducePrecision(precision); err != nil {
					return err
				}
			}

			enc, err := codec.NewEncoder(soft.New(), opts)
			if err != nil {
				return err
			}
			defer enc.Close()
			trace, err := enc.Encode(ctx, img)
			if err != nil {
				return err
			}
			coeffs, err := enc.Output()
			if err != nil {
				return err
			}
			if opts.BitPlaneCoding {
				blocks, err := enc.Blocks()
				if err != nil {
					return err
				}
				for c, res := range blocks {
					maxPlanes := 0
					for _, b := range res {
						maxPlanes = max(maxPlanes, b.Planes)
					}
					slog.InfoContext(ctx, "bit-planes", slog.Int("component", c), slog.Int("blocks", len(res)), slog.Int("max", maxPlanes))
				}
			}

			out, err := createOutput(outPath)
			if err != nil {
				return err
			}
			if err := codec.WriteCoefficients(out, coeffs); err != nil {
				out.Close()
				return err
			}
			slog.InfoContext(ctx, "encoded",
				slog.String("in", inPath),
				slog.String("out", outPath),
				slog.Int("width", img.Width),
				slog.Int("height", img.Height),
				slog.Int("components", len(img.Components)),
				slog.Any("levels", trace.Levels()),
				slog.String("run", enc.RunID()))
			return out.Close()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "input image path, URL or - for stdin")
	pf.StringP("out", "o", "out.dwtz", "output coefficient file or - for stdout")
	pf.Bool("insecure", false, "skip TLS verification for URL input")
	pf.Int("precision", 0, "reduce samples to this many bits before encoding")
	addTransformFlags(pf)
	return cmd
}

type flagSet interface {
	Int(name string, value int, usage string) *int
	Bool(name string, value bool, usage string) *bool
	String(name string, value string, usage string) *string
}

// addTransformFlags registers the options shared by encode and bench.
func addTransformFlags(pf flagSet) {
	def := codec.DefaultOptions()
	pf.Int("levels", def.Levels, "decomposition levels")
	pf.Bool("lossy", false, "use the 9/7 irreversible transform")
	pf.Bool("only-dwt", false, "lossy only: keep raw coefficients, no quantization")
	pf.String("step-mode", def.Config.StepMode.String(), "quantization step mode (derived|literal)")
	pf.Int("tile-x", def.Config.TileX, "kernel work window width")
	pf.Int("tile-y", def.Config.TileY, "kernel work window height")
	pf.Bool("rct", def.ColorTransform, "reversible color transform for lossless color input")
	pf.Bool("bpc", false, "run planarization and bit-plane coding")
	pf.Int("cb", def.CodeBlockW, "code-block size")
	pf.Bool("async", false, "upload through the transfer queue")
}

func encodeOptions(cmd *cobra.Command) (codec.Options, error) {
	f := cmd.Flags()
	opts := codec.DefaultOptions()
	opts.Levels, _ = f.GetInt("levels")
	opts.Config.Lossy, _ = f.GetBool("lossy")
	opts.Config.OnlyDWTOut, _ = f.GetBool("only-dwt")
	opts.Config.TileX, _ = f.GetInt("tile-x")
	opts.Config.TileY, _ = f.GetInt("tile-y")
	opts.ColorTransform, _ = f.GetBool("rct")
	opts.BitPlaneCoding, _ = f.GetBool("bpc")
	cb, _ := f.GetInt("cb")
	opts.CodeBlockW, opts.CodeBlockH = cb, cb
	opts.Async, _ = f.GetBool("async")
	mode, _ := f.GetString("step-mode")
	var err error
	if opts.Config.StepMode, err = dwt.ParseStepMode(mode); err != nil {
		return opts, err
	}
	if opts.Config.OnlyDWTOut && !opts.Config.Lossy {
		return opts, fmt.Errorf("--only-dwt requires --lossy")
	}
	return opts, opts.Validate()
}
