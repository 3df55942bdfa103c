package cmd

import (
	"context"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/codec"
	"github.com/jpfielding/dwtgpu.go/pkg/compute/soft"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/spf13/cobra"
)

// NewDecodeCmd reconstructs an image from a coefficient file
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "reverse transform a coefficient file into an image",
		Long:  "Reads a .dwtz coefficient file, runs the reverse transform and writes PNG, or JPEG 2000 for .j2k/.jp2 output paths.",
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")
			insecure, _ := cmd.Flags().GetBool("insecure")
			tileX, _ := cmd.Flags().GetInt("tile-x")
			tileY, _ := cmd.Flags().GetInt("tile-y")
			if inPath == "" && len(args) > 0 {
				inPath = args[0]
			}

			in, err := openInput(ctx, inPath, insecure)
			if err != nil {
				return err
			}
			defer in.Close()
			coeffs, err := codec.ReadCoefficients(in)
			if err != nil {
				return err
			}

			cfg := dwt.DefaultConfig()
			cfg.TileX, cfg.TileY = tileX, tileY
			dec, err := codec.NewDecoder(soft.New(), cfg)
			if err != nil {
				return err
			}
			defer dec.Close()
			img, err := dec.Decode(ctx, coeffs)
			if err != nil {
				return err
			}

			out, err := createOutput(outPath)
			if err != nil {
				return err
			}
			if err := writeImage(out, outPath, img, coeffs.Levels); err != nil {
				out.Close()
				return err
			}
			slog.InfoContext(ctx, "decoded",
				slog.String("in", inPath),
				slog.String("out", outPath),
				slog.Int("width", img.Width),
				slog.Int("height", img.Height),
				slog.Bool("lossy", coeffs.Lossy),
				slog.String("run", dec.RunID()))
			return out.Close()
		},
	}
	def := dwt.DefaultConfig()
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "coefficient file path, URL or - for stdin")
	pf.StringP("out", "o", "out.png", "output image (.png, .j2k, .jp2) or - for stdout")
	pf.Bool("insecure", false, "skip TLS verification for URL input")
	pf.Int("tile-x", def.TileX, "kernel work window width")
	pf.Int("tile-y", def.TileY, "kernel work window height")
	return cmd
}
