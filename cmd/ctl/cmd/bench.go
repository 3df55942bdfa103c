package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpfielding/dwtgpu.go/pkg/codec"
	"github.com/jpfielding/dwtgpu.go/pkg/compute/soft"
	"github.com/spf13/cobra"
)

// NewBenchCmd encodes a synthetic image repeatedly
func NewBenchCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "repeated encodes of a synthetic image",
		Long:  "Encodes a synthetic gradient repeatedly on the software device and reports timing and buffer reuse.",
		RunE: func(cmd *cobra.Command, args []string) error {
			width, _ := cmd.Flags().GetInt("width")
			height, _ := cmd.Flags().GetInt("height")
			comps, _ := cmd.Flags().GetInt("components")
			iterations, _ := cmd.Flags().GetInt("iterations")
			workers, _ := cmd.Flags().GetInt("workers")
			opts, err := encodeOptions(cmd)
			if err != nil {
				return err
			}
			img := syntheticImage(width, height, comps)
			if err := img.Validate(); err != nil {
				return err
			}

			dev := soft.New(soft.WithWorkers(workers))
			enc, err := codec.NewEncoder(dev, opts)
			if err != nil {
				return err
			}
			defer enc.Close()

			start := time.Now()
			for i := 0; i < iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := enc.Encode(ctx, img); err != nil {
					return err
				}
				if err := enc.Finish(); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)
			st := enc.Resources().Stats()
			ds := dev.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device: %s\n", dev.Name())
			fmt.Fprintf(out, "%d x %dx%dx%d in %s (%s/encode)\n", iterations, width, height, comps, elapsed, elapsed/time.Duration(max(iterations, 1)))
			fmt.Fprintf(out, "buffers: allocs=%d reallocs=%d reuses=%d uploads=%d\n", st.Allocs, st.Reallocs, st.Reuses, st.Uploads)
			fmt.Fprintf(out, "device: dispatches=%d writes=%d async=%d finishes=%d\n", ds.Dispatches, ds.Writes, ds.AsyncWrites, ds.Finishes)
			slog.DebugContext(ctx, "bench done", slog.String("run", enc.RunID()), slog.Duration("elapsed", elapsed))
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.Int("width", 1024, "image width")
	pf.Int("height", 1024, "image height")
	pf.Int("components", 1, "components (1, 3 or 4)")
	pf.Int("iterations", 10, "number of encodes")
	pf.Int("workers", 0, "lifting goroutines (0 = GOMAXPROCS)")
	addTransformFlags(pf)
	return cmd
}

func syntheticImage(w, h, comps int) *codec.Image {
	img := &codec.Image{Width: w, Height: h, Precision: 8}
	for c := 0; c < comps; c++ {
		p := make([]int32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p[y*w+x] = int32((x + 2*y + 31*c) & 0xff)
			}
		}
		img.Components = append(img.Components, p)
	}
	return img
}
