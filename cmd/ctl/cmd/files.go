package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jpfielding/dwtgpu.go/pkg/codec"
	"github.com/mrjoshuak/go-jpeg2000"
)

// openInput opens a local path, stdin ("-") or an http(s) URL.
func openInput(ctx context.Context, uri string, insecure bool) (io.ReadCloser, error) {
	uri = strings.TrimPrefix(uri, "file://")
	switch {
	case uri == "":
		return nil, fmt.Errorf("no input given")
	case uri == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(uri, "http"):
		cl := &http.Client{}
		if insecure {
			cl.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to download: %s", resp.Status)
		}
		return resp.Body, nil
	}
	f, err := os.Open(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// createOutput creates path, or returns stdout for "-".
func createOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// readImage decodes PNG, JPEG, GIF or JPEG 2000 input.
func readImage(r io.Reader, name string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".j2k", ".j2c", ".jp2":
		img, err := jpeg2000.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("jpeg2000 decode failed: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	return img, nil
}

// writeImage encodes img by the extension of name: .j2k/.jp2 are written
// losslessly with the given number of decomposition levels, anything else
// as PNG.
func writeImage(w io.Writer, name string, img *codec.Image, levels int) error {
	std, err := img.ToImage()
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".j2k", ".j2c", ".jp2":
		opts := &jpeg2000.Options{
			Format:         jpeg2000.FormatJ2K,
			Lossless:       true,
			NumResolutions: levels + 1,
			NumLayers:      1,
			CodeBlockSize:  image.Point{6, 6},
		}
		if ext == ".jp2" {
			opts.Format = jpeg2000.FormatJP2
		}
		if err := jpeg2000.Encode(w, std, opts); err != nil {
			return fmt.Errorf("jpeg2000 encode failed: %w", err)
		}
		return nil
	}
	return png.Encode(w, std)
}
