// Package resource owns every device buffer a transform touches: the
// resolution pyramid, the combined output, the per-channel outputs and the
// host staging memory that feeds the top of the pyramid.
//
// Buffers are keyed by geometry. Configuring with the same geometry again
// only refills the staging memory and uploads it; a new geometry releases
// everything and allocates afresh.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/jpfielding/dwtgpu.go/pkg/transfer"
	"github.com/jpfielding/dwtgpu.go/pkg/util"
)

// Options fix how a Manager lays out its buffers.
type Options struct {
	Config         dwt.Config      // selects sample formats
	ColorTransform bool            // apply the reversible color transform to 3+ components
	Transfer       *transfer.Queue // nil uploads with blocking writes
}

// Stats counts manager activity.
type Stats struct {
	Allocs     int // device buffers created
	Releases   int // device buffers released
	Reallocs   int // configures that changed geometry
	Reuses     int // configures that kept the existing buffers
	Uploads    int // staging uploads issued
	Configures int
}

// geometry is the key buffers are sized by.
type geometry struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	Levels     int `json:"levels"`
	Precision  int `json:"precision"`
	Components int `json:"components"`
}

// Manager is not safe for concurrent use; one pipeline drives it.
type Manager struct {
	dev  compute.Device
	opts Options

	geom        geometry
	id          string
	in          []compute.Buffer // pyramid, level 0 first
	out         compute.Buffer   // combined output
	outChannels []compute.Buffer // per-channel outputs for multi-component input

	staging  [2][]float32 // alternated when uploads go through the transfer queue
	inflight [2]int       // transfer ticket still reading each slot, 0 when free
	next     int

	stats Stats
}

// New returns an empty manager.
func New(dev compute.Device, opts Options) *Manager {
	return &Manager{dev: dev, opts: opts}
}

// The accessors treat a nil *Manager as unconfigured so that one stored in
// a dwt.Buffers reports ErrNotConfigured instead of panicking.

func (m *Manager) Width() int      { return m.current().Width }
func (m *Manager) Height() int     { return m.current().Height }
func (m *Manager) Levels() int     { return m.current().Levels }
func (m *Manager) Precision() int  { return m.current().Precision }
func (m *Manager) Components() int { return m.current().Components }

func (m *Manager) current() geometry {
	if m == nil {
		return geometry{}
	}
	return m.geom
}

// Channels is the number of interleaved lanes in the pyramid images.
func (m *Manager) Channels() int {
	if m.Components() == 0 {
		return 0
	}
	return m.opts.Config.Format(m.geom.Components).Channels
}

// Fingerprint identifies the current geometry; empty when unconfigured.
func (m *Manager) Fingerprint() string {
	if m == nil {
		return ""
	}
	return m.id
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return m.stats
}

// Dims returns the dimensions of pyramid level.
func (m *Manager) Dims(level int) (dwt.Dims, error) {
	if m == nil {
		return dwt.Dims{}, dwt.ErrNotConfigured
	}
	dims := dwt.LevelDims(m.geom.Width, m.geom.Height, m.geom.Levels)
	if level < 0 || level >= len(dims) {
		return dwt.Dims{}, fmt.Errorf("%w: %d of %d", dwt.ErrLevel, level, len(dims))
	}
	return dims[level], nil
}

// Input returns pyramid buffer level.
func (m *Manager) Input(level int) (compute.Buffer, error) {
	if m == nil || len(m.in) == 0 {
		return nil, dwt.ErrNotConfigured
	}
	if level < 0 || level >= len(m.in) {
		return nil, fmt.Errorf("%w: %d of %d", dwt.ErrLevel, level, len(m.in))
	}
	return m.in[level], nil
}

// Output returns the combined output buffer, nil when unconfigured.
func (m *Manager) Output() compute.Buffer {
	if m == nil {
		return nil
	}
	return m.out
}

// OutputChannel returns per-channel output i.
func (m *Manager) OutputChannel(i int) (compute.Buffer, error) {
	if m == nil {
		return nil, dwt.ErrNotConfigured
	}
	if i < 0 || i >= len(m.outChannels) {
		return nil, fmt.Errorf("%w: output channel %d of %d", dwt.ErrChannels, i, len(m.outChannels))
	}
	return m.outChannels[i], nil
}

// OutputChannels returns every per-channel output; empty for one component.
func (m *Manager) OutputChannels() []compute.Buffer {
	if m == nil {
		return nil
	}
	return m.outChannels
}

// Configure sizes the buffers for an image and uploads its samples into
// pyramid level 0. components are row-major planes of width*height samples.
func (m *Manager) Configure(ctx context.Context, components [][]int32, width, height, levels, precision int) error {
	if err := checkPlanes(components, width, height); err != nil {
		return err
	}
	return m.configure(ctx, geometry{width, height, levels, precision, len(components)}, func(dst []float32) {
		Interleave(dst, components, m.opts.ColorTransform && !m.opts.Config.Lossy)
	})
}

// ConfigureCoefficients loads Mallat ordered coefficient planes into pyramid
// level 0 for a reverse transform. No color transform is applied.
func (m *Manager) ConfigureCoefficients(ctx context.Context, planes [][]float32, width, height, levels, precision int) error {
	if err := checkPlanes(planes, width, height); err != nil {
		return err
	}
	return m.configure(ctx, geometry{width, height, levels, precision, len(planes)}, func(dst []float32) {
		Interleave(dst, planes, false)
	})
}

func checkPlanes[T Sample](planes [][]T, width, height int) error {
	if len(planes) == 0 {
		return dwt.ErrNoComponents
	}
	switch len(planes) {
	case 1, 3, 4:
	default:
		return fmt.Errorf("%w: %d", dwt.ErrChannels, len(planes))
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", dwt.ErrInvalidGeometry, width, height)
	}
	for i, p := range planes {
		if len(p) != width*height {
			return fmt.Errorf("%w: plane %d has %d samples, want %d", dwt.ErrComponentSize, i, len(p), width*height)
		}
	}
	return nil
}

func (m *Manager) configure(ctx context.Context, g geometry, fill func([]float32)) error {
	if m == nil {
		return dwt.ErrNotConfigured
	}
	if g.Levels <= 0 || g.Precision <= 0 {
		return fmt.Errorf("%w: levels %d precision %d", dwt.ErrInvalidGeometry, g.Levels, g.Precision)
	}
	m.stats.Configures++
	if g != m.geom || len(m.in) == 0 {
		// queued uploads still target the pyramid about to be released
		if err := m.Ready(ctx); err != nil {
			return err
		}
		if err := m.allocate(g); err != nil {
			return err
		}
	} else {
		m.stats.Reuses++
		slog.DebugContext(ctx, "reusing device buffers", slog.String("geometry", m.id))
	}

	slot := m.next
	// only this slot has to be free; the other one may still be uploading
	if err := m.settle(ctx, slot); err != nil {
		return err
	}
	lanes := m.Channels()
	if need := g.Width * g.Height * lanes; len(m.staging[slot]) != need {
		m.staging[slot] = make([]float32, need)
	}
	fill(m.staging[slot])
	return m.upload(ctx, slot)
}

func (m *Manager) upload(ctx context.Context, slot int) error {
	region := compute.Full(m.geom.Width, m.geom.Height)
	m.stats.Uploads++
	if q := m.opts.Transfer; q != nil {
		ticket, err := q.Submit(transfer.Request{Dst: m.in[0], Region: region, Src: m.staging[slot]})
		if err != nil {
			return compute.Wrap("write", "", err)
		}
		m.inflight[slot] = ticket
		m.next = 1 - slot
		return nil
	}
	if err := m.dev.Write(m.in[0], region, m.staging[slot], true); err != nil {
		err = compute.Wrap("write", "", err)
		slog.ErrorContext(ctx, "staging upload failed", slog.String("geometry", m.id), slog.Any("error", err))
		return err
	}
	return nil
}

// Ready waits until queued uploads have been submitted to the device queue.
func (m *Manager) Ready(ctx context.Context) error {
	if m == nil || m.opts.Transfer == nil || m.inflight == [2]int{} {
		return nil
	}
	err := m.opts.Transfer.Drain(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	m.inflight = [2]int{}
	if err != nil {
		return compute.Wrap("write", "", err)
	}
	return nil
}

// settle waits for the upload reading staging slot, if any. Uploads queued
// after it are left running.
func (m *Manager) settle(ctx context.Context, slot int) error {
	ticket := m.inflight[slot]
	if ticket == 0 || m.opts.Transfer == nil {
		return nil
	}
	err := m.opts.Transfer.Wait(ctx, ticket)
	if err != nil && ctx.Err() != nil {
		return err
	}
	m.inflight[slot] = 0
	if err != nil {
		return compute.Wrap("write", "", err)
	}
	return nil
}

// allocate replaces every buffer with ones sized for g. On failure the
// buffers created so far are released and the manager is left empty.
func (m *Manager) allocate(g geometry) error {
	if err := m.Release(); err != nil {
		return err
	}
	cfg := m.opts.Config
	var made []compute.Buffer
	alloc := func(w, h int, f compute.Format) (compute.Buffer, error) {
		b, err := m.dev.NewImage(w, h, f)
		if err != nil {
			return nil, compute.Wrap("alloc", "", err)
		}
		made = append(made, b)
		m.stats.Allocs++
		return b, nil
	}
	fail := func(err error) error {
		var errs []error
		for _, b := range made {
			if rerr := b.Release(); rerr != nil {
				errs = append(errs, rerr)
			} else {
				m.stats.Releases++
			}
		}
		m.in, m.out, m.outChannels = nil, nil, nil
		m.geom, m.id = geometry{}, ""
		slog.Error("buffer allocation failed",
			slog.Int("width", g.Width),
			slog.Int("height", g.Height),
			slog.Int("levels", g.Levels),
			slog.Any("error", err))
		return errors.Join(append([]error{err}, errs...)...)
	}

	in := make([]compute.Buffer, 0, g.Levels)
	for _, d := range dwt.LevelDims(g.Width, g.Height, g.Levels) {
		b, err := alloc(d.Width, d.Height, cfg.Format(g.Components))
		if err != nil {
			return fail(err)
		}
		in = append(in, b)
	}
	out, err := alloc(g.Width, g.Height, cfg.OutputFormat(g.Components))
	if err != nil {
		return fail(err)
	}
	var chans []compute.Buffer
	if g.Components > 1 {
		for c := 0; c < g.Components; c++ {
			b, err := alloc(g.Width, g.Height, cfg.OutputFormat(1))
			if err != nil {
				return fail(err)
			}
			chans = append(chans, b)
		}
	}

	m.in, m.out, m.outChannels = in, out, chans
	m.geom = g
	m.id = util.HashUUID(g)
	m.stats.Reallocs++
	slog.Info("allocated device buffers",
		slog.String("geometry", m.id),
		slog.Int("width", g.Width),
		slog.Int("height", g.Height),
		slog.Int("levels", g.Levels),
		slog.Int("precision", g.Precision),
		slog.Int("components", g.Components),
		slog.Int("buffers", len(made)))
	return nil
}

// Release waits for queued uploads, then frees every buffer and forgets the
// geometry. Staging memory is kept for reuse.
func (m *Manager) Release() error {
	if m == nil {
		return nil
	}
	var errs []error
	if err := m.Ready(context.Background()); err != nil {
		errs = append(errs, err)
	}
	rel := func(b compute.Buffer) {
		if b == nil {
			return
		}
		if err := b.Release(); err != nil {
			errs = append(errs, err)
			return
		}
		m.stats.Releases++
	}
	for _, b := range m.in {
		rel(b)
	}
	rel(m.out)
	for _, b := range m.outChannels {
		rel(b)
	}
	m.in, m.out, m.outChannels = nil, nil, nil
	m.geom, m.id = geometry{}, ""
	return errors.Join(errs...)
}

// Close waits for queued uploads and releases everything.
func (m *Manager) Close() error {
	return m.Release()
}

// ReadOutput copies the combined output to the host, interleaved.
func (m *Manager) ReadOutput() ([]float32, error) {
	if m.Output() == nil {
		return nil, dwt.ErrNotConfigured
	}
	return m.read(m.out, m.geom.Width, m.geom.Height)
}

// ReadChannel copies per-channel output i to the host.
func (m *Manager) ReadChannel(i int) ([]float32, error) {
	b, err := m.OutputChannel(i)
	if err != nil {
		return nil, err
	}
	return m.read(b, m.geom.Width, m.geom.Height)
}

// ReadInput copies pyramid level to the host, interleaved.
func (m *Manager) ReadInput(level int) ([]float32, error) {
	b, err := m.Input(level)
	if err != nil {
		return nil, err
	}
	d, err := m.Dims(level)
	if err != nil {
		return nil, err
	}
	return m.read(b, d.Width, d.Height)
}

func (m *Manager) read(b compute.Buffer, w, h int) ([]float32, error) {
	if err := m.Ready(context.Background()); err != nil {
		return nil, err
	}
	dst := make([]float32, w*h*b.Format().Channels)
	if err := m.dev.Read(b, compute.Full(w, h), dst); err != nil {
		return nil, compute.Wrap("read", "", err)
	}
	return dst, nil
}
