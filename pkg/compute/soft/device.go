// Package soft is a host-memory compute.Device. It executes the kernel
// catalog of package compute with plain Go lifting code, keeps the queue
// in order, and records every allocation, transfer and dispatch so that
// callers can inspect exactly what a pipeline submitted.
package soft

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"golang.org/x/sys/cpu"
)

// Stats counts device activity since creation (or the last ResetStats).
type Stats struct {
	Allocs      int
	Releases    int
	Live        int
	Writes      int
	AsyncWrites int
	Reads       int
	Dispatches  int
	Finishes    int
}

// Dispatch is one recorded kernel submission.
type Dispatch struct {
	Kernel string // program:entry
	Range  compute.NDRange
	Args   map[int]any
}

// Uint returns an integer argument, or -1 when absent.
func (d Dispatch) Uint(index int) int {
	switch v := d.Args[index].(type) {
	case uint32:
		return int(v)
	case int32:
		return int(v)
	}
	return -1
}

// Float returns a float argument, or NaN when absent.
func (d Dispatch) Float(index int) float32 {
	if v, ok := d.Args[index].(float32); ok {
		return v
	}
	return float32(math.NaN())
}

// BufferID returns the id of a buffer argument, or 0 when absent.
func (d Dispatch) BufferID(index int) uint64 {
	if b, ok := d.Args[index].(compute.Buffer); ok {
		return b.ID()
	}
	return 0
}

// Option configures a Device.
type Option func(*Device)

// WithWorkers bounds the goroutines used per lifting pass.
func WithWorkers(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMaxLive caps the number of live images; NewImage fails past it.
func WithMaxLive(n int) Option {
	return func(d *Device) { d.maxLive = n }
}

// Device is the software backend.
type Device struct {
	mu      sync.Mutex
	run     sync.Mutex // serialises command execution and reads
	nextID  uint64
	images  map[uint64]*image
	pending []command
	stats   Stats
	log     []Dispatch
	faults  map[string]*fault
	workers int
	maxLive int
}

type command struct {
	name string
	run  func() error
}

type fault struct {
	after int
	err   error
}

// New creates a software device.
func New(opts ...Option) *Device {
	d := &Device{
		images:  map[uint64]*image{},
		faults:  map[string]*fault{},
		workers: runtime.GOMAXPROCS(0),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name identifies the backend by architecture and worker count, followed by
// the widest vector extension the host CPU advertises. The extension is
// informational: lifting is plain scalar Go on every host.
func (d *Device) Name() string {
	var feats []string
	switch {
	case cpu.X86.HasAVX512F:
		feats = append(feats, "avx512")
	case cpu.X86.HasAVX2:
		feats = append(feats, "avx2")
	case cpu.ARM64.HasSVE:
		feats = append(feats, "sve")
	case cpu.ARM64.HasASIMD:
		feats = append(feats, "neon")
	}
	name := fmt.Sprintf("soft/%s/%d", runtime.GOARCH, d.workers)
	if len(feats) > 0 {
		name += "/" + strings.Join(feats, ",")
	}
	return name
}

// InjectFault makes the op ("alloc", "write", "read", "set-arg", "enqueue",
// "finish") fail with err after it has succeeded `after` more times.
func (d *Device) InjectFault(op string, after int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = &fault{after: after, err: err}
}

// ClearFaults removes every injected fault.
func (d *Device) ClearFaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = map[string]*fault{}
}

// check must be called with d.mu held.
func (d *Device) check(op, kernel string) error {
	f, ok := d.faults[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	delete(d.faults, op)
	return &compute.DeviceError{Op: op, Kernel: kernel, Status: -5, Err: f.err}
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Dispatches returns every recorded kernel submission in order.
func (d *Device) Dispatches() []Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Dispatch, len(d.log))
	copy(out, d.log)
	return out
}

// ResetStats clears counters and the dispatch log. Live is kept.
func (d *Device) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{Live: d.stats.Live}
	d.log = nil
}

// NewImage allocates a zeroed image.
func (d *Device) NewImage(width, height int, f compute.Format) (compute.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, &compute.DeviceError{Op: "alloc", Err: fmt.Errorf("%w: %dx%d", compute.ErrRegion, width, height)}
	}
	if f.Channels != 1 && f.Channels != 4 {
		return nil, &compute.DeviceError{Op: "alloc", Err: fmt.Errorf("unsupported channel order %d", f.Channels)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("alloc", ""); err != nil {
		return nil, err
	}
	if d.maxLive > 0 && d.stats.Live >= d.maxLive {
		return nil, &compute.DeviceError{Op: "alloc", Err: compute.ErrOutOfResources}
	}
	d.nextID++
	img := &image{
		dev:    d,
		id:     d.nextID,
		width:  width,
		height: height,
		format: f,
		data:   make([]float32, width*height*f.Channels),
	}
	d.images[img.id] = img
	d.stats.Allocs++
	d.stats.Live++
	return img, nil
}

func (d *Device) lookup(b compute.Buffer) (*image, error) {
	img, ok := b.(*image)
	if !ok || img.dev != d {
		return nil, compute.ErrForeignBuffer
	}
	if img.released {
		return nil, compute.ErrReleased
	}
	return img, nil
}

// Write queues (or, when blocking, performs in order) a host to image copy.
// The source is copied before Write returns either way.
func (d *Device) Write(dst compute.Buffer, r compute.Region, src []float32, blocking bool) error {
	d.mu.Lock()
	img, err := d.lookup(dst)
	if err == nil {
		err = d.check("write", "")
	}
	if err == nil {
		err = img.checkRegion(r, len(src))
	}
	if err != nil {
		d.mu.Unlock()
		return compute.Wrap("write", "", err)
	}
	samples := make([]float32, r.Width*r.Height*img.format.Channels)
	copy(samples, src)
	d.pending = append(d.pending, command{name: "write", run: func() error {
		img.store(r, samples)
		return nil
	}})
	if blocking {
		d.stats.Writes++
		d.mu.Unlock()
		return d.Finish()
	}
	d.stats.AsyncWrites++
	d.mu.Unlock()
	return nil
}

// Read finishes the queue and copies r of src into dst.
func (d *Device) Read(src compute.Buffer, r compute.Region, dst []float32) error {
	if err := d.Finish(); err != nil {
		return err
	}
	d.run.Lock()
	defer d.run.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.lookup(src)
	if err == nil {
		err = d.check("read", "")
	}
	if err == nil {
		err = img.checkRegion(r, len(dst))
	}
	if err != nil {
		return compute.Wrap("read", "", err)
	}
	img.load(r, dst)
	d.stats.Reads++
	return nil
}

// NewKernel builds a kernel from the catalog. Options carry the window size.
func (d *Device) NewKernel(program, entry, options string) (compute.Kernel, error) {
	n, err := compute.ArgCount(program, entry)
	if err != nil {
		return nil, compute.Wrap("build", program, err)
	}
	exec, err := executorFor(program, entry)
	if err != nil {
		return nil, compute.Wrap("build", program, err)
	}
	tx, ty := compute.ParseTileOptions(options)
	return &kernel{
		dev:   d,
		name:  program + ":" + entry,
		nargs: n,
		args:  map[int]any{},
		exec:  exec,
		tileX: tx,
		tileY: ty,
	}, nil
}

// Flush is a no-op: work is only executed by Finish, blocking transfers and reads.
func (d *Device) Flush() error { return nil }

// Finish runs every queued command in submission order. The first failing
// command aborts the rest, which are dropped.
func (d *Device) Finish() error {
	d.run.Lock()
	defer d.run.Unlock()
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.stats.Finishes++
	err := d.check("finish", "")
	d.mu.Unlock()
	if err != nil {
		return err
	}
	for _, c := range pending {
		if err := c.run(); err != nil {
			slog.Error("soft device command failed", slog.String("command", c.name), slog.Any("error", err))
			return compute.Wrap("finish", c.name, err)
		}
	}
	return nil
}

// Pending reports how many commands wait for Finish.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
