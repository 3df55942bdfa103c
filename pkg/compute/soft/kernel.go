package soft

import (
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

type kernel struct {
	dev      *Device
	name     string
	nargs    int
	args     map[int]any
	exec     executor
	tileX    int
	tileY    int
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArg(index int, value any) error {
	d := k.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("set-arg", k.name); err != nil {
		return err
	}
	if k.released {
		return compute.Wrap("set-arg", k.name, compute.ErrReleased)
	}
	if index < 0 || index >= k.nargs {
		return compute.Wrap("set-arg", k.name, fmt.Errorf("%w: %d of %d", compute.ErrArgIndex, index, k.nargs))
	}
	switch v := value.(type) {
	case compute.Buffer:
		if _, err := d.lookup(v); err != nil {
			return compute.Wrap("set-arg", k.name, err)
		}
	case uint32, int32, float32:
	default:
		return compute.Wrap("set-arg", k.name, fmt.Errorf("%w: %T", compute.ErrArgType, value))
	}
	k.args[index] = value
	return nil
}

// Enqueue validates the range and the bound arguments immediately, then
// queues the execution behind everything submitted before it.
func (k *kernel) Enqueue(nd compute.NDRange) error {
	d := k.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("enqueue", k.name); err != nil {
		return err
	}
	if k.released {
		return compute.Wrap("enqueue", k.name, compute.ErrReleased)
	}
	if err := nd.Validate(); err != nil {
		return compute.Wrap("enqueue", k.name, err)
	}
	args := make(map[int]any, len(k.args))
	for i, v := range k.args {
		args[i] = v
	}
	for i := 0; i < k.exec.required; i++ {
		if _, ok := args[i]; !ok {
			return compute.Wrap("enqueue", k.name, fmt.Errorf("%w: %d", compute.ErrMissingArg, i))
		}
	}
	call := &call{kernel: k, nd: nd, args: args, workers: d.workers}
	run, err := k.exec.prepare(call)
	if err != nil {
		return compute.Wrap("enqueue", k.name, err)
	}
	d.pending = append(d.pending, command{name: k.name, run: run})
	d.log = append(d.log, Dispatch{Kernel: k.name, Range: nd, Args: args})
	d.stats.Dispatches++
	slog.Debug("soft enqueue", slog.String("kernel", k.name), slog.String("range", nd.String()))
	return nil
}

func (k *kernel) Release() error {
	k.dev.mu.Lock()
	defer k.dev.mu.Unlock()
	k.released = true
	return nil
}
