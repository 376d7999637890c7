// Package cpus answers how many workers the host can run in parallel.
package cpus

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info describes the host's CPUs as seen by this process
type Info struct {
	Logical     int    `json:"logical" yaml:"logical"`           // logical CPUs on the host
	Physical    int    `json:"physical" yaml:"physical"`         // physical cores on the host
	Usable      int    `json:"usable" yaml:"usable"`             // CPUs in this process's affinity mask
	MemoryTotal uint64 `json:"memory_total" yaml:"memory_total"` // bytes
}

// usable is overridden in tests
var usable = runtime.NumCPU

// Probe queries the host. Errors from individual probes leave the
// corresponding field zero.
func Probe(ctx context.Context) Info {
	info := Info{Usable: usable()}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.Logical = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.Physical = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
	}

	return info
}

// Parallelism returns the number of CPUs usable by the current process.
// The affinity-restricted count wins over the host count; it is never
// below 1.
func (i Info) Parallelism() int {
	n := i.Usable
	if n <= 0 || (i.Logical > 0 && i.Logical < n) {
		n = i.Logical
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Parallelism probes the host and returns the usable CPU count
func Parallelism() int {
	return Probe(context.Background()).Parallelism()
}
