package health

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// processSampler reads resource usage of the current process.
type processSampler struct {
	proc *process.Process
}

func newProcessSampler() *processSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &processSampler{}
	}
	return &processSampler{proc: proc}
}

// sample returns what it can read; unavailable fields stay zero.
func (p *processSampler) sample() ProcessStats {
	st := ProcessStats{Goroutines: runtime.NumGoroutine()}
	if p.proc != nil {
		if pct, err := p.proc.Percent(0); err == nil {
			st.CPUPercent = pct
		}
		if info, err := p.proc.MemoryInfo(); err == nil {
			st.RSSMB = float64(info.RSS) / 1024 / 1024
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		st.SystemMemPercent = vmem.UsedPercent
	}
	return st
}
