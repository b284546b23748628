package sessiondir

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// GopsutilIndex implements ProcessIndex over the live process table.
type GopsutilIndex struct{}

func (GopsutilIndex) PIDsOf(names []string) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}

	var pids []int32
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		if wanted[strings.ToLower(name)] {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

func (GopsutilIndex) Cmdline(pid int32) ([]string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	args, err := p.CmdlineSlice()
	if err != nil {
		return nil, fmt.Errorf("cmdline of %d: %w", pid, err)
	}
	return args, nil
}
