package strategy

import (
	"context"

	"github.com/shirou/gopsutil/mem"
)

// HostMemory reads available memory from the operating system.
type HostMemory struct{}

func (HostMemory) AvailableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
