// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package warehouse

import (
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
)

// Concurrency bounds for row-level indexing waves.
const (
	MinIndexConcurrency = 2
	MaxIndexConcurrency = 24

	// DefaultWorkerMemoryBudget is the estimated peak memory one row-level
	// worker needs for its chunk, batches and buffers.
	DefaultWorkerMemoryBudget = 500 << 20 // 500MB
)

// LiveSystemStats reads real resource usage via gopsutil.
type LiveSystemStats struct{}

func (LiveSystemStats) CPUCount() int {
	return runtime.NumCPU()
}

func (LiveSystemStats) MemoryUsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (LiveSystemStats) FreeMemoryBytes() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// ComputeConcurrency derives a safe wave width for row-level indexing from
// live resource readings.
//
// The candidate starts at the core count, is reduced to roughly a third
// under heavy memory pressure (>80% used) or half under moderate pressure
// (>60%), and otherwise allowed up to cores-2. A per-worker memory budget
// against free memory caps it further. The result is clamped to
// [MinIndexConcurrency, MaxIndexConcurrency]. Readings that fail fall back
// to the conservative minimum.
func ComputeConcurrency(stats SystemStats, workerMemoryBudget uint64) int {
	if workerMemoryBudget == 0 {
		workerMemoryBudget = DefaultWorkerMemoryBudget
	}

	cores := stats.CPUCount()
	if cores < 1 {
		cores = 1
	}

	usedPercent, err := stats.MemoryUsedPercent()
	if err != nil {
		slog.Default().Warn("memory reading failed, using minimum concurrency", "err", err)
		return MinIndexConcurrency
	}

	var candidate int
	switch {
	case usedPercent > 80:
		candidate = cores / 3
	case usedPercent > 60:
		candidate = cores / 2
	default:
		candidate = cores - 2
	}

	free, err := stats.FreeMemoryBytes()
	if err != nil {
		slog.Default().Warn("free-memory reading failed, using minimum concurrency", "err", err)
		return MinIndexConcurrency
	}
	byMemory := int(free / workerMemoryBudget)
	if byMemory < candidate {
		candidate = byMemory
	}

	if candidate < MinIndexConcurrency {
		return MinIndexConcurrency
	}
	if candidate > MaxIndexConcurrency {
		return MaxIndexConcurrency
	}
	return candidate
}
