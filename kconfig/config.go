// Package kconfig defines the boot-time configuration for the pintsim
// kernel simulator: frame pool size, swap geometry, scheduling quantum, and
// related tunables that in a real kernel would be compiled-in constants or
// boot command-line options.
package kconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"pintsim/kerrors"
)

// Scheduling and memory constants fixed by the specification; these are not
// configurable because they are part of the contract the cores test against.
const (
	// PriorityMin is the lowest legal thread priority.
	PriorityMin = 0
	// PriorityDefault is the priority assigned when none is specified.
	PriorityDefault = 31
	// PriorityMax is the highest legal thread priority.
	PriorityMax = 63

	// TimeSliceTicks is the number of ticks a thread runs before
	// preemption is requested.
	TimeSliceTicks = 4

	// PageSize is the size in bytes of a virtual/physical page.
	PageSize = 4096
	// SectorSize is the size in bytes of one swap-disk sector.
	SectorSize = 512
	// SectorsPerPage is the number of consecutive sectors one anonymous
	// page occupies on the swap disk.
	SectorsPerPage = PageSize / SectorSize

	// MaxArgs is the maximum number of argv entries exec() accepts.
	MaxArgs = 100
	// MaxProgramHeaders is the maximum phnum an ELF image may declare.
	MaxProgramHeaders = 1024

	// FDTableSize is the fixed capacity of a process's FD table.
	FDTableSize = 256
	// FDTableLow is the first allocatable fd (0 and 1 are reserved).
	FDTableLow = 2

	// UserStackTop is the address immediately above the user stack (the
	// top of the address space reserved for argv/initial frame setup).
	UserStackTop = 0x47480000
	// StackGrowthLimit is the maximum stack size (1 MiB).
	StackGrowthLimit = 1 << 20
	// StackGrowthSlack is how far above rsp a fault may still land and be
	// treated as legitimate stack growth; faults below rsp inside the
	// growth window always qualify.
	StackGrowthSlack = 8

	// KernelBase is the first address of kernel space; addresses at or
	// above this are never valid targets for a user-mode fault or a
	// syscall buffer argument.
	KernelBase = 0x8004000000
)

// IsUserAddress reports whether addr falls in user space: non-null and
// strictly below KernelBase.
func IsUserAddress(addr uintptr) bool {
	return addr != 0 && addr < KernelBase
}

// BootConfig holds the tunables for one simulated kernel instance. Unlike
// the fixed constants above, these vary between test runs and CLI
// invocations (frame-pool size in particular is deliberately small in tests
// to force eviction).
type BootConfig struct {
	// FramePoolPages is the number of physical frames in the user pool.
	FramePoolPages int `json:"framePoolPages"`

	// SwapSectors is the total number of 512-byte sectors on the
	// simulated swap disk.
	SwapSectors int `json:"swapSectors"`

	// SwapDiskPath is the backing file for the swap disk. Empty means an
	// in-memory swap disk (used by most tests).
	SwapDiskPath string `json:"swapDiskPath,omitempty"`

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `json:"logLevel,omitempty"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"logFormat,omitempty"`
}

// Default returns a BootConfig sized for interactive use: a generous frame
// pool and swap area, text logging at info level.
func Default() *BootConfig {
	return &BootConfig{
		FramePoolPages: 256,
		SwapSectors:    8 * 1024,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Validate checks that the configuration is internally consistent.
func (c *BootConfig) Validate() error {
	if c.FramePoolPages <= 0 {
		return kerrors.New(kerrors.ErrInvalidConfig, "validate", "framePoolPages must be positive")
	}
	if c.SwapSectors <= 0 || c.SwapSectors%SectorsPerPage != 0 {
		return kerrors.New(kerrors.ErrInvalidConfig, "validate", "swapSectors must be a positive multiple of sectors-per-page")
	}
	return nil
}

// Load reads a BootConfig from a JSON file.
func Load(path string) (*BootConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrInvalidConfig, "load config")
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrInvalidConfig, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file, creating parent directories
// as needed.
func (c *BootConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return kerrors.Wrap(err, kerrors.ErrInvalidConfig, "create config dir")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrInvalidConfig, "marshal config")
	}
	return os.WriteFile(path, data, 0644)
}
