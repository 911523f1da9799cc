// Package process implements the process-lifecycle core: exec, fork,
// wait, and exit, tying together the scheduler (kernel/thread), the
// address-space simulator (kernel/vm), and the file-object contract
// (kfs). Grounded throughout on userprog/process.c
// (original_source/userprog/process.c).
//
// There is no literal CPU executing user-mode instructions in this
// simulator: a "process" is a goroutine running on a TCB that, once its
// image is loaded by Exec, drives whatever syscalls its program logic
// would have made by calling straight into this package's API (Fork,
// Wait, Exit, and the file/VM operations reachable through the Kernel).
// The kernel/syscall package is the thin register-convention adapter
// that would sit in front of this API for a driven CLI session; tests
// and scripted scenarios call it directly.
package process

import (
	"log/slog"
	"os"
	"sync"

	"pintsim/kconsole"
	"pintsim/kernel/thread"
	"pintsim/kernel/vm"
	"pintsim/kfs"
	"pintsim/klog"
	"pintsim/swapdisk"
)

// Kernel bundles the shared collaborators every process needs: one
// scheduler, one physical frame pool, one swap disk, and one file
// system, mirroring the single-instance globals of a real Pintos boot.
type Kernel struct {
	Sched   *thread.Scheduler
	Pool    *vm.FramePool
	Disk    *swapdisk.Disk
	FS      *kfs.FS
	Console *kconsole.Device
	Log     *klog.Config

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewKernel wires a fresh kernel instance: a scheduler, a frame pool of
// framePages frames, a swap disk of swapSectors sectors (diskPath empty
// means in-memory), and an empty file system.
func NewKernel(framePages, swapSectors int, diskPath string) (*Kernel, error) {
	pool, err := vm.NewFramePool(framePages)
	if err != nil {
		return nil, err
	}
	disk, err := swapdisk.Open(diskPath, swapSectors)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Kernel{
		Sched:    thread.NewScheduler(),
		Pool:     pool,
		Disk:     disk,
		FS:       kfs.New(),
		Console:  kconsole.New(os.Stdin, os.Stdout),
		Log:      &klog.Config{Level: slog.LevelInfo, Format: "text"},
		shutdown: make(chan struct{}),
	}, nil
}

// Close releases the frame pool and swap disk.
func (k *Kernel) Close() error {
	if err := k.Pool.Close(); err != nil {
		return err
	}
	return k.Disk.Close()
}

// RequestShutdown signals that halt() was called: the machine is powering
// off. Idempotent. Mirrors shutdown_power_off's never-returning contract
// without actually tearing down the host process running the simulator.
func (k *Kernel) RequestShutdown() {
	k.shutdownOnce.Do(func() { close(k.shutdown) })
}

// ShutdownRequested returns a channel closed once RequestShutdown has been
// called, for a driver loop (cmd/pintsim) to select on.
func (k *Kernel) ShutdownRequested() <-chan struct{} {
	return k.shutdown
}
