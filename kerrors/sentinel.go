// Package kerrors provides predefined sentinel errors for common failure cases.
package kerrors

// Address-space errors.
var (
	// ErrNullPointer indicates a null user pointer was dereferenced.
	ErrNullPointer = &KernelError{Kind: ErrBadAddress, Detail: "null pointer"}

	// ErrKernelAddress indicates user code referenced a kernel address.
	ErrKernelAddress = &KernelError{Kind: ErrBadAddress, Detail: "kernel address from user mode"}

	// ErrUnmapped indicates a fault address has no SPT descriptor and is
	// not a valid stack-growth candidate.
	ErrUnmapped = &KernelError{Kind: ErrBadAddress, Detail: "unmapped address"}

	// ErrWriteProtected indicates a write fault against a read-only page.
	ErrWriteProtected = &KernelError{Kind: ErrBadAddress, Detail: "write to read-only page"}

	// ErrDuplicatePage indicates a second descriptor was inserted at the
	// same virtual address.
	ErrDuplicatePage = &KernelError{Kind: ErrInvariant, Detail: "duplicate page descriptor"}
)

// Memory/swap resource errors.
var (
	// ErrFramePoolExhausted indicates get_frame found nothing to evict.
	ErrFramePoolExhausted = &KernelError{Kind: ErrNoMemory, Detail: "frame pool exhausted"}

	// ErrSwapExhausted indicates the swap bitmap has no free 8-sector run.
	ErrSwapExhausted = &KernelError{Kind: ErrNoSwap, Detail: "swap disk exhausted"}
)

// Process lifecycle errors.
var (
	// ErrChildNotFound indicates wait() was called with an id that is not
	// a child of the caller.
	ErrChildNotFound = &KernelError{Kind: ErrWait, Detail: "no such child"}

	// ErrAlreadyWaited indicates wait() was called twice on the same child.
	ErrAlreadyWaited = &KernelError{Kind: ErrWait, Detail: "child already waited on"}

	// ErrForkSetup indicates the fork trampoline failed before reaching
	// user mode.
	ErrForkSetup = &KernelError{Kind: ErrFork, Detail: "fork setup failed"}

	// ErrTooManyArgs indicates exec() was given more than 100 arguments.
	ErrTooManyArgs = &KernelError{Kind: ErrExec, Detail: "too many command-line arguments"}

	// ErrBadELFMagic indicates the ELF header magic did not match.
	ErrBadELFMagic = &KernelError{Kind: ErrExec, Detail: "bad ELF magic"}

	// ErrBadELFClass indicates the ELF is not 64-bit little-endian x86-64.
	ErrBadELFClass = &KernelError{Kind: ErrExec, Detail: "unsupported ELF class/machine"}

	// ErrBadELFType indicates the ELF e_type is not ET_EXEC.
	ErrBadELFType = &KernelError{Kind: ErrExec, Detail: "ELF is not an executable"}

	// ErrTooManyPHDRs indicates phnum exceeds 1024.
	ErrTooManyPHDRs = &KernelError{Kind: ErrExec, Detail: "too many program headers"}

	// ErrBadSegment indicates a LOAD segment failed alignment/range
	// validation, or a DYNAMIC/INTERP/SHLIB segment was present.
	ErrBadSegment = &KernelError{Kind: ErrExec, Detail: "disallowed or malformed segment"}
)

// File-descriptor errors.
var (
	// ErrFDTableFull indicates all 254 allocatable descriptors are in use.
	ErrFDTableFull = &KernelError{Kind: ErrFD, Detail: "file descriptor table full"}

	// ErrBadFD indicates an fd argument was out of range or unallocated.
	ErrBadFD = &KernelError{Kind: ErrFD, Detail: "invalid file descriptor"}

	// ErrDenyWrite indicates a write was attempted against a file that is
	// deny-write (the process's own running executable).
	ErrDenyWrite = &KernelError{Kind: ErrFD, Detail: "file is deny-write"}
)

// Lock/scheduler invariant errors: these always panic; they are exported
// only so tests can assert on the kind via errors.As/Is before recover().
var (
	// ErrLockRecursive indicates a thread attempted to acquire a lock it
	// already holds.
	ErrLockRecursive = &KernelError{Kind: ErrInvariant, Detail: "recursive lock acquire"}

	// ErrLockNotOwner indicates release() was called by a thread that does
	// not hold the lock.
	ErrLockNotOwner = &KernelError{Kind: ErrInvariant, Detail: "lock released by non-owner"}

	// ErrStackOverflow indicates a kernel stack canary was overwritten.
	ErrStackOverflow = &KernelError{Kind: ErrInvariant, Detail: "kernel stack overflow"}

	// ErrDoubleQueued indicates a TCB was found on more than one
	// scheduler/synchronization list at once.
	ErrDoubleQueued = &KernelError{Kind: ErrInvariant, Detail: "thread linked on multiple lists"}
)
