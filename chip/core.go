package chip

// Core is the processor-level primitive set: PRIMASK, sleep and event
// instructions, and barriers.
type Core interface {
	// DisableInterrupts sets PRIMASK and returns its previous state.
	DisableInterrupts() uintptr

	// RestoreInterrupts restores a PRIMASK state returned by
	// DisableInterrupts.
	RestoreInterrupts(state uintptr)

	// WaitForInterrupt suspends until an enabled interrupt is pending.
	WaitForInterrupt()

	// WaitForEvent suspends until the event register is set, then clears it.
	WaitForEvent()

	// SendEvent sets the event register.
	SendEvent()

	// DataSyncBarrier completes every outstanding memory access.
	DataSyncBarrier()
}
