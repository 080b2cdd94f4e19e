package compute

import "errors"

var (
	// ErrDeviceLost indicates the GPU device stopped responding; submitted
	// work did not complete within the fence timeout.
	ErrDeviceLost = errors.New("gpu device lost")

	// ErrBufferOverflow indicates a write larger than the target buffer.
	ErrBufferOverflow = errors.New("buffer overflow")

	// ErrMemoryAllocation indicates the pool could not service a request.
	ErrMemoryAllocation = errors.New("memory allocation failed")

	// ErrRecoveryExhausted indicates device recovery was attempted the
	// configured number of times without success.
	ErrRecoveryExhausted = errors.New("device recovery attempts exhausted")

	// ErrInvalidState indicates a pipeline call out of sequence, for
	// example submitting before recording.
	ErrInvalidState = errors.New("invalid pipeline state")
)
