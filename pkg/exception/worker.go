package exception

import "github.com/yanun0323/errors"

var (
	ErrWorkerNotFound   = errors.New("worker: not found")
	ErrWorkerExists     = errors.New("worker: already exists")
	ErrWorkerNotFlat    = errors.New("worker: position still open")
	ErrWorkerDeleted    = errors.New("worker: deleted")
	ErrWorkerSuspended  = errors.New("worker: suspended")
	ErrCommandQueueFull = errors.New("worker: command queue full")
	ErrUnknownKind      = errors.New("worker: unknown strategy kind")
	ErrInvalidParams    = errors.New("worker: invalid parameters")
	ErrRetryExhausted   = errors.New("worker: retry budget exhausted")
	ErrGridUnviable     = errors.New("grid: step does not cover round-trip fee")
	ErrGridTooSmall     = errors.New("grid: capital below minimum order notional")
	ErrSupervisorHalted = errors.New("supervisor: halted")
)
