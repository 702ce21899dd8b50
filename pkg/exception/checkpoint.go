package exception

import "github.com/yanun0323/errors"

var (
	ErrCheckpointNotFound = errors.New("checkpoint: not found")
	ErrCheckpointCorrupt  = errors.New("checkpoint: corrupt record")
	ErrStoreUnavailable   = errors.New("checkpoint: store unavailable")
	ErrInvalidKey         = errors.New("checkpoint: invalid key")
)
