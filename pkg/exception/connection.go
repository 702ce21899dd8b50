package exception

import "github.com/yanun0323/errors"

var (
	ErrEmptyDSN = errors.New("connection: empty dsn")
)
