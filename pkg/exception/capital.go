package exception

import "github.com/yanun0323/errors"

var (
	ErrReservationExists  = errors.New("capital: worker already holds a reservation in pool")
	ErrReservationMissing = errors.New("capital: no open reservation for worker")
	ErrUnknownPool        = errors.New("capital: unknown pool")
	ErrPoolExists         = errors.New("capital: pool already exists")
	ErrAllocationTooSmall = errors.New("capital: allocation below outstanding reservations")
)
