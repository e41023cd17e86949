package common

import "errors"

var (
	ErrNotFound            = errors.New("requested item not found")
	ErrBadRequest          = errors.New("bad request")
	ErrPersistenceDisabled = errors.New("run persistence is disabled")
	ErrSearchDisabled      = errors.New("origin search is disabled")
)
