package clob

import "errors"

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrForbidden           = errors.New("order does not belong to this account")
	ErrInvalidState        = errors.New("order is already in a terminal state")
	ErrTimeout             = errors.New("timeout")
	ErrShutdown            = errors.New("engine is shutting down")
)
