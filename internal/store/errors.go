package store

import "errors"

var (
	ErrClosed        = errors.New("update log closed")
	ErrUnknownDriver = errors.New("unknown update log driver")
)
