package value

import "errors"

var (
	ErrTypeMismatch    = errors.New("value: type mismatch")
	ErrIndexOutOfRange = errors.New("value: index out of range")
	ErrNotFound        = errors.New("value: not found")
	ErrUnsupported     = errors.New("value: unsupported native type")
)
