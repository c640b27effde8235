package alloc

import "errors"

// ErrOutOfSpace is returned by Allocate when no free sector remains.
var ErrOutOfSpace = errors.New("alloc: out of space")
