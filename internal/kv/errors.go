package kv

import "errors"

// ErrNotFound is returned by Get when a key is absent or has expired.
var ErrNotFound = errors.New("kv: not found")
