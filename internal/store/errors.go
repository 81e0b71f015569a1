package store

import "errors"

// ErrBusy is returned when a write could not acquire the store within the
// busy-timeout window under contention (spec kind: StoreBusy).
var ErrBusy = errors.New("store busy")

// ErrCorrupt marks an underlying file-level error on the store (spec kind:
// StoreCorrupt). The Hub logs these and continues serving other requests.
var ErrCorrupt = errors.New("store corrupt")
