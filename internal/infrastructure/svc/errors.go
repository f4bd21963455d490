package svc

import "errors"

// ErrNoRecordStore is returned when the configured backend yields no store.
var ErrNoRecordStore = errors.New("no record store configured")

// ErrNoPriceSource is returned when no price transport could be built.
var ErrNoPriceSource = errors.New("no price source configured")
