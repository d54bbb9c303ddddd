package testutil

import "errors"

// ErrSimulated is returned by test backends when a failure is injected.
var ErrSimulated = errors.New("simulated backend failure")
