package feed

import "errors"

// ErrNotConnected rejects transport-backed commands while the channel is down.
var ErrNotConnected = errors.New("not connected")

// ErrCommandTimeout reports an optimistic command that received no ack within
// the deadline and was rolled back. Callers may retry.
var ErrCommandTimeout = errors.New("command timed out")
