package memsim

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrNoFit is returned when no free block in the ledger is large enough to satisfy an
// allocation request. It is a workload condition, not a failure: the simulation engine
// counts it as a denied allocation and carries on.
var ErrNoFit = errors.New("no free block large enough to satisfy the request")

// ErrUnknownProcess is returned from free operations when the process has no active
// allocation, either because it never allocated or because it was already freed. It
// usually indicates a malformed event stream and is tracked as an anomaly.
var ErrUnknownProcess = errors.New("no active allocation exists for this process")

// ErrInsufficientSpace is returned when an allocation is committed against a block that
// is not free or is too small for the rounded request. A placement strategy must never
// select such a block, so observing this error indicates a bug in the strategy rather
// than a workload condition.
var ErrInsufficientSpace = errors.New("selected block cannot hold the requested allocation")
