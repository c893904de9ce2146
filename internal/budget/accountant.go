// Package budget tracks the approximate size of video payloads held on
// scratch storage and reports when the configured ceiling is breached.
package budget

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMemoryBudgetExceeded is fatal to a batch run
var ErrMemoryBudgetExceeded = errors.New("memory budget exceeded")

// Accountant sums the bytes of downloaded payloads that have not yet been
// released. A ceiling of zero or less disables the check.
type Accountant struct {
	mu       sync.Mutex
	ceiling  int64
	inFlight int64
	peak     int64
}

// NewAccountant creates an accountant with the given ceiling in bytes
func NewAccountant(ceiling int64) *Accountant {
	return &Accountant{ceiling: ceiling}
}

// Track records n more bytes as in flight. The bytes are counted even when
// the ceiling is crossed; the caller still owes the matching Release.
func (a *Accountant) Track(n int64) error {
	if n <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight += n
	if a.inFlight > a.peak {
		a.peak = a.inFlight
	}

	return a.exceeded()
}

// Release returns n bytes previously tracked. Releasing more than is in
// flight clamps to zero.
func (a *Accountant) Release(n int64) {
	if n <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight -= n
	if a.inFlight < 0 {
		a.inFlight = 0
	}
}

// InFlight returns the bytes currently tracked
func (a *Accountant) InFlight() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.inFlight
}

// Peak returns the highest in-flight value observed
func (a *Accountant) Peak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.peak
}

// Check returns ErrMemoryBudgetExceeded (wrapped with the current usage)
// when in-flight bytes exceed the ceiling.
func (a *Accountant) Check() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.exceeded()
}

func (a *Accountant) exceeded() error {
	if a.ceiling <= 0 || a.inFlight <= a.ceiling {
		return nil
	}

	return fmt.Errorf("%w: %d bytes in flight, limit %d", ErrMemoryBudgetExceeded, a.inFlight, a.ceiling)
}
