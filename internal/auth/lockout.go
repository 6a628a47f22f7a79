package auth

import (
	"time"

	"github.com/apollo-xwb/paysecure/internal/models"
)

// LockState is the lockout state of an account at a point in time
type LockState int

const (
	Unlocked LockState = iota
	Locked
)

func (s LockState) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

const DefaultLockoutThreshold = 5

// LockoutPolicy decides whether an account is locked and how failures move it between states.
// It performs no I/O; stores apply its transitions atomically.
type LockoutPolicy struct {
	Threshold int
	Durations map[models.AccountClass]time.Duration
	// Fallback is used for classes without an explicit duration.
	Fallback time.Duration
}

// NewLockoutPolicy builds a policy with per-class lock durations.
func NewLockoutPolicy(threshold int, customer, employee time.Duration) *LockoutPolicy {
	if threshold < 1 {
		threshold = DefaultLockoutThreshold
	}
	return &LockoutPolicy{
		Threshold: threshold,
		Durations: map[models.AccountClass]time.Duration{
			models.AccountClassCustomer: customer,
			models.AccountClassEmployee: employee,
		},
		Fallback: customer,
	}
}

// DurationFor returns the lock duration for an account class.
func (p *LockoutPolicy) DurationFor(class models.AccountClass) time.Duration {
	if d, ok := p.Durations[class]; ok && d > 0 {
		return d
	}
	return p.Fallback
}

// State evaluates the lock lazily: a lock whose deadline is not strictly after now is ignored.
func (p *LockoutPolicy) State(account *models.Account, now time.Time) LockState {
	if account.LockedUntil != nil && account.LockedUntil.After(now) {
		return Locked
	}
	return Unlocked
}

// Gate returns an AccountLockedError while the account is locked, nil otherwise.
func (p *LockoutPolicy) Gate(account *models.Account, now time.Time) error {
	if p.State(account, now) == Locked {
		return models.NewAccountLockedError(*account.LockedUntil, now)
	}
	return nil
}

// FailureTransition is the outcome of a failed verification.
type FailureTransition struct {
	Count       int
	LockedUntil *time.Time
}

// NextFailure computes the state after one more failed verification.
// The count never exceeds the threshold. A failure after an expired lock starts a new cycle at 1.
func (p *LockoutPolicy) NextFailure(count int, lockedUntil *time.Time, class models.AccountClass, now time.Time) FailureTransition {
	if lockedUntil != nil && !lockedUntil.After(now) {
		count = 0
		lockedUntil = nil
	}

	count = min(count+1, p.Threshold)
	if count >= p.Threshold && lockedUntil == nil {
		until := now.Add(p.DurationFor(class))
		lockedUntil = &until
	}
	return FailureTransition{Count: count, LockedUntil: lockedUntil}
}
