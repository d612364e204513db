// Package driver defines the contract with the remote control collaborator
// that performs the actual interaction with the remote application.
//
// Every method may block for as long as the implementation needs to obtain
// a confident answer; implementations bound their own operations. Errors are
// opaque to callers except for ErrEntityDestroyed, which may be wrapped by
// any call that discovers the remote entity no longer exists.
package driver

import (
	"context"
	"errors"

	"ozzus/agent-upkeep/internal/domain"
)

// ErrEntityDestroyed signals the terminal entity condition.
var ErrEntityDestroyed = errors.New("remote entity destroyed")

// Session is one authenticated driver context. A fresh session is created
// for every attempt and closed when the attempt ends.
type Session interface {
	ID() string
	Close() error
}

type Driver interface {
	Login(ctx context.Context, account domain.Account) (Session, error)
	// InspectState returns a nil state when no confident reading could be
	// obtained.
	InspectState(ctx context.Context, session Session) (*domain.EntityState, error)
	// Remediate reports whether the remediation action succeeded.
	Remediate(ctx context.Context, session Session) (bool, error)
	// Acknowledge takes the acknowledgment-style unblock action.
	Acknowledge(ctx context.Context, session Session) error
}
