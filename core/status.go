package core

import (
	"time"
)

// Status is the tagged state of a session
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusHydrating
	StatusAuthenticating
	StatusAuthenticated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusHydrating:
		return "hydrating"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is an immutable snapshot of the authentication state.
// User is non-nil iff Status is StatusAuthenticated, and Err is set iff
// Status is StatusError.
type Session struct {
	Status  Status
	User    *User
	Err     error
	Attempt uint64
}

// IsAuthenticated reports whether the session carries a verified user
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// IsLoading reports whether an attempt or hydration is in flight
func (s Session) IsLoading() bool {
	return s.Status == StatusHydrating || s.Status == StatusAuthenticating
}

// Transition describes a committed session change
type Transition struct {
	ID      string    `json:"id"`
	Op      string    `json:"op"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Attempt uint64    `json:"attempt"`
	UserID  string    `json:"user_id,omitempty"`
	At      time.Time `json:"at"`
}
