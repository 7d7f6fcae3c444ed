// Package statemachine decides the next local payment state from a gateway response.
package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// DefaultExpiryWindow is how long an authorization stays valid locally.
const DefaultExpiryWindow = 5 * 24 * time.Hour

// User-facing notices.
var (
	NoticeDeclined = domain.Notice{
		Level:   domain.NoticeError,
		Message: "We apologize but the transaction was declined, please try again or contact us for assistance.",
	}
	NoticeHeld = domain.Notice{
		Level:   domain.NoticeWarning,
		Message: "Your purchase was held for risk review. If it is released, we will let you know.",
	}
	NoticeUnavailable = domain.Notice{
		Level:   domain.NoticeError,
		Message: "We apologize but our payment processing is not available at this time, please try again later.",
	}
)

// Command is a side effect requested by a transition. The set is closed.
type Command interface {
	command()
}

// SetRemote stamps the provider's transaction id and status string.
type SetRemote struct {
	ID    string
	State string
}

// SetExpiry sets when a local authorization lapses.
type SetExpiry struct {
	At time.Time
}

// Persist asks the caller to save the payment.
type Persist struct{}

// Notify carries a message for the end user.
type Notify struct {
	Notice domain.Notice
}

// Signal is the error the caller must return.
type Signal struct {
	Err error
}

func (SetRemote) command() {}
func (SetExpiry) command() {}
func (Persist) command()   {}
func (Notify) command()    {}
func (Signal) command()    {}

// Transition is the outcome of Next.
type Transition struct {
	State    domain.PaymentState
	Commands []Command
}

// Err returns the signalled error, if any.
func (t Transition) Err() error {
	for _, c := range t.Commands {
		if s, ok := c.(Signal); ok {
			return s.Err
		}
	}
	return nil
}

// Persists reports whether the transition requests a save.
func (t Transition) Persists() bool {
	for _, c := range t.Commands {
		if _, ok := c.(Persist); ok {
			return true
		}
	}
	return false
}

// Machine holds the clock and expiry policy.
type Machine struct {
	now          func() time.Time
	expiryWindow time.Duration
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithExpiryWindow overrides DefaultExpiryWindow.
func WithExpiryWindow(d time.Duration) Option {
	return func(m *Machine) {
		m.expiryWindow = d
	}
}

// New returns a Machine using the wall clock and a five day expiry.
func New(opts ...Option) *Machine {
	m := &Machine{
		now:          func() time.Time { return time.Now().UTC() },
		expiryWindow: DefaultExpiryWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Next computes the transition out of pending for a gateway response.
func (m *Machine) Next(current domain.PaymentState, resp domain.GatewayResponse, captureRequested bool) (Transition, error) {
	if current != domain.StatePending {
		return Transition{}, fmt.Errorf("%w: from %s", domain.ErrInvalidTransition, current)
	}

	switch resp.Status {
	case domain.StatusCompleted:
		state := domain.StateAuthorized
		if captureRequested {
			state = domain.StateCompleted
		}
		return Transition{
			State: state,
			Commands: []Command{
				SetRemote{ID: resp.TransactionID, State: resp.RemoteState},
				SetExpiry{At: m.now().Add(m.expiryWindow)},
				Persist{},
			},
		}, nil

	case domain.StatusHeld:
		return Transition{
			State: domain.StateHeld,
			Commands: []Command{
				SetRemote{ID: resp.TransactionID, State: resp.RemoteState},
				Notify{Notice: NoticeHeld},
				Persist{},
				Signal{Err: domain.ErrUnderReview},
			},
		}, nil

	case domain.StatusUnreachable:
		return Transition{
			State: domain.StateFailed,
			Commands: []Command{
				Notify{Notice: NoticeUnavailable},
				Signal{Err: unreachableError(resp.Cause)},
			},
		}, nil

	default:
		// FAILED and anything unmapped fail closed.
		cmds := make([]Command, 0, 4)
		if resp.TransactionID != "" || resp.RemoteState != "" {
			cmds = append(cmds, SetRemote{ID: resp.TransactionID, State: resp.RemoteState})
		}
		cmds = append(cmds,
			Notify{Notice: NoticeDeclined},
			Persist{},
			Signal{Err: domain.ErrDeclined},
		)
		return Transition{State: domain.StateDeclined, Commands: cmds}, nil
	}
}

func unreachableError(cause error) error {
	switch {
	case cause == nil:
		return domain.ErrGatewayUnavailable
	case errors.Is(cause, domain.ErrGatewayProtocol), errors.Is(cause, domain.ErrGatewayUnavailable):
		return cause
	default:
		return errors.Join(domain.ErrGatewayUnavailable, cause)
	}
}
