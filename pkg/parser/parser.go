// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

// Direction indicates the direction of packet flow.
type Direction int

const (
	// Upstream represents packets flowing from client to backend server.
	Upstream Direction = iota

	// Downstream represents packets flowing from backend server to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Verdict is the decision a proxy hook takes on one complete message.
type Verdict int

const (
	// Forward passes the original bytes through unchanged.
	Forward Verdict = iota

	// Modify replaces the original bytes with the hook's bytes.
	Modify

	// Wait keeps the message buffered as if it were incomplete.
	Wait

	// Abort terminates the connection.
	Abort
)

// String returns a string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case Modify:
		return "modify"
	case Wait:
		return "wait"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Action is a verdict plus, for Modify, the replacement bytes.
type Action struct {
	Verdict Verdict
	Data    []byte
}

// ForwardAction passes the message through.
func ForwardAction() Action {
	return Action{Verdict: Forward}
}

// ModifyAction replaces the message with b.
func ModifyAction(b []byte) Action {
	return Action{Verdict: Modify, Data: b}
}

// WaitAction holds the message.
func WaitAction() Action {
	return Action{Verdict: Wait}
}

// AbortAction terminates the connection.
func AbortAction() Action {
	return Action{Verdict: Abort}
}

// Interceptor recognises protocol messages in buffered bytes and asks a
// proxy hook what to do with each of them.
//
// Intercept is handed every byte buffered so far in one direction. It
// returns consumed == 0 with a nil error when no complete message is present
// yet. A non-nil error reports bytes that can never form a valid message.
// Otherwise consumed is the length of the first complete message and act is
// the hook's decision for it. Interceptors may keep per-connection state.
type Interceptor interface {
	Intercept(dir Direction, data []byte) (consumed int, act Action, err error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(dir Direction, data []byte) (int, Action, error)

// Intercept calls f.
func (f InterceptorFunc) Intercept(dir Direction, data []byte) (int, Action, error) {
	return f(dir, data)
}

// Outcome names what happened to a buffered message, for observers.
type Outcome string

const (
	OutcomeForward    Outcome = "forward"
	OutcomeModify     Outcome = "modify"
	OutcomeWait       Outcome = "wait"
	OutcomeAbort      Outcome = "abort"
	OutcomeIncomplete Outcome = "incomplete"
	OutcomeMalformed  Outcome = "malformed"
)

// Observer is notified of every interception outcome.
type Observer interface {
	Observe(protocol string, dir Direction, outcome Outcome)
}
