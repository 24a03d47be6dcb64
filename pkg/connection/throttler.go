// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import "time"

// DefaultThrottleInterval is the tick period used when none is configured.
const DefaultThrottleInterval = 2 * time.Second

// Throttler gates readiness of the wrapped connection behind a periodic
// timer. Each handled read or write consumes the matching grant and only the
// next tick restores it, so the connection is serviced at most once per tick
// in each direction no matter how fast its peer produces data.
type Throttler struct {
	Connection
	grants   Interest
	interval time.Duration
}

var (
	_ Connection = (*Throttler)(nil)
	_ Timer      = (*Throttler)(nil)
)

// NewThrottler wraps c with the given tick interval.
func NewThrottler(c Connection, interval time.Duration) *Throttler {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttler{
		Connection: c,
		grants:     Readable | Writable,
		interval:   interval,
	}
}

// Interest returns the wrapped interest limited to the outstanding grants.
func (t *Throttler) Interest() Interest {
	return t.Connection.Interest() & (t.grants | Always)
}

// HandleRead consumes the read grant and delegates.
func (t *Throttler) HandleRead() Action {
	t.grants &^= Readable
	return t.Connection.HandleRead()
}

// HandleWrite consumes the write grant and delegates.
func (t *Throttler) HandleWrite() Action {
	t.grants &^= Writable
	return t.Connection.HandleWrite()
}

// HandleTimer restores both grants.
func (t *Throttler) HandleTimer() TimerAction {
	t.grants |= Readable | Writable
	return Continue
}

// Frequency returns the tick interval.
func (t *Throttler) Frequency() time.Duration {
	return t.interval
}

// Unwrap returns the wrapped connection.
func (t *Throttler) Unwrap() Connection {
	return t.Connection
}
