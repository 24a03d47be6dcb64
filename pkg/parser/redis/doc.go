// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package redis implements RESP interception for evproxy.
//
// Client commands, in multibulk or inline form, and server replies are
// decoded with github.com/tidwall/redcon and handed to a Proxy. A Proxy may
// return a rewritten Value with a Modify verdict; it is re-encoded as RESP
// before it continues.
//
// PrefixProxy confines a client to a key namespace: "SET foo bar" reaches
// the backend as "SET prefix:foo bar", while commands without a leading key,
// such as PING, are forwarded untouched.
package redis
