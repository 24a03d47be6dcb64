// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http implements HTTP/1.x interception for evproxy.
//
// # Overview
//
// Requests read from the client and responses written back to it are framed
// by a small incremental codec and handed to a Proxy, which decides to
// forward, rewrite, hold or abort each message. Header order and case are
// preserved so that a rewritten request differs from the original only
// where the Proxy changed it.
//
// # Framing
//
//   - Transfer-Encoding: chunked bodies end after the last chunk and trailers
//   - Content-Length bodies end after the given number of bytes
//   - Requests with neither have no body
//   - Responses with neither (except 1xx, 204, 304 and replies to HEAD) run
//     until the backend closes; the connection then turns into a tunnel
//
// At most MaxHeaders header fields are accepted per message.
//
// # Proxies
//
//   - NoopProxy: forwards everything
//   - LoggerProxy: logs every message and forwards it
//   - AddHeaderProxy: appends "X-Evproxy: v0.1" to every request
//   - Compose: runs requests through b then a, responses through a then b
//
// # Example
//
//	conn := http.New(base, http.Compose(http.NewLoggerProxy(logger), http.NewAddHeaderProxy(logger)),
//		parser.WithLogger(logger))
package http
