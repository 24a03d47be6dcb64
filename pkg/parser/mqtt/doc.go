// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements MQTT interception for evproxy.
//
// # Overview
//
// Packets are framed from the fixed header remaining length, decoded with
// the eclipse/paho.mqtt.golang packets library and handed to a
// handler.Handler. MQTT 3.1.1 is supported.
//
// # Packet Handling
//
// Upstream (Client → Backend):
//   - CONNECT: Extracts client ID, username and password, calls AuthConnect, then OnConnect
//   - PUBLISH: Extracts topic/payload, calls AuthPublish, then OnPublish
//   - SUBSCRIBE: Extracts topics, calls AuthSubscribe, then OnSubscribe
//   - UNSUBSCRIBE: Calls OnUnsubscribe
//   - Everything else: Forwarded without modification
//
// Downstream (Backend → Client):
//   - PUBLISH: Calls AuthSubscribe with the delivery topic
//   - Everything else: Forwarded without modification
//
// An Auth* error aborts the pair. When a handler changes credentials,
// topics or payload the packet is re-encoded before it is forwarded.
// OnDisconnect is reported once per pair by the server when the pair is
// torn down, whether or not the client sent DISCONNECT.
//
// # Credential Modification
//
//	func (h *MyHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
//		if !h.auth.Verify(hctx.Username, hctx.Password) {
//			return errors.New("invalid credentials")
//		}
//		hctx.Username = "backend-user"
//		hctx.Password = []byte("backend-pass")
//		return nil
//	}
package mqtt
