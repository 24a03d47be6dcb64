// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handler"
	"github.com/absmach/evproxy/pkg/parser"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Protocol is the name used in logs, metrics and handler.Context.
const Protocol = "mqtt"

// maxRemainingLength is the largest value a four byte remaining length can carry.
const maxRemainingLength = 268_435_455

// ErrMalformed is wrapped by every framing or decoding error.
var ErrMalformed = errors.ErrMalformed

// Interceptor frames MQTT control packets and lets a handler.Handler
// authorize, rewrite or observe them.
//
// Upstream (client→backend) CONNECT, PUBLISH and SUBSCRIBE are authorized
// and may be rewritten; UNSUBSCRIBE is reported. Downstream (backend→client)
// PUBLISH is authorized as a subscription delivery. An authorization error
// aborts the connection; a rewritten packet is re-encoded.
type Interceptor struct {
	ctx     context.Context
	handler handler.Handler
	hctx    *handler.Context
	logger  *slog.Logger
}

var _ parser.Interceptor = (*Interceptor)(nil)

// NewInterceptor creates an interceptor reporting to h with session hctx.
func NewInterceptor(ctx context.Context, h handler.Handler, hctx *handler.Context, logger *slog.Logger) *Interceptor {
	if h == nil {
		h = &handler.NoopHandler{}
	}
	if hctx == nil {
		hctx = &handler.Context{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	hctx.Protocol = Protocol
	return &Interceptor{
		ctx:     ctx,
		handler: h,
		hctx:    hctx,
		logger:  logger,
	}
}

// New wraps c so that packets from the client and packets toward it pass
// through h.
func New(ctx context.Context, c connection.Connection, h handler.Handler, hctx *handler.Context, logger *slog.Logger, opts ...parser.Option) *parser.Connection {
	opts = append([]parser.Option{parser.WithProtocol(Protocol), parser.WithLogger(logger)}, opts...)
	return parser.NewConnection(c, NewInterceptor(ctx, h, hctx, logger), opts...)
}

// FrameLen returns the total length of the first packet in b from its fixed
// header, or 0 when the header or the body is not complete yet.
func FrameLen(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, nil
	}
	length, mult := 0, 1
	for i := 1; i <= 4; i++ {
		if i >= len(b) {
			return 0, nil
		}
		digit := b[i]
		length += int(digit&0x7f) * mult
		if digit&0x80 == 0 {
			if length > maxRemainingLength {
				return 0, fmt.Errorf("%w: remaining length %d", ErrMalformed, length)
			}
			total := 1 + i + length
			if len(b) < total {
				return 0, nil
			}
			return total, nil
		}
		mult *= 128
	}
	return 0, fmt.Errorf("%w: remaining length exceeds four bytes", ErrMalformed)
}

func (i *Interceptor) Intercept(dir parser.Direction, data []byte) (int, parser.Action, error) {
	n, err := FrameLen(data)
	if err != nil || n == 0 {
		return 0, parser.Action{}, err
	}

	pkt, err := packets.ReadPacket(bytes.NewReader(data[:n]))
	if err != nil {
		return 0, parser.Action{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	var changed bool
	if dir == parser.Upstream {
		changed, err = i.upstream(pkt)
	} else {
		changed, err = i.downstream(pkt)
	}
	if err != nil {
		i.logger.Warn("mqtt packet rejected",
			slog.String("session", i.hctx.SessionID),
			slog.String("client_id", i.hctx.ClientID),
			slog.String("direction", dir.String()),
			slog.String("error", err.Error()))
		return n, parser.AbortAction(), nil
	}
	if !changed {
		return n, parser.ForwardAction(), nil
	}

	var out bytes.Buffer
	if err := pkt.Write(&out); err != nil {
		return 0, parser.Action{}, fmt.Errorf("failed to encode packet: %w", err)
	}
	return n, parser.ModifyAction(out.Bytes()), nil
}

// upstream processes upstream (client→backend) packets.
func (i *Interceptor) upstream(pkt packets.ControlPacket) (bool, error) {
	switch packet := pkt.(type) {
	case *packets.ConnectPacket:
		return i.connect(packet)
	case *packets.PublishPacket:
		return i.publish(packet)
	case *packets.SubscribePacket:
		return i.subscribe(packet)
	case *packets.UnsubscribePacket:
		i.notify("unsubscribe", i.handler.OnUnsubscribe(i.ctx, i.hctx, slices.Clone(packet.Topics)))
		return false, nil
	default:
		// PINGREQ, PUBACK, PUBREC, PUBREL, PUBCOMP and DISCONNECT pass as-is.
		return false, nil
	}
}

// downstream treats broker deliveries as subscription reads.
func (i *Interceptor) downstream(pkt packets.ControlPacket) (bool, error) {
	packet, ok := pkt.(*packets.PublishPacket)
	if !ok {
		return false, nil
	}
	topics := []string{packet.TopicName}
	if err := i.handler.AuthSubscribe(i.ctx, i.hctx, &topics); err != nil {
		return false, fmt.Errorf("delivery authorization failed: %w", err)
	}
	if len(topics) > 0 && topics[0] != packet.TopicName {
		packet.TopicName = topics[0]
		return true, nil
	}
	return false, nil
}

func (i *Interceptor) connect(packet *packets.ConnectPacket) (bool, error) {
	i.hctx.ClientID = packet.ClientIdentifier
	i.hctx.Username = packet.Username
	i.hctx.Password = packet.Password

	if err := i.handler.AuthConnect(i.ctx, i.hctx); err != nil {
		return false, fmt.Errorf("connection authorization failed: %w", err)
	}

	changed := packet.ClientIdentifier != i.hctx.ClientID ||
		packet.Username != i.hctx.Username ||
		!bytes.Equal(packet.Password, i.hctx.Password)
	if changed {
		packet.ClientIdentifier = i.hctx.ClientID
		packet.Username = i.hctx.Username
		packet.Password = i.hctx.Password
		packet.UsernameFlag = packet.Username != ""
		packet.PasswordFlag = len(packet.Password) > 0
	}

	i.notify("connect", i.handler.OnConnect(i.ctx, i.hctx))
	return changed, nil
}

func (i *Interceptor) publish(packet *packets.PublishPacket) (bool, error) {
	topic := packet.TopicName
	payload := packet.Payload

	if err := i.handler.AuthPublish(i.ctx, i.hctx, &topic, &payload); err != nil {
		return false, fmt.Errorf("publish authorization failed: %w", err)
	}

	changed := topic != packet.TopicName || !bytes.Equal(payload, packet.Payload)
	packet.TopicName = topic
	packet.Payload = payload

	i.notify("publish", i.handler.OnPublish(i.ctx, i.hctx, topic, slices.Clone(payload)))
	return changed, nil
}

func (i *Interceptor) subscribe(packet *packets.SubscribePacket) (bool, error) {
	topics := slices.Clone(packet.Topics)

	if err := i.handler.AuthSubscribe(i.ctx, i.hctx, &topics); err != nil {
		return false, fmt.Errorf("subscribe authorization failed: %w", err)
	}

	changed := !slices.Equal(topics, packet.Topics)
	if changed {
		packet.Topics = topics
		// Pad or truncate QoS to match
		for len(packet.Qoss) < len(topics) {
			packet.Qoss = append(packet.Qoss, 0)
		}
		packet.Qoss = packet.Qoss[:len(topics)]
	}

	i.notify("subscribe", i.handler.OnSubscribe(i.ctx, i.hctx, slices.Clone(topics)))
	return changed, nil
}

func (i *Interceptor) notify(event string, err error) {
	if err != nil {
		i.logger.Warn("mqtt notification failed",
			slog.String("event", event),
			slog.String("session", i.hctx.SessionID),
			slog.String("error", err.Error()))
	}
}
