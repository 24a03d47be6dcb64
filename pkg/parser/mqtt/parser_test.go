// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/connection/conntest"
	"github.com/absmach/evproxy/pkg/handler"
	"github.com/absmach/evproxy/pkg/parser"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

type mockHandler struct {
	connectErr   error
	publishErr   error
	subscribeErr error

	// Rewrites applied by the Auth methods when set.
	rewriteUser  string
	rewriteTopic string
	dropTopics   bool

	connectCalled    bool
	onConnectCalled  bool
	publishCalled    bool
	onPublishCalled  bool
	subscribeCalled  bool
	unsubCalled      bool
	disconnectCalled bool

	lastHctx    *handler.Context
	lastTopic   string
	lastPayload []byte
	lastTopics  []string
}

func (m *mockHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	m.connectCalled = true
	m.lastHctx = hctx
	if m.rewriteUser != "" {
		hctx.Username = m.rewriteUser
	}
	return m.connectErr
}

func (m *mockHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	m.publishCalled = true
	m.lastTopic = *topic
	m.lastPayload = *payload
	if m.rewriteTopic != "" {
		*topic = m.rewriteTopic
	}
	return m.publishErr
}

func (m *mockHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	m.subscribeCalled = true
	m.lastTopics = *topics
	if m.dropTopics {
		*topics = (*topics)[:1]
	}
	if m.rewriteTopic != "" {
		(*topics)[0] = m.rewriteTopic
	}
	return m.subscribeErr
}

func (m *mockHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	m.onConnectCalled = true
	return nil
}

func (m *mockHandler) OnPublish(ctx context.Context, hctx *handler.Context, topic string, payload []byte) error {
	m.onPublishCalled = true
	return errors.New("notification failures are only logged")
}

func (m *mockHandler) OnSubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	return nil
}

func (m *mockHandler) OnUnsubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	m.unsubCalled = true
	return nil
}

func (m *mockHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	m.disconnectCalled = true
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encode(t *testing.T, pkt packets.ControlPacket) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := pkt.Write(&buf); err != nil {
		t.Fatalf("Failed to write packet: %v", err)
	}
	return buf.Bytes()
}

func connectPacket(t *testing.T) []byte {
	t.Helper()
	pkt := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	pkt.ClientIdentifier = "test-client"
	pkt.Username = "testuser"
	pkt.Password = []byte("testpass")
	pkt.UsernameFlag = true
	pkt.PasswordFlag = true
	pkt.ProtocolName = "MQTT"
	pkt.ProtocolVersion = 4
	return encode(t, pkt)
}

func publishPacket(t *testing.T, topic, payload string) []byte {
	t.Helper()
	pkt := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pkt.TopicName = topic
	pkt.Payload = []byte(payload)
	return encode(t, pkt)
}

func newInterceptor(h handler.Handler) (*Interceptor, *handler.Context) {
	hctx := &handler.Context{SessionID: "s-1"}
	return NewInterceptor(context.Background(), h, hctx, discard()), hctx
}

func TestInterceptConnect(t *testing.T) {
	mock := &mockHandler{}
	icpt, hctx := newInterceptor(mock)
	frame := connectPacket(t)

	n, act, err := icpt.Intercept(parser.Upstream, frame)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if n != len(frame) || act.Verdict != parser.Forward {
		t.Errorf("Intercept() = %d, %s; want %d, forward", n, act.Verdict, len(frame))
	}
	if !mock.connectCalled || !mock.onConnectCalled {
		t.Error("Expected AuthConnect and OnConnect to be called")
	}
	if hctx.ClientID != "test-client" || hctx.Username != "testuser" || string(hctx.Password) != "testpass" {
		t.Errorf("Unexpected credentials in context: %+v", hctx)
	}
	if hctx.Protocol != Protocol {
		t.Errorf("Expected protocol %q, got %q", Protocol, hctx.Protocol)
	}
}

func TestInterceptConnectRewritesCredentials(t *testing.T) {
	icpt, _ := newInterceptor(&mockHandler{rewriteUser: "backend-user"})

	_, act, err := icpt.Intercept(parser.Upstream, connectPacket(t))
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if act.Verdict != parser.Modify {
		t.Fatalf("Expected modify, got %s", act.Verdict)
	}

	pkt, err := packets.ReadPacket(bytes.NewReader(act.Data))
	if err != nil {
		t.Fatalf("Failed to decode rewritten packet: %v", err)
	}
	connect := pkt.(*packets.ConnectPacket)
	if connect.Username != "backend-user" || string(connect.Password) != "testpass" {
		t.Errorf("Unexpected credentials %q/%q", connect.Username, connect.Password)
	}
}

func TestInterceptAuthErrorAborts(t *testing.T) {
	icpt, _ := newInterceptor(&mockHandler{connectErr: errors.New("auth failed")})

	frame := connectPacket(t)
	n, act, err := icpt.Intercept(parser.Upstream, frame)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if n != len(frame) || act.Verdict != parser.Abort {
		t.Errorf("Intercept() = %d, %s; want abort", n, act.Verdict)
	}
}

func TestInterceptPublish(t *testing.T) {
	mock := &mockHandler{}
	icpt, _ := newInterceptor(mock)

	_, act, err := icpt.Intercept(parser.Upstream, publishPacket(t, "test/topic", "test payload"))
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if act.Verdict != parser.Forward {
		t.Errorf("Expected forward, got %s", act.Verdict)
	}
	if !mock.publishCalled || !mock.onPublishCalled {
		t.Error("Expected AuthPublish and OnPublish to be called")
	}
	if mock.lastTopic != "test/topic" || string(mock.lastPayload) != "test payload" {
		t.Errorf("Unexpected publish %q %q", mock.lastTopic, mock.lastPayload)
	}
}

func TestInterceptPublishRewritesTopic(t *testing.T) {
	icpt, _ := newInterceptor(&mockHandler{rewriteTopic: "tenant/a/topic"})

	_, act, err := icpt.Intercept(parser.Upstream, publishPacket(t, "topic", "x"))
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if act.Verdict != parser.Modify {
		t.Fatalf("Expected modify, got %s", act.Verdict)
	}
	pkt, err := packets.ReadPacket(bytes.NewReader(act.Data))
	if err != nil {
		t.Fatalf("Failed to decode rewritten packet: %v", err)
	}
	if got := pkt.(*packets.PublishPacket).TopicName; got != "tenant/a/topic" {
		t.Errorf("Expected rewritten topic, got %q", got)
	}
}

func TestInterceptSubscribe(t *testing.T) {
	mock := &mockHandler{dropTopics: true}
	icpt, _ := newInterceptor(mock)

	pkt := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	pkt.Topics = []string{"topic1", "topic2"}
	pkt.Qoss = []byte{0, 1}
	pkt.MessageID = 1

	_, act, err := icpt.Intercept(parser.Upstream, encode(t, pkt))
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if len(mock.lastTopics) != 2 {
		t.Errorf("Expected 2 topics, got %d", len(mock.lastTopics))
	}
	if act.Verdict != parser.Modify {
		t.Fatalf("Expected modify, got %s", act.Verdict)
	}
	out, err := packets.ReadPacket(bytes.NewReader(act.Data))
	if err != nil {
		t.Fatalf("Failed to decode rewritten packet: %v", err)
	}
	sub := out.(*packets.SubscribePacket)
	if len(sub.Topics) != 1 || len(sub.Qoss) != 1 {
		t.Errorf("Expected one topic and one QoS, got %v %v", sub.Topics, sub.Qoss)
	}
}

func TestInterceptUnsubscribeAndDisconnect(t *testing.T) {
	mock := &mockHandler{}
	icpt, _ := newInterceptor(mock)

	unsub := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	unsub.Topics = []string{"topic1"}
	unsub.MessageID = 1
	if _, act, err := icpt.Intercept(parser.Upstream, encode(t, unsub)); err != nil || act.Verdict != parser.Forward {
		t.Fatalf("Intercept() = %s, %v", act.Verdict, err)
	}
	if !mock.unsubCalled {
		t.Error("Expected OnUnsubscribe to be called")
	}

	disconnect := encode(t, packets.NewControlPacket(packets.Disconnect))
	if _, act, err := icpt.Intercept(parser.Upstream, disconnect); err != nil || act.Verdict != parser.Forward {
		t.Fatalf("Intercept() = %s, %v", act.Verdict, err)
	}
	if mock.disconnectCalled {
		t.Error("OnDisconnect belongs to pair teardown, not to the DISCONNECT packet")
	}
}

func TestInterceptDownstreamPublish(t *testing.T) {
	mock := &mockHandler{}
	icpt, _ := newInterceptor(mock)

	_, act, err := icpt.Intercept(parser.Downstream, publishPacket(t, "test/topic", "broker message"))
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if act.Verdict != parser.Forward || !mock.subscribeCalled {
		t.Errorf("Expected delivery authorization and forward, got %s", act.Verdict)
	}

	icpt, _ = newInterceptor(&mockHandler{subscribeErr: errors.New("denied")})
	if _, act, _ = icpt.Intercept(parser.Downstream, publishPacket(t, "t", "m")); act.Verdict != parser.Abort {
		t.Errorf("Expected abort, got %s", act.Verdict)
	}
}

func TestInterceptIncompleteAndInvalid(t *testing.T) {
	icpt, _ := newInterceptor(&mockHandler{})
	frame := connectPacket(t)

	for _, cut := range []int{0, 1, len(frame) - 1} {
		n, _, err := icpt.Intercept(parser.Upstream, frame[:cut])
		if err != nil || n != 0 {
			t.Errorf("cut %d: Intercept() = %d, %v; want incomplete", cut, n, err)
		}
	}

	if _, _, err := icpt.Intercept(parser.Upstream, []byte{0x00, 0x00}); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected malformed error for reserved packet type, got %v", err)
	}
	if _, err := FrameLen([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected malformed error for five byte length, got %v", err)
	}
}

func TestFrameLen(t *testing.T) {
	cases := []struct {
		in   []byte
		want int
	}{
		{[]byte{0xC0, 0x00}, 2},
		{[]byte{0x30, 0x02, 'a', 'b', 'c'}, 4},
		{[]byte{0x30, 0x80, 0x01}, 0},
		{append([]byte{0x30, 0x80, 0x01}, make([]byte, 128)...), 131},
	}
	for _, tc := range cases {
		got, err := FrameLen(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("FrameLen(%d bytes) = %d, %v; want %d", len(tc.in), got, err, tc.want)
		}
	}
}

func TestNewThroughConnection(t *testing.T) {
	sock := conntest.New(9)
	mock := &mockHandler{}
	c := New(context.Background(), connection.NewBase(sock, 1, 128, discard()), mock, nil, discard())

	frame := connectPacket(t)
	sock.Feed(frame[:5])
	if act := c.HandleRead(); act != connection.Hold {
		t.Fatalf("HandleRead() = %s, want hold", act)
	}
	sock.Feed(frame[5:])
	if act := c.HandleRead(); act != connection.Forward {
		t.Fatalf("HandleRead() = %s, want forward", act)
	}

	buf := make([]byte, 256)
	n, _ := c.Read(buf)
	if !bytes.Equal(buf[:n], frame) {
		t.Errorf("Forwarded % x, want % x", buf[:n], frame)
	}
	if mock.lastHctx == nil || mock.lastHctx.Protocol != Protocol {
		t.Error("Expected a context tagged with the mqtt protocol")
	}
}
