package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Supple-build/slidebridge/internal/shutter"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	paho.Token
	err error
}

func (t *doneToken) Wait() bool   { return true }
func (t *doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	paho.Client

	mu            sync.Mutex
	published     []published
	subscriptions map[string]paho.MessageHandler
	unsubscribed  []string
	publishErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscriptions: map[string]paho.MessageHandler{}}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: p})
	return &doneToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = callback
	return &doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &doneToken{}
}

func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	handler := c.subscriptions[topic]
	c.mu.Unlock()
	handler(c, &message{topic: topic, payload: []byte(payload)})
}

func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return c.published[i], true
		}
	}
	return published{}, false
}

type message struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *message) Topic() string   { return m.topic }
func (m *message) Payload() []byte { return m.payload }

type fakeShutter struct {
	name     string
	handlers []shutter.ShutterUpdateHandler
	err      error
	// block, when set, holds every command until it is closed.
	block chan struct{}

	mu      sync.Mutex
	target  int
	targets []int
	stops   int
}

func (s *fakeShutter) Name() string { return s.name }

func (s *fakeShutter) CurrentPosition(ctx context.Context) (int, error) { return 0, nil }

func (s *fakeShutter) TargetPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *fakeShutter) PositionState() shutter.State { return shutter.Stopped }

func (s *fakeShutter) OnUpdate(h shutter.ShutterUpdateHandler) {
	s.handlers = append(s.handlers, h)
}

func (s *fakeShutter) SetTargetPosition(ctx context.Context, position int) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, position)
	return s.err
}

func (s *fakeShutter) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.err
}

func (s *fakeShutter) calls() ([]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.targets...), s.stops
}

// update publishes snapshot with target as the shutter's end-snapped target.
func (s *fakeShutter) update(snapshot shutter.Snapshot, target int) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
	for _, h := range s.handlers {
		h(snapshot)
	}
}

func TestBridgeTopics(t *testing.T) {
	bridge := NewBridge(newFakeClient(), &fakeShutter{name: "bedroom"})

	assert.Equal(t, "slidebridge/bedroom/state", bridge.StateTopic)
	assert.Equal(t, "slidebridge/bedroom/position", bridge.PositionTopic)
	assert.Equal(t, "slidebridge/bedroom/target", bridge.TargetTopic)
	assert.Equal(t, "slidebridge/bedroom/metadata", bridge.MetadataTopic)
	assert.Equal(t, "slidebridge/bedroom/set", bridge.CommandTopic)
	assert.Equal(t, "slidebridge/bedroom/position/set", bridge.PositionChangeTopic)
}

func TestBridgePublishesUpdates(t *testing.T) {
	client := newFakeClient()
	s := &fakeShutter{name: "bedroom"}
	NewBridge(client, s)

	tests := []struct {
		name     string
		snapshot shutter.Snapshot
		target   int
		state    string
	}{
		{"closing", shutter.Snapshot{Current: 80, Target: 0, State: shutter.Decreasing}, 0, shutter.ShutterClosingState},
		{"opening", shutter.Snapshot{Current: 20, Target: 100, State: shutter.Increasing}, 100, shutter.ShutterOpeningState},
		{"closed", shutter.Snapshot{Current: 0, Target: 0, State: shutter.Stopped}, 0, shutter.ShutterClosedState},
		{"open", shutter.Snapshot{Current: 40, Target: 40, State: shutter.Stopped}, 40, shutter.ShutterOpenState},
		{"target near the end is snapped", shutter.Snapshot{Current: 97, Target: 97, State: shutter.Stopped}, 100, shutter.ShutterOpenState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.update(tt.snapshot, tt.target)

			state, ok := client.last("slidebridge/bedroom/state")
			require.True(t, ok)
			assert.Equal(t, tt.state, state.payload)
			assert.True(t, state.retained)

			position, _ := client.last("slidebridge/bedroom/position")
			assert.Equal(t, tt.snapshot.Current, atoi(t, position.payload))

			target, _ := client.last("slidebridge/bedroom/target")
			assert.Equal(t, tt.target, atoi(t, target.payload))
		})
	}
}

func TestBridgeCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	s := &fakeShutter{name: "bedroom"}
	bridge := NewBridge(client, s)
	require.NoError(t, bridge.Subscribe(ctx))

	client.deliver(bridge.CommandTopic, "open")
	client.deliver(bridge.CommandTopic, "CLOSE")
	client.deliver(bridge.CommandTopic, "stop")
	client.deliver(bridge.CommandTopic, "jump")
	client.deliver(bridge.PositionChangeTopic, "42")
	client.deliver(bridge.PositionChangeTopic, "half")

	assert.Eventually(t, func() bool {
		targets, stops := s.calls()
		return len(targets) == 3 && stops == 1
	}, time.Second, 5*time.Millisecond)

	targets, _ := s.calls()
	assert.Equal(t, []int{100, 0, 42}, targets, "commands run in arrival order")
}

func TestBridgeCommandsDoNotBlockRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	s := &fakeShutter{name: "bedroom", block: make(chan struct{})}
	bridge := NewBridge(client, s)
	require.NoError(t, bridge.Subscribe(ctx))

	delivered := make(chan struct{})
	go func() {
		client.deliver(bridge.PositionChangeTopic, "10")
		client.deliver(bridge.PositionChangeTopic, "20")
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("message handler waited for a busy shutter")
	}

	close(s.block)
	assert.Eventually(t, func() bool {
		targets, _ := s.calls()
		return len(targets) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeCommandFailureIsLogged(t *testing.T) {
	client := newFakeClient()
	s := &fakeShutter{name: "bedroom", err: errors.New("unreachable")}
	bridge := NewBridge(client, s)
	require.NoError(t, bridge.Subscribe(context.Background()))

	assert.NotPanics(t, func() {
		client.deliver(bridge.CommandTopic, "open")
		client.deliver(bridge.PositionChangeTopic, "10")
	})
	assert.Eventually(t, func() bool {
		targets, _ := s.calls()
		return len(targets) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeSetMetadata(t *testing.T) {
	client := newFakeClient()
	bridge := NewBridge(client, &fakeShutter{name: "bedroom"})

	require.NoError(t, bridge.SetMetadata(map[string]interface{}{"room": "upstairs"}))

	metadata, ok := client.last("slidebridge/bedroom/metadata")
	require.True(t, ok)
	assert.JSONEq(t, `{"room":"upstairs"}`, metadata.payload)

	client.publishErr = errors.New("not connected")
	assert.Error(t, bridge.SetMetadata(nil))
}

func TestHAAutoDiscovery(t *testing.T) {
	client := newFakeClient()
	bridge := NewBridge(client, &fakeShutter{name: "bedroom"})

	require.NoError(t, PublishHAAutoDiscovery(client, "homeassistant", NewHACoverFromMQTTBridge(bridge)))

	config, ok := client.last("homeassistant/cover/slidebridge/bedroom/config")
	require.True(t, ok)
	assert.True(t, config.retained)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(config.payload), &payload))
	assert.Equal(t, "slidebridge/bedroom/set", payload["cmd_t"])
	assert.Equal(t, "slidebridge/bedroom/position/set", payload["set_pos_t"])
	assert.Equal(t, "slidebridge/bedroom/position", payload["pos_t"])
	assert.Equal(t, float64(100), payload["pos_open"])
	assert.Equal(t, float64(0), payload["pos_clsd"])
	assert.Equal(t, "shade", payload["device_class"])

	device := payload["device"].(map[string]interface{})
	assert.Equal(t, "Slide", device["mdl"])
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	v, err := strconv.Atoi(s)
	require.NoError(t, err)
	return v
}
