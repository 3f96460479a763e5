package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Supple-build/slidebridge/internal/shutter"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const TopicPrefix = "slidebridge"

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"
)

// commandQueueSize is the number of commands waiting for a busy shutter
// before new ones are dropped.
const commandQueueSize = 16

type Bridge struct {
	mqtt    mqtt.Client
	shutter shutter.Shutter

	StateTopic    string
	PositionTopic string
	TargetTopic   string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string

	commands chan func(ctx context.Context)
	worker   sync.Once
}

func NewBridge(client mqtt.Client, s shutter.Shutter) *Bridge {
	base := fmt.Sprintf("%s/%s", TopicPrefix, s.Name())
	bridge := &Bridge{
		mqtt:                client,
		shutter:             s,
		StateTopic:          base + "/state",
		PositionTopic:       base + "/position",
		TargetTopic:         base + "/target",
		MetadataTopic:       base + "/metadata",
		CommandTopic:        base + "/set",
		PositionChangeTopic: base + "/position/set",
		commands:            make(chan func(ctx context.Context), commandQueueSize),
	}

	s.OnUpdate(bridge.onShutterUpdateHandler())

	return bridge
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.shutter.Name())
	}

	return nil
}

// Publish sends the given snapshot to the state, position and target topics.
// The target is the end-snapped value the shutter reports to every hub.
func (b *Bridge) Publish(snapshot shutter.Snapshot) {
	b.publish(b.StateTopic, snapshot.ShutterState(), "state")
	b.publish(b.PositionTopic, strconv.Itoa(snapshot.Current), "position")
	b.publish(b.TargetTopic, strconv.Itoa(b.shutter.TargetPosition()), "target")
}

func (b *Bridge) publish(topic, payload, what string) {
	if token := b.mqtt.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT %s publish failed: %s", b.shutter.Name(), what, token.Error())
	}
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	b.worker.Do(func() {
		go b.runCommands(ctx)
	})

	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(b.PositionChangeTopic, b.CommandTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.shutter.Name(), token.Error())
		}
	}()

	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler()); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.shutter.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.shutter.Name())
	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler()); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.shutter.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.shutter.Name())

	return nil
}

// runCommands executes queued commands one at a time, off the MQTT
// message router.
func (b *Bridge) runCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.commands:
			cmd(ctx)
		}
	}
}

func (b *Bridge) enqueue(cmd func(ctx context.Context)) {
	select {
	case b.commands <- cmd:
	default:
		logrus.Warnf("%s: MQTT command queue full, command dropped", b.shutter.Name())
	}
}

func (b *Bridge) onShutterUpdateHandler() shutter.ShutterUpdateHandler {
	return func(snapshot shutter.Snapshot) {
		b.Publish(snapshot)
	}
}

func (b *Bridge) onCommandHandler() mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		cmd := strings.TrimSpace(string(msg.Payload()))

		switch strings.ToLower(cmd) {
		case mqttOpenCmd:
			b.enqueue(b.setTargetPosition(shutter.FullOpenPosition))
		case mqttCloseCmd:
			b.enqueue(b.setTargetPosition(shutter.FullClosePosition))
		case mqttStopCmd:
			b.enqueue(func(ctx context.Context) {
				if err := b.shutter.Stop(ctx); err != nil {
					logrus.Error(err)
				}
			})
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.shutter.Name(), cmd)
		}
	}
}

func (b *Bridge) setTargetPosition(position int) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := b.shutter.SetTargetPosition(ctx, position); err != nil {
			logrus.Error(err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler() mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		pos, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logrus.Errorf("%s: MQTT invalid position %q received: %s", b.shutter.Name(), msg.Payload(), err)
			return
		}
		if pos < shutter.FullClosePosition || pos > shutter.FullOpenPosition {
			logrus.Warnf("%s: MQTT position %d out of range, clamping", b.shutter.Name(), pos)
		}
		b.enqueue(b.setTargetPosition(pos))
	}
}
