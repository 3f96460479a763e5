package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/Supple-build/slidebridge/internal/shutter"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`

	Device haDevice `json:"device,omitempty"`
}

type haCover struct {
	haEntity
	StateTopic       string `json:"stat_t"`
	CommandTopic     string `json:"cmd_t"`
	PositionTopic    string `json:"pos_t"`
	SetPositionTopic string `json:"set_pos_t"`
	PositionOpen     int    `json:"pos_open"`
	PositionClosed   int    `json:"pos_clsd"`
	PayloadOpen      string `json:"pl_open"`
	PayloadStop      string `json:"pl_stop"`
	PayloadClose     string `json:"pl_cls"`
	StateOpen        string `json:"stat_open"`
	StateOpening     string `json:"stat_opening"`
	StateClosed      string `json:"stat_clsd"`
	StateClosing     string `json:"stat_closing"`
}

func NewHACoverFromMQTTBridge(bridge *Bridge) haCover {
	name := bridge.shutter.Name()

	return haCover{
		haEntity: haEntity{
			UniqueID:    fmt.Sprintf("%s_%s", TopicPrefix, name),
			Name:        name,
			DeviceClass: "shade",

			Device: haDevice{
				Identifiers:  []string{fmt.Sprintf("%s_%s", TopicPrefix, name)},
				Manufacturer: "Innovation in Motion",
				Model:        "Slide",
				Name:         name,
				SWVersion:    TopicPrefix,
			},
		},
		StateTopic:       bridge.StateTopic,
		CommandTopic:     bridge.CommandTopic,
		PositionTopic:    bridge.PositionTopic,
		SetPositionTopic: bridge.PositionChangeTopic,
		PositionOpen:     shutter.FullOpenPosition,
		PositionClosed:   shutter.FullClosePosition,
		PayloadOpen:      mqttOpenCmd,
		PayloadStop:      mqttStopCmd,
		PayloadClose:     mqttCloseCmd,
		StateOpen:        shutter.ShutterOpenState,
		StateOpening:     shutter.ShutterOpeningState,
		StateClosed:      shutter.ShutterClosedState,
		StateClosing:     shutter.ShutterClosingState,
	}
}

func DiscoveryTopic(homeAssistantDiscoveryTopicPrefix, name string) string {
	return fmt.Sprintf("%s/cover/%s/%s/config", homeAssistantDiscoveryTopicPrefix, TopicPrefix, name)
}

func PublishHAAutoDiscovery(client paho.Client, homeAssistantDiscoveryTopicPrefix string, haCover haCover) error {
	topic := DiscoveryTopic(homeAssistantDiscoveryTopicPrefix, haCover.Name)

	payload, err := json.Marshal(haCover)
	if err != nil {
		return err
	}

	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: home assistant discovery publish failed", haCover.Name)
	}

	return nil
}
