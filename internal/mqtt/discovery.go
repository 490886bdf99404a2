//go:build !no_mqtt

package mqtt

import "fmt"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/winmaint_desk01/state/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// buildDiscovery describes the run state sensors and the control buttons of
// one node.
func buildDiscovery(prefix, node string) []discoveryMsg {
	base := prefix + "/" + node
	avail := base + "/bridge/state"
	stateTopic := base + "/run/state"
	cmdTopic := base + "/run/set"
	nodeID := "winmaint_" + node

	dev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "winmaint",
		Model:        "maintenance runner",
		Name:         "winmaint " + node,
	}

	sensor := func(obj, name, tmpl, icon string) discoveryMsg {
		return discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, obj),
			Payload: mustJSON(haDiscovery{
				Name:              dev.Name + " " + name,
				UniqueID:          nodeID + "_" + obj,
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     tmpl,
				Icon:              icon,
				Device:            dev,
			}),
		}
	}
	button := func(action, name, icon string) discoveryMsg {
		return discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/button/%s/%s/config", nodeID, action),
			Payload: mustJSON(haDiscovery{
				Name:              dev.Name + " " + name,
				UniqueID:          nodeID + "_" + action,
				CommandTopic:      cmdTopic,
				AvailabilityTopic: avail,
				PayloadPress:      action,
				Icon:              icon,
				Device:            dev,
			}),
		}
	}

	return []discoveryMsg{
		sensor("state", "State", "{{ value_json.state }}", "mdi:progress-wrench"),
		sensor("script", "Current script", "{{ value_json.script }}", "mdi:script-text"),
		sensor("remaining", "Remaining", "{{ value_json.remaining }}", "mdi:timer-sand"),
		{
			Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/hang/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              dev.Name + " Hang pending",
				UniqueID:          nodeID + "_hang",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ 'ON' if value_json.hang_pending else 'OFF' }}",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				Device:            dev,
			}),
		},
		button("pause", "Pause", "mdi:pause"),
		button("resume", "Resume", "mdi:play"),
		button("abort", "Abort", "mdi:stop"),
	}
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.cfg.TopicPrefix, b.cfg.NodeID) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "node", b.cfg.NodeID)
}
