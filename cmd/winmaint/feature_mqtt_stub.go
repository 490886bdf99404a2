//go:build no_mqtt

package main

import (
	"log/slog"

	"winmaint/internal/events"
	"winmaint/internal/runner"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *events.Bus, _ *runner.Supervisor, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
