// Package config turns the embedded per-device JSON blob into retained bus
// state. Each top-level key of the blob becomes one retained message on
// config/<section>, so a service subscribes to its own section and sees it
// whether it started before or after the publisher.
package config

import (
	"context"
	"errors"

	"magnode-go/bus"

	"github.com/andreyvit/tinyjson"
)

// CtxDeviceKey names the context value carrying the device identity that
// selects which embedded blob to publish.
const CtxDeviceKey = "device"

const sectionPrefix = "config"

// EmbeddedConfigLookup resolves a device name to its raw JSON blob. Tests
// and host tools swap it to inject fixtures.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	raw, ok := embeddedConfigs[device]
	return raw, ok
}

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: "config"}
}

// Start publishes the device's config sections in the background. Retained
// delivery makes start order relative to the consuming services irrelevant.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() { _ = s.publish(ctx, conn) }()
}

func (s *ConfigService) publish(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("config: no device in context")
	}
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("config: no embedded blob for " + device)
	}
	sections, err := splitSections(raw)
	if err != nil {
		return err
	}
	for name, payload := range sections {
		conn.Publish(conn.NewMessage(bus.T(sectionPrefix, name), payload, true))
	}
	return nil
}

// splitSections parses the blob and hands back its top-level object keyed by
// section name. tinyjson keeps this off the fmt/encoding-json path, which
// matters for the firmware image size.
func splitSections(raw []byte) (map[string]any, error) {
	r := tinyjson.Raw(raw)
	v := r.Value()
	r.EnsureEOF()
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("config: blob is not a JSON object")
	}
	return obj, nil
}
