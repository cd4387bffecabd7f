// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish mirrors committed FIU relay state to an MQTT broker so
// bench dashboards and test sequencers can follow what the driver does.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/fiuctl/internal/config"
	"github.com/Thermoquad/fiuctl/pkg/driver"
	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// Sentinel errors
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250 // milliseconds
)

// Client is the part of the paho client the publisher uses
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// StateMessage is published for every committed relay change. Channel is 0
// when the change covered the whole module. CBOR payloads use integer keys
// to stay small.
type StateMessage struct {
	Module    int    `json:"module" cbor:"1,keyasint"`
	Channel   int    `json:"channel" cbor:"2,keyasint"`
	State     string `json:"state" cbor:"3,keyasint"`
	Hazardous bool   `json:"hazardous" cbor:"4,keyasint"`
	Timestamp int64  `json:"ts" cbor:"5,keyasint"` // unix milliseconds
}

// SnapshotMessage carries all 24 channel states of a module, as status codes
type SnapshotMessage struct {
	Module    int    `json:"module" cbor:"1,keyasint"`
	States    string `json:"states" cbor:"2,keyasint"`
	Timestamp int64  `json:"ts" cbor:"5,keyasint"`
}

// Publisher publishes driver state changes
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	retain  bool
	encode  func(v any) ([]byte, error)
	logger  *slog.Logger
	timeout time.Duration
}

// Connect connects to the broker in cfg and returns a ready Publisher.
// The broker is told to publish "offline" on the status topic if the
// process dies without closing.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetWill(statusTopic(cfg.TopicPrefix), "offline", 1, true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p, err := New(client, cfg, logger)
	if err != nil {
		client.Disconnect(disconnectQuiesce)
		return nil, err
	}
	if err := p.publish(statusTopic(p.prefix), []byte("online"), true); err != nil {
		p.logger.Warn("publishing online status", "error", err)
	}
	return p, nil
}

// New wraps an existing client
func New(client Client, cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid QoS level %d (must be 0, 1, or 2)", cfg.QoS)
	}

	p := &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     byte(cfg.QoS),
		retain:  cfg.Retained,
		logger:  logger.With("component", "mqtt"),
		timeout: defaultPublishTimeout,
	}
	if p.prefix == "" {
		p.prefix = "fiu"
	}

	switch strings.ToLower(cfg.PayloadFormat) {
	case "", "json":
		p.encode = json.Marshal
	case "cbor":
		p.encode = cbor.Marshal
	default:
		return nil, fmt.Errorf("mqtt: unknown payload format %q", cfg.PayloadFormat)
	}
	return p, nil
}

// ChangeTopic returns the topic a change is published on
func (p *Publisher) ChangeTopic(module, channel int) string {
	if channel == 0 {
		return fmt.Sprintf("%s/module/%d/state", p.prefix, module)
	}
	return fmt.Sprintf("%s/module/%d/channel/%d/state", p.prefix, module, channel)
}

// SnapshotTopic returns the topic module snapshots are published on
func (p *Publisher) SnapshotTopic(module int) string {
	return fmt.Sprintf("%s/module/%d/states", p.prefix, module)
}

func statusTopic(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "fiu"
	}
	return prefix + "/status"
}

// PublishChange publishes one committed state change
func (p *Publisher) PublishChange(c driver.Change) error {
	payload, err := p.encode(StateMessage{
		Module:    c.Module,
		Channel:   c.Channel,
		State:     c.State.String(),
		Hazardous: c.State.IsHazardous(),
		Timestamp: c.Time.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrPublishFailed, err)
	}
	return p.publish(p.ChangeTopic(c.Module, c.Channel), payload, p.retain)
}

// PublishSnapshot publishes all channel states of a module, retained
func (p *Publisher) PublishSnapshot(module int, states [fiu.ChannelsPerModule]fiu.ChannelState) error {
	payload, err := p.encode(SnapshotMessage{
		Module:    module,
		States:    fiu.FormatRelayStates(states),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrPublishFailed, err)
	}
	return p.publish(p.SnapshotTopic(module), payload, true)
}

// Observer returns a driver observer that publishes every change and logs
// failures rather than returning them.
func (p *Publisher) Observer() driver.Observer {
	return func(c driver.Change) {
		if err := p.PublishChange(c); err != nil {
			p.logger.Warn("state change not published", "module", c.Module, "channel", c.Channel, "error", err)
		}
	}
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Close publishes "offline" on the status topic and disconnects
func (p *Publisher) Close() error {
	var err error
	if p.client.IsConnected() {
		err = p.publish(statusTopic(p.prefix), []byte("offline"), true)
	}
	p.client.Disconnect(disconnectQuiesce)
	return err
}
