// Package config loads the broker's YAML configuration, generalizing the
// teacher's two-field cmd/goqtt/main.go Config into the full schema of
// spec.md §6: listeners, session/flow-control defaults, broker-side
// subscriptions, topic rewrites, and the plugin chain.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
	ProtocolWS  Protocol = "ws"
	ProtocolWSS Protocol = "wss"
)

type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Listener struct {
	Protocol Protocol   `yaml:"protocol"`
	Addr     string     `yaml:"addr"`
	TLS      *TLSConfig `yaml:"tls,omitempty"`
}

type Rewrite struct {
	Pattern string `yaml:"pattern"`
	Write   string `yaml:"write"`
}

// Subscription is a broker-side always-on subscription, used to exercise
// rewrite/forwarding behavior without a connected client.
type Subscription struct {
	Filter string `yaml:"filter"`
	QoS    byte   `yaml:"qos"`
}

// Plugin is one entry of the ordered plugin chain. Type selects the
// implementation (e.g. "sqlauth"); Options is implementation-specific and
// left as a raw map for the plugin's own loader to interpret.
type Plugin struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

type Store struct {
	Driver string `yaml:"driver"` // "memory" | "sqlite"
	DSN    string `yaml:"dsn"`
}

type Config struct {
	Name      string     `yaml:"name"`
	Version   string     `yaml:"version"`
	Listeners []Listener `yaml:"listeners"`

	KeepaliveMax     uint16 `yaml:"keepalive_max"`
	SessionExpiryMax uint32 `yaml:"session_expiry_max"`
	ReceiveMaximum   uint16 `yaml:"receive_maximum"`
	TopicAliasMax    uint16 `yaml:"topic_alias_max"`
	MaxPacketSize    uint32 `yaml:"max_packet_size"`

	Subscriptions []Subscription `yaml:"subscriptions"`
	Rewrites      []Rewrite      `yaml:"rewrites"`
	Plugins       []Plugin       `yaml:"plugins"`

	SysTopicInterval time.Duration `yaml:"sys_topic_interval"`

	Store Store `yaml:"store"`
}

func defaults() Config {
	return Config{
		KeepaliveMax:     30,
		ReceiveMaximum:   32,
		TopicAliasMax:    32,
		SysTopicInterval: 10 * time.Second,
		Store:            Store{Driver: "memory"},
	}
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("config: at least one listener is required")
	}
	for i, l := range c.Listeners {
		switch l.Protocol {
		case ProtocolTCP, ProtocolTLS, ProtocolWS, ProtocolWSS:
		default:
			return fmt.Errorf("config: listener %d: unknown protocol %q", i, l.Protocol)
		}
		if (l.Protocol == ProtocolTLS || l.Protocol == ProtocolWSS) && l.TLS == nil {
			return fmt.Errorf("config: listener %d: protocol %q requires tls.cert/tls.key", i, l.Protocol)
		}
		if l.Addr == "" {
			return fmt.Errorf("config: listener %d: addr is required", i)
		}
	}
	for i, r := range c.Rewrites {
		if r.Pattern == "" {
			return fmt.Errorf("config: rewrite %d: pattern is required", i)
		}
	}
	return nil
}
