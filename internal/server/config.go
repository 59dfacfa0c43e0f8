// ABOUTME: Server configuration and YAML config file loading
// ABOUTME: Zero values fall back to the protocol defaults
package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort       = 1918
	DefaultHTTPPort   = 8918
	DefaultMaxClients = 3
	DefaultName       = "timesync"

	// A client refining every few seconds sends well under this
	DefaultMessageRate  = 20.0
	DefaultMessageBurst = 10
)

// Config holds server configuration
type Config struct {
	Name       string `yaml:"name"`
	Port       int    `yaml:"port"`        // TCP protocol port
	HTTPPort   int    `yaml:"http_port"`   // WebSocket and metrics, -1 disables
	MaxClients int    `yaml:"max_clients"` // concurrent sessions
	EnableMDNS bool   `yaml:"mdns"`
	UseTUI     bool   `yaml:"tui"`
	Debug      bool   `yaml:"debug"`

	// Messages per second per session, negative disables the limit
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Name:         DefaultName,
		Port:         DefaultPort,
		HTTPPort:     DefaultHTTPPort,
		MaxClients:   DefaultMaxClients,
		MessageRate:  DefaultMessageRate,
		MessageBurst: DefaultMessageBurst,
		EnableMDNS:   true,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// withDefaults fills zero values
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.MessageRate == 0 {
		c.MessageRate = DefaultMessageRate
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = DefaultMessageBurst
	}
	return c
}
