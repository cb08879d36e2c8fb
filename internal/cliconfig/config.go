package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultListenAddr is the default address of the kiosk HTTP API.
const DefaultListenAddr = ":5001"

// Config holds CLI configuration for the kiosk daemon.
type Config struct {
	BrokerURL    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	HeartbeatTopic    string
	CardTopic         string
	CardResponseTopic string
	ShelfTopic        string

	HeartbeatTimeout time.Duration
	WatchdogInterval time.Duration
	DispensePacing   time.Duration
	PublishTimeout   time.Duration

	ListenAddr string
	DBPath     string

	TokenURL           string
	RefreshURL         string
	BalanceURL         string
	ConsumptionURL     string
	APIUsername        string
	APIPassword        string
	ConsumptionService int
	HTTPTimeout        time.Duration

	LogLevel string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BrokerURL:          "tcp://localhost:1883",
		HeartbeatTopic:     "vending/heartbit/+",
		CardTopic:          "card/data",
		CardResponseTopic:  "card/response",
		ShelfTopic:         "vending/shelf/%d",
		HeartbeatTimeout:   30 * time.Second,
		WatchdogInterval:   5 * time.Second,
		DispensePacing:     time.Second,
		PublishTimeout:     10 * time.Second,
		ListenAddr:         DefaultListenAddr,
		DBPath:             "", // Derived from the home directory during Validate
		ConsumptionService: 3,
		HTTPTimeout:        15 * time.Second,
		LogLevel:           "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker-url is required")
	}

	for _, req := range []struct{ flag, value string }{
		{"token-url", c.TokenURL},
		{"refresh-url", c.RefreshURL},
		{"balance-url", c.BalanceURL},
		{"consumption-url", c.ConsumptionURL},
	} {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.flag)
		}
	}

	// The user id and "/balance/" are appended to the balance prefix.
	if !strings.HasSuffix(c.BalanceURL, "/") {
		c.BalanceURL += "/"
	}

	if strings.Count(c.ShelfTopic, "%d") != 1 {
		return fmt.Errorf("shelf-topic must contain exactly one %%d: %q", c.ShelfTopic)
	}

	c.ResolveDBPath()

	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive")
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog interval must be positive")
	}
	if c.DispensePacing < 0 {
		return fmt.Errorf("dispense pacing must not be negative")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive")
	}

	return nil
}

// ResolveDBPath defaults DBPath to ~/.kiosk/kiosk.db.
func (c *Config) ResolveDBPath() {
	if c.DBPath != "" {
		return
	}
	if h, err := os.UserHomeDir(); err == nil {
		c.DBPath = filepath.Join(h, ".kiosk", "kiosk.db")
		return
	}
	c.DBPath = "kiosk.db"
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.MQTTPassword != "" {
		c.MQTTPassword = "*****"
	}
	if c.APIPassword != "" {
		c.APIPassword = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
