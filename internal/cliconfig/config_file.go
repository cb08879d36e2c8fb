package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	BrokerURL    string `toml:"broker_url"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTUsername string `toml:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"`

	HeartbeatTopic    string `toml:"heartbeat_topic"`
	CardTopic         string `toml:"card_topic"`
	CardResponseTopic string `toml:"card_response_topic"`
	ShelfTopic        string `toml:"shelf_topic"`

	HeartbeatTimeout string `toml:"heartbeat_timeout"`
	WatchdogInterval string `toml:"watchdog_interval"`
	DispensePacing   string `toml:"dispense_pacing"`
	PublishTimeout   string `toml:"publish_timeout"`

	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`

	TokenURL           string `toml:"token_url"`
	RefreshURL         string `toml:"refresh_url"`
	BalanceURL         string `toml:"balance_url"`
	ConsumptionURL     string `toml:"consumption_url"`
	APIUsername        string `toml:"api_username"`
	APIPassword        string `toml:"api_password"`
	ConsumptionService int    `toml:"consumption_service"`
	HTTPTimeout        string `toml:"http_timeout"`

	LogLevel string `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.kiosk/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".kiosk", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("broker-url", fc.BrokerURL, &cfg.BrokerURL)
	s.setString("mqtt-client-id", fc.MQTTClientID, &cfg.MQTTClientID)
	s.setString("mqtt-username", fc.MQTTUsername, &cfg.MQTTUsername)
	s.setString("mqtt-password", fc.MQTTPassword, &cfg.MQTTPassword)
	s.setString("heartbeat-topic", fc.HeartbeatTopic, &cfg.HeartbeatTopic)
	s.setString("card-topic", fc.CardTopic, &cfg.CardTopic)
	s.setString("card-response-topic", fc.CardResponseTopic, &cfg.CardResponseTopic)
	s.setString("shelf-topic", fc.ShelfTopic, &cfg.ShelfTopic)
	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("db", fc.DBPath, &cfg.DBPath)
	s.setString("token-url", fc.TokenURL, &cfg.TokenURL)
	s.setString("refresh-url", fc.RefreshURL, &cfg.RefreshURL)
	s.setString("balance-url", fc.BalanceURL, &cfg.BalanceURL)
	s.setString("consumption-url", fc.ConsumptionURL, &cfg.ConsumptionURL)
	s.setString("api-username", fc.APIUsername, &cfg.APIUsername)
	s.setString("api-password", fc.APIPassword, &cfg.APIPassword)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("heartbeat-timeout", fc.HeartbeatTimeout, &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watchdog-interval", fc.WatchdogInterval, &cfg.WatchdogInterval); err != nil {
		return err
	}
	if err := s.setDuration("dispense-pacing", fc.DispensePacing, &cfg.DispensePacing); err != nil {
		return err
	}
	if err := s.setDuration("publish-timeout", fc.PublishTimeout, &cfg.PublishTimeout); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("consumption-service", fc.ConsumptionService, &cfg.ConsumptionService)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
