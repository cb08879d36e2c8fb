package cliconfig

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envConfig holds raw KIOSK_* values. Durations stay strings so that an
// unset variable can be told apart from an explicit "0s".
type envConfig struct {
	BrokerURL    string `env:"KIOSK_BROKER_URL"`
	MQTTClientID string `env:"KIOSK_MQTT_CLIENT_ID"`
	MQTTUsername string `env:"KIOSK_MQTT_USERNAME"`
	MQTTPassword string `env:"KIOSK_MQTT_PASSWORD"`

	HeartbeatTopic    string `env:"KIOSK_HEARTBEAT_TOPIC"`
	CardTopic         string `env:"KIOSK_CARD_TOPIC"`
	CardResponseTopic string `env:"KIOSK_CARD_RESPONSE_TOPIC"`
	ShelfTopic        string `env:"KIOSK_SHELF_TOPIC"`

	HeartbeatTimeout string `env:"KIOSK_HEARTBEAT_TIMEOUT"`
	WatchdogInterval string `env:"KIOSK_WATCHDOG_INTERVAL"`
	DispensePacing   string `env:"KIOSK_DISPENSE_PACING"`
	PublishTimeout   string `env:"KIOSK_PUBLISH_TIMEOUT"`

	ListenAddr string `env:"KIOSK_LISTEN_ADDR"`
	DBPath     string `env:"KIOSK_DB_PATH"`

	TokenURL           string `env:"KIOSK_TOKEN_URL"`
	RefreshURL         string `env:"KIOSK_REFRESH_URL"`
	BalanceURL         string `env:"KIOSK_BALANCE_URL"`
	ConsumptionURL     string `env:"KIOSK_CONSUMPTION_URL"`
	APIUsername        string `env:"KIOSK_API_USERNAME"`
	APIPassword        string `env:"KIOSK_API_PASSWORD"`
	ConsumptionService int    `env:"KIOSK_CONSUMPTION_SERVICE"`
	HTTPTimeout        string `env:"KIOSK_HTTP_TIMEOUT"`

	LogLevel string `env:"KIOSK_LOG_LEVEL"`
}

// ApplyEnvConfig applies configuration from environment variables (KIOSK_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	return ApplyFileConfig(cfg, FileConfig{
		BrokerURL:          raw.BrokerURL,
		MQTTClientID:       raw.MQTTClientID,
		MQTTUsername:       raw.MQTTUsername,
		MQTTPassword:       raw.MQTTPassword,
		HeartbeatTopic:     raw.HeartbeatTopic,
		CardTopic:          raw.CardTopic,
		CardResponseTopic:  raw.CardResponseTopic,
		ShelfTopic:         raw.ShelfTopic,
		HeartbeatTimeout:   raw.HeartbeatTimeout,
		WatchdogInterval:   raw.WatchdogInterval,
		DispensePacing:     raw.DispensePacing,
		PublishTimeout:     raw.PublishTimeout,
		ListenAddr:         raw.ListenAddr,
		DBPath:             raw.DBPath,
		TokenURL:           raw.TokenURL,
		RefreshURL:         raw.RefreshURL,
		BalanceURL:         raw.BalanceURL,
		ConsumptionURL:     raw.ConsumptionURL,
		APIUsername:        raw.APIUsername,
		APIPassword:        raw.APIPassword,
		ConsumptionService: raw.ConsumptionService,
		HTTPTimeout:        raw.HTTPTimeout,
		LogLevel:           raw.LogLevel,
	}, changed)
}
