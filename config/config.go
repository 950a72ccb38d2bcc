package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRedirectURL = "wss://ynison.music.yandex.ru/redirector.YnisonRedirectService/GetRedirectToYnison"
	DefaultCatalogURL  = "https://api.music.yandex.net"
)

type Config struct {
	ListenAddress string    `json:"listen_address" yaml:"listen_address"`
	Log           Log       `json:"log"            yaml:"log"`
	Ynison        Ynison    `json:"ynison"         yaml:"ynison"`
	Catalog       Catalog   `json:"catalog"        yaml:"catalog"`
	Session       Session   `json:"session"        yaml:"session"`
	Broadcast     Broadcast `json:"broadcast"      yaml:"broadcast"`
}

type Log struct {
	Level  string `json:"level"  yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Ynison struct {
	RedirectURL string `json:"redirect_url" yaml:"redirect_url"`
	Origin      string `json:"origin"       yaml:"origin"`
	UserAgent   string `json:"user_agent"   yaml:"user_agent"`
	UserID      string `json:"user_id"      yaml:"user_id"`
	// InsecureSkipVerify disables TLS certificate validation of the Ynison
	// endpoints. Off unless the operator explicitly turns it on.
	InsecureSkipVerify bool          `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	HandshakeTimeout   time.Duration `json:"handshake_timeout"    yaml:"handshake_timeout"`
	PingInterval       time.Duration `json:"ping_interval"        yaml:"ping_interval"`
	PongTimeout        time.Duration `json:"pong_timeout"         yaml:"pong_timeout"`
	CommandGrace       time.Duration `json:"command_grace"        yaml:"command_grace"`
	Device             Device        `json:"device"               yaml:"device"`
}

// Device describes how the bridge introduces itself to Ynison.
type Device struct {
	AppName    string `json:"app_name"    yaml:"app_name"`
	AppVersion string `json:"app_version" yaml:"app_version"`
	Type       int    `json:"type"        yaml:"type"`
	Title      string `json:"title"       yaml:"title"`
}

type Catalog struct {
	BaseURL        string        `json:"base_url"        yaml:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

type Session struct {
	ReconnectDelay    time.Duration `json:"reconnect_delay"     yaml:"reconnect_delay"`
	StartupTimeout    time.Duration `json:"startup_timeout"     yaml:"startup_timeout"`
	MetadataCacheSize int64         `json:"metadata_cache_size" yaml:"metadata_cache_size"`
	MetadataTTL       time.Duration `json:"metadata_ttl"        yaml:"metadata_ttl"`
}

type Broadcast struct {
	SendTimeout        time.Duration `json:"send_timeout"         yaml:"send_timeout"`
	InitialSendTimeout time.Duration `json:"initial_send_timeout" yaml:"initial_send_timeout"`
}

func Default() Config {
	return Config{
		ListenAddress: ":8000",
		Log: Log{
			Level:  "info",
			Format: "pretty",
		},
		Ynison: Ynison{
			RedirectURL:        DefaultRedirectURL,
			Origin:             "https://music.yandex.ru",
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			UserID:             "0",
			InsecureSkipVerify: false,
			HandshakeTimeout:   20 * time.Second,
			PingInterval:       30 * time.Second,
			PongTimeout:        15 * time.Second,
			CommandGrace:       500 * time.Millisecond,
			Device: Device{
				AppName:    "Desktop",
				AppVersion: "5.79.7",
				Type:       1,
				Title:      "Deck Player",
			},
		},
		Catalog: Catalog{
			BaseURL:        DefaultCatalogURL,
			RequestTimeout: 10 * time.Second,
		},
		Session: Session{
			ReconnectDelay:    5 * time.Second,
			StartupTimeout:    15 * time.Second,
			MetadataCacheSize: 10_000,
			MetadataTTL:       24 * time.Hour,
		},
		Broadcast: Broadcast{
			SendTimeout:        1500 * time.Millisecond,
			InitialSendTimeout: 2 * time.Second,
		},
	}
}

func (cfg *Config) validate() error {
	if cfg.ListenAddress == "" {
		return errors.New("listen address is empty")
	}

	if u, err := url.Parse(cfg.Ynison.RedirectURL); nil != err {
		return fmt.Errorf("invalid ynison redirect url: %v", err)
	} else if u.Scheme != "wss" && u.Scheme != "ws" {
		return fmt.Errorf("ynison redirect url must use ws or wss scheme, got %q", u.Scheme)
	}

	if u, err := url.Parse(cfg.Catalog.BaseURL); nil != err {
		return fmt.Errorf("invalid catalog base url: %v", err)
	} else if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("catalog base url must use http or https scheme, got %q", u.Scheme)
	}

	switch {
	case cfg.Ynison.HandshakeTimeout <= 0:
		return errors.New("ynison handshake timeout must be positive")
	case cfg.Ynison.CommandGrace < 0:
		return errors.New("ynison command grace must not be negative")
	case cfg.Ynison.PongTimeout < 0:
		return errors.New("ynison pong timeout must not be negative")
	case cfg.Session.ReconnectDelay <= 0:
		return errors.New("session reconnect delay must be positive")
	case cfg.Session.MetadataCacheSize <= 0:
		return errors.New("session metadata cache size must be positive")
	case cfg.Broadcast.SendTimeout <= 0:
		return errors.New("broadcast send timeout must be positive")
	}

	if cfg.Ynison.Device.AppName == "" || cfg.Ynison.Device.AppVersion == "" {
		return errors.New("ynison device app name and version are required")
	}

	return nil
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config file %q: %v", filePath, err)
	}

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}

func FromString(data string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(data), &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
