package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env string `yaml:"env"`

	HTTP struct {
		Addr string `yaml:"addr"` // metrics endpoint, ":7101"
	} `yaml:"http"`

	Gateway struct {
		URL        string `yaml:"url"` // "wss://gateway.example.com/cable"
		Token      string `yaml:"token"`
		OutletType string `yaml:"outlet_type"` // "pharmacy", "restaurant", "lounge"
	} `yaml:"gateway"`

	User struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
		Role  string `yaml:"role"`
	} `yaml:"user"`

	Timeouts struct {
		Dial      time.Duration `yaml:"dial"`
		Reconnect time.Duration `yaml:"reconnect"`
		Load      time.Duration `yaml:"load"`
		Finalize  time.Duration `yaml:"finalize"`
	} `yaml:"timeouts"`
}

// Load supports comma-separated config files: "-c common.yml,chat.yml"
func Load(pathList string) (*Config, error) {
	if strings.TrimSpace(pathList) == "" {
		return nil, errors.New("config path required (e.g. -c ./config.yml or -c common.yml,chat.yml)")
	}
	var c Config
	paths := strings.Split(pathList, ",")
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":7101"
	}
	if c.Gateway.URL == "" {
		return nil, errors.New("gateway.url required")
	}
	if c.Timeouts.Reconnect <= 0 {
		c.Timeouts.Reconnect = 3 * time.Second
	}
	if c.Timeouts.Load <= 0 {
		c.Timeouts.Load = 10 * time.Second
	}
	if c.Timeouts.Finalize <= 0 {
		c.Timeouts.Finalize = 10 * time.Second
	}
	if c.Timeouts.Dial <= 0 {
		c.Timeouts.Dial = 10 * time.Second
	}
	if c.User.Role == "" {
		c.User.Role = "user"
	}
	return &c, nil
}
