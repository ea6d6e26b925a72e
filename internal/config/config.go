package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	koanf "github.com/knadh/koanf/v2"
)

// envPrefix selects the environment variables considered for overrides.
// LLDAP_URL, LLDAP_USERNAME and LLDAP_PASSWORD map onto the lldap section.
const envPrefix = "LLDAP_"

type Lldap struct {
	URL               string  `koanf:"url"`
	Username          string  `koanf:"username"`
	Password          string  `koanf:"password"`
	RequestsPerSecond float64 `koanf:"requestsPerSecond"`
}

type Controller struct {
	ResyncInterval    time.Duration `koanf:"resyncInterval"`
	AuthRetryInterval time.Duration `koanf:"authRetryInterval"`
}

type Config struct {
	Lldap      *Lldap      `koanf:"lldap"`
	Controller *Controller `koanf:"controller"`
}

var (
	defaultConfig = Config{
		Lldap: &Lldap{
			URL:               "http://lldap:17170",
			Username:          "admin",
			RequestsPerSecond: 10,
		},
		Controller: &Controller{
			ResyncInterval:    time.Hour,
			AuthRetryInterval: 5 * time.Minute,
		},
	}
)

func GetConfig(configPath string) (*Config, error) {
	k := koanf.New(".")
	parser := yaml.Parser()
	cfg := &Config{}

	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return nil, err
	}

	// The config file is optional; in-cluster deployments may rely on
	// defaults plus environment variables only.
	if err := k.Load(file.Provider(configPath), parser); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
