package skitter

import (
	"fmt"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Exit codes per spec §6.
const (
	ExitOK                 = 0
	ExitInvalidConfig      = 64
	ExitClusterJoinFailure = 65
	ExitInternalInvariant  = 70
)

// Config is the environment-driven process configuration every skitter
// node reads at startup (spec §6): mode, network identity, the peer
// authentication cookie, and — depending on mode — the worker list a
// master dials or the tags a worker advertises.
type Config struct {
	Mode     Mode     `mapstructure:"mode"`
	NodeName string   `mapstructure:"nodename"`
	Cookie   string   `mapstructure:"cookie"`
	Workers  []string `mapstructure:"-"`
	Tags     []string `mapstructure:"-"`

	Port        int    `mapstructure:"port"`
	GracePeriod int    `mapstructure:"graceperiod"`
	ConfigFile  string `mapstructure:"-"`
}

// LoadConfig reads SKITTER_* environment variables (and, if cfgFile is
// non-empty or a $HOME/.skitter.yaml exists, that file) the way the
// teacher's cmd/cmd/root.go initConfig wired viper, then decodes into a
// Config via mapstructure the way serve.go decoded fiber/machine keys.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("skitter")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"mode", "nodename", "cookie", "workers", "tags", "port", "graceperiod"} {
		_ = v.BindEnv(key)
	}
	v.SetDefault("mode", string(ModeLocal))
	v.SetDefault("port", 5000)
	v.SetDefault("graceperiod", 10)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".skitter")
	}
	_ = v.ReadInConfig() // config file is optional; environment always wins via AutomaticEnv

	cfg := &Config{ConfigFile: cfgFile}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("skitter: decoding configuration: %w", err)
	}

	cfg.Workers = splitComma(v.GetString("workers"))
	cfg.Tags = splitComma(v.GetString("tags"))

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeMaster, ModeWorker, ModeLocal:
	default:
		return &DefinitionError{Operation: "config", Reason: fmt.Sprintf("SKITTER_MODE must be master, worker, or local, got %q", c.Mode)}
	}

	if c.NodeName == "" {
		return &DefinitionError{Operation: "config", Reason: "SKITTER_NODENAME is required"}
	}

	return nil
}

func splitComma(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
