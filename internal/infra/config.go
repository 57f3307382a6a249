package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the local agent configuration: device identity bootstrap, backend
// endpoints and loop intervals. Values come from the YAML file merged over
// built-in defaults, with environment overrides for development.
type Config struct {
	BackendURL string `yaml:"backend_url" env:"GUARD_BACKEND_URL" env-default:"https://api.guardline.io"`
	PushURL    string `yaml:"push_url" env:"GUARD_PUSH_URL" env-default:"wss://api.guardline.io/ws"`

	// Pairing bootstrap; moved into the encrypted store on first start.
	DeviceID    string `yaml:"device_id" env:"GUARD_DEVICE_ID"`
	DeviceToken string `yaml:"device_token" env:"GUARD_DEVICE_TOKEN"`

	DataDir       string `yaml:"data_dir" env:"GUARD_DATA_DIR" env-default:""`
	CompanionPath string `yaml:"companion_path" env:"GUARD_COMPANION_PATH" env-default:""`

	MonitorInterval    time.Duration `yaml:"monitor_interval" env-default:"5s"`
	EnforceInterval    time.Duration `yaml:"enforce_interval" env-default:"5s"`
	ReportInterval     time.Duration `yaml:"report_interval" env-default:"5m"`
	FetchIntervalShort time.Duration `yaml:"fetch_interval_short" env-default:"30s"`
	FetchIntervalLong  time.Duration `yaml:"fetch_interval_long" env-default:"5m"`
	FlushInterval      time.Duration `yaml:"flush_interval" env-default:"60s"`
	SupervisorInterval time.Duration `yaml:"supervisor_interval" env-default:"5s"`
	VPNScanInterval    time.Duration `yaml:"vpn_scan_interval" env-default:"60s"`

	Logger LoggerConfig `yaml:"logger"`
}

// LoggerConfig controls the rotating file logger.
type LoggerConfig struct {
	Level    string `yaml:"level" env:"GUARD_LOG_LEVEL" env-default:"info"`
	Filename string `yaml:"filename" env:"GUARD_LOG_FILE" env-default:""`
}

// LoadConfig reads the config file merged over defaults. A missing file is
// not an error: defaults plus environment apply.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			cfg.applyDerived()
			return cfg, nil
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	cfg.applyDerived()
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.CompanionPath == "" {
		if exe, err := os.Executable(); err == nil {
			c.CompanionPath = companionSibling(exe)
		}
	}
}

func defaultDataDir() string {
	if pd := os.Getenv("ProgramData"); pd != "" {
		return pd + `\Guardline`
	}
	return "/var/lib/guardline"
}

// companionSibling maps the agent binary path to the helper binary path in
// the same directory.
func companionSibling(agentExe string) string {
	const agent, helper = "guardagent", "guardhelper"
	path := agentExe
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			name := path[i+1:]
			if len(name) >= len(agent) && name[:len(agent)] == agent {
				return path[:i+1] + helper + name[len(agent):]
			}
			break
		}
	}
	return agentExe
}
