package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// SOLMINER_CONTROL_POLL_INTERVAL_SECONDS.
	EnvPrefix = "solminer"

	// ConfigFileEnvVar names a config file when --config is not given.
	ConfigFileEnvVar = "CONFIG_FILE"
)

// Config is the complete solminer configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	Control   ControlConfig   `mapstructure:"control" yaml:"control"`
	Devices   []DeviceConfig  `mapstructure:"devices" yaml:"devices"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-" yaml:"-"`
}

type ControlConfig struct {
	PollIntervalSeconds    int                `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	CurtailIntervalSeconds int                `mapstructure:"curtail_interval_seconds" yaml:"curtail_interval_seconds"`
	TemperatureThresholdC  float64            `mapstructure:"temperature_threshold_c" yaml:"temperature_threshold_c"`
	TemperatureHysteresisC float64            `mapstructure:"temperature_hysteresis_c" yaml:"temperature_hysteresis_c"`
	MaxSolarPowerW         float64            `mapstructure:"max_solar_power_w" yaml:"max_solar_power_w"`
	ToleranceW             float64            `mapstructure:"tolerance_w" yaml:"tolerance_w"`
	Strategy               string             `mapstructure:"strategy" yaml:"strategy"`
	DefaultProfile         string             `mapstructure:"default_profile" yaml:"default_profile"`
	MaxConcurrency         int                `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	ConnectTimeoutSeconds  int                `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds     int                `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int                `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	SolarCurve             []solar.Breakpoint `mapstructure:"solar_curve" yaml:"solar_curve,omitempty"`
}

// CredentialConfig is one username/password pair. Separators limits the
// logon formats tried; empty means comma, colon and pipe.
type CredentialConfig struct {
	Username   string   `mapstructure:"username" yaml:"username"`
	Password   string   `mapstructure:"password" yaml:"password"`
	Separators []string `mapstructure:"separators" yaml:"separators,omitempty"`
}

type DeviceConfig struct {
	ID                  string             `mapstructure:"id" yaml:"id"`
	Host                string             `mapstructure:"host" yaml:"host"`
	SocketPort          int                `mapstructure:"socket_port" yaml:"socket_port,omitempty"`
	HTTPBaseURLs        []string           `mapstructure:"http_base_urls" yaml:"http_base_urls,omitempty"`
	APIPaths            []string           `mapstructure:"api_paths" yaml:"api_paths,omitempty"`
	Credentials         []CredentialConfig `mapstructure:"credentials" yaml:"credentials,omitempty"`
	RatedPowerW         float64            `mapstructure:"rated_power_w" yaml:"rated_power_w,omitempty"`
	Boards              int                `mapstructure:"boards" yaml:"boards,omitempty"`
	MinBoards           int                `mapstructure:"min_boards" yaml:"min_boards,omitempty"`
	FrequencyMHz        int                `mapstructure:"frequency_mhz" yaml:"frequency_mhz,omitempty"`
	TempProtection      *bool              `mapstructure:"temp_protection" yaml:"temp_protection,omitempty"`
	AutoPowerManagement *bool              `mapstructure:"auto_power_management" yaml:"auto_power_management,omitempty"`
	SolarMode           string             `mapstructure:"solar_mode" yaml:"solar_mode,omitempty"`
	SolarWatts          float64            `mapstructure:"solar_watts" yaml:"solar_watts,omitempty"`
	MaxSolarPowerW      float64            `mapstructure:"max_solar_power_w" yaml:"max_solar_power_w,omitempty"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	HTTPLog bool   `mapstructure:"http_log" yaml:"http_log"`
}

type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Username  string `mapstructure:"username" yaml:"username,omitempty"`
	Password  string `mapstructure:"password" yaml:"password,omitempty"`
	BaseTopic string `mapstructure:"base_topic" yaml:"base_topic"`
	ClientID  string `mapstructure:"client_id" yaml:"client_id,omitempty"`
}

type DiscoveryConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	ServiceType    string `mapstructure:"service_type" yaml:"service_type"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("control.poll_interval_seconds", 30)
	v.SetDefault("control.curtail_interval_seconds", 600)
	v.SetDefault("control.temperature_threshold_c", 75)
	v.SetDefault("control.temperature_hysteresis_c", 5)
	v.SetDefault("control.max_solar_power_w", solar.DefaultMaxPowerW)
	v.SetDefault("control.tolerance_w", 100)
	v.SetDefault("control.strategy", string(control.StrategyProfileFirst))
	v.SetDefault("control.default_profile", "balanced")
	v.SetDefault("control.max_concurrency", 4)
	v.SetDefault("control.connect_timeout_seconds", 3)
	v.SetDefault("control.read_timeout_seconds", 10)
	v.SetDefault("control.shutdown_timeout_seconds", 10)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.http_log", false)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "solminer")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("discovery.timeout_seconds", 10)
	v.SetDefault("discovery.service_type", "_http._tcp")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults alone always decode
	_ = v.Unmarshal(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// Load reads configuration from path, then CONFIG_FILE, then the default
// config path if that file exists. SOLMINER_* environment variables override
// file values. With no file at all the defaults are returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}
	if path == "" {
		if p, err := GetConfigPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if ext := filepath.Ext(path); ext == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Path = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills per-device values viper cannot default inside lists.
func (c *Config) applyDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			d.ID = d.Host
		}
		if d.SocketPort == 0 {
			d.SocketPort = 4028
		}
		if d.RatedPowerW == 0 {
			d.RatedPowerW = control.DefaultRatedPowerW
		}
		if d.Boards == 0 {
			d.Boards = control.DefaultBoards
		}
		if d.MaxSolarPowerW == 0 {
			d.MaxSolarPowerW = c.Control.MaxSolarPowerW
		}
	}
	c.MQTT.BaseTopic = strings.ToLower(c.MQTT.BaseTopic)
}

var baseTopicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

// CheckMQTTTopic lowers baseTopic and checks it only holds letters, digits
// and underscores.
func CheckMQTTTopic(baseTopic string) (string, error) {
	lower := strings.ToLower(baseTopic)
	if !baseTopicRegexp.MatchString(lower) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lower, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	ctl := c.Control

	if ctl.PollIntervalSeconds <= 0 {
		errs = append(errs, errors.New("control.poll_interval_seconds must be > 0"))
	}
	if ctl.CurtailIntervalSeconds <= 0 {
		errs = append(errs, errors.New("control.curtail_interval_seconds must be > 0"))
	} else if ctl.CurtailIntervalSeconds < ctl.PollIntervalSeconds {
		errs = append(errs, errors.New("control.curtail_interval_seconds must be >= control.poll_interval_seconds"))
	}
	if ctl.TemperatureThresholdC <= 0 {
		errs = append(errs, errors.New("control.temperature_threshold_c must be > 0"))
	}
	if ctl.TemperatureHysteresisC < 0 || ctl.TemperatureHysteresisC >= ctl.TemperatureThresholdC {
		errs = append(errs, errors.New("control.temperature_hysteresis_c must be >= 0 and below the threshold"))
	}
	if ctl.MaxSolarPowerW < 0 {
		errs = append(errs, errors.New("control.max_solar_power_w must be >= 0"))
	}
	if ctl.ToleranceW < 0 {
		errs = append(errs, errors.New("control.tolerance_w must be >= 0"))
	}
	if _, err := control.ParseStrategy(ctl.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("control.strategy: %w", err))
	}
	if _, err := miner.ParseProfile(ctl.DefaultProfile); err != nil {
		errs = append(errs, fmt.Errorf("control.default_profile: %w", err))
	}
	if ctl.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("control.max_concurrency must be > 0"))
	}
	if ctl.ConnectTimeoutSeconds <= 0 || ctl.ReadTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("control connect and read timeouts must be > 0"))
	}
	if len(ctl.SolarCurve) > 0 {
		if _, err := solar.NewCurve(ctl.SolarCurve, nil); err != nil {
			errs = append(errs, fmt.Errorf("control.solar_curve: %w", err))
		}
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		label := fmt.Sprintf("devices[%d]", i)
		if d.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required", label))
		}
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", label))
		} else if seen[d.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", label, d.ID))
		}
		seen[d.ID] = true

		if d.SocketPort < 1 || d.SocketPort > 65535 {
			errs = append(errs, fmt.Errorf("%s: socket_port %d out of range", label, d.SocketPort))
		}
		if d.MinBoards < 0 || d.MinBoards > d.Boards {
			errs = append(errs, fmt.Errorf("%s: min_boards must be between 0 and boards (%d)", label, d.Boards))
		}
		if d.FrequencyMHz < 0 || d.FrequencyMHz > miner.MaxFrequencyMHz {
			errs = append(errs, fmt.Errorf("%s: frequency_mhz out of range (0-%d)", label, miner.MaxFrequencyMHz))
		}
		if _, err := solar.ParseMode(d.SolarMode); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		for j, cred := range d.Credentials {
			for _, s := range cred.Separators {
				if _, err := miner.ParseSeparator(s); err != nil {
					errs = append(errs, fmt.Errorf("%s.credentials[%d]: %w", label, j, err))
				}
			}
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.host is required when mqtt is enabled"))
		}
		if _, err := CheckMQTTTopic(c.MQTT.BaseTopic); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.base_topic: %w", err))
		}
	}
	if c.Discovery.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("discovery.timeout_seconds must be > 0"))
	}

	return errors.Join(errs...)
}

// Device returns the device with the given id.
func (c *Config) Device(id string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Timeouts returns the socket connect and read timeouts.
func (c *Config) Timeouts() (connect, read time.Duration) {
	return seconds(c.Control.ConnectTimeoutSeconds), seconds(c.Control.ReadTimeoutSeconds)
}

// Settings builds the coordinator settings. Call after Validate.
func (c *Config) Settings() control.Settings {
	ctl := c.Control
	s := control.DefaultSettings()
	s.PollInterval = seconds(ctl.PollIntervalSeconds)
	s.CurtailInterval = seconds(ctl.CurtailIntervalSeconds)
	s.ThresholdC = ctl.TemperatureThresholdC
	s.HysteresisC = ctl.TemperatureHysteresisC
	s.ToleranceW = ctl.ToleranceW
	s.MaxConcurrency = ctl.MaxConcurrency
	s.ShutdownTimeout = seconds(ctl.ShutdownTimeoutSeconds)
	s.DeviceTimeout = 6 * seconds(ctl.ConnectTimeoutSeconds+ctl.ReadTimeoutSeconds)

	if strategy, err := control.ParseStrategy(ctl.Strategy); err == nil {
		s.Strategy = strategy
	}
	if p, err := miner.ParseProfile(ctl.DefaultProfile); err == nil {
		s.DefaultProfile = p
	}
	if len(ctl.SolarCurve) > 0 {
		if curve, err := solar.NewCurve(ctl.SolarCurve, nil); err == nil {
			s.Curve = curve
		}
	}
	return s
}

// Endpoint builds the miner endpoint. Unset lists fall back to the miner
// package defaults when the client is created.
func (d DeviceConfig) Endpoint() miner.DeviceEndpoint {
	ep := miner.DeviceEndpoint{
		ID:         d.ID,
		Host:       d.Host,
		SocketPort: d.SocketPort,
		BaseURLs:   append([]string(nil), d.HTTPBaseURLs...),
		APIPaths:   append([]string(nil), d.APIPaths...),
	}
	for _, cred := range d.Credentials {
		var seps []miner.Separator
		for _, s := range cred.Separators {
			if sep, err := miner.ParseSeparator(s); err == nil {
				seps = append(seps, sep)
			}
		}
		ep.Credentials = append(ep.Credentials, miner.Expand(cred.Username, cred.Password, seps...)...)
	}
	return ep
}

// NewClient creates the device client with the configured timeouts.
func (c *Config) NewClient(d DeviceConfig) *miner.DeviceClient {
	client := miner.NewDeviceClient(d.Endpoint())
	client.SetTimeouts(c.Timeouts())
	return client
}

// DeviceSettings builds the coordinator's per-device settings.
func (d DeviceConfig) DeviceSettings() control.DeviceSettings {
	s := control.DefaultDeviceSettings()
	s.RatedPowerW = d.RatedPowerW
	s.Boards = d.Boards
	s.MinBoards = d.MinBoards
	s.FrequencyMHz = d.FrequencyMHz
	if d.TempProtection != nil {
		s.TempProtection = *d.TempProtection
	}
	if d.AutoPowerManagement != nil {
		s.AutoPowerManagement = *d.AutoPowerManagement
	}

	mode, _ := solar.ParseMode(d.SolarMode)
	if mode == solar.ModeManual {
		s.Solar = solar.ManualInput(d.SolarWatts)
	} else {
		s.Solar = solar.CurveInput(d.MaxSolarPowerW)
	}
	return s
}

// Redacted returns a copy with secrets masked, for printing.
func (c Config) Redacted() Config {
	if c.MQTT.Password != "" {
		c.MQTT.Password = "*redacted*"
	}
	devices := make([]DeviceConfig, len(c.Devices))
	for i, d := range c.Devices {
		creds := make([]CredentialConfig, len(d.Credentials))
		for j, cred := range d.Credentials {
			if cred.Password != "" {
				cred.Password = "*redacted*"
			}
			creds[j] = cred
		}
		d.Credentials = creds
		devices[i] = d
	}
	c.Devices = devices
	return c
}
