package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ledgate/ledgate/internal/device"
	"github.com/ledgate/ledgate/pkg/errors"
)

// Line driver kinds.
const (
	DriverGPIOCdev = "gpiocdev"
	DriverSysfs    = "sysfs"
	DriverSim      = "sim"
)

// Configuration represents the complete daemon configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Device     DeviceConfig     `yaml:"device"`
	Line       LineConfig       `yaml:"line"`
	Namespace  NamespaceConfig  `yaml:"namespace"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global daemon settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// DeviceConfig represents the device identity and buffer sizes
type DeviceConfig struct {
	Name              string `yaml:"name"`
	ClassName         string `yaml:"class_name"`
	Major             uint32 `yaml:"major"`
	Minor             uint32 `yaml:"minor"`
	Count             int    `yaml:"count"`
	CommandBufferSize int    `yaml:"command_buffer_size"`
	MessageCapacity   int    `yaml:"message_capacity"`
}

// LineConfig represents the output line settings
type LineConfig struct {
	// Driver is one of gpiocdev, sysfs or sim.
	Driver string `yaml:"driver"`

	// Chip is the GPIO character device used by the gpiocdev driver.
	Chip string `yaml:"chip"`

	// ID is a line offset or line name for gpiocdev, or an LED name for sysfs.
	ID        string `yaml:"id"`
	Label     string `yaml:"label"`
	InitialOn bool   `yaml:"initial_on"`

	// SysfsRoot is the LED class directory used by the sysfs driver.
	SysfsRoot string `yaml:"sysfs_root"`
}

// NamespaceConfig represents where identities and nodes are published
type NamespaceConfig struct {
	RunDir        string `yaml:"run_dir"`
	MountRoot     string `yaml:"mount_root"`
	DynamicBase   uint32 `yaml:"dynamic_major_base"`
	DynamicLimit  uint32 `yaml:"dynamic_major_limit"`
	FuseDebug     bool   `yaml:"fuse_debug"`
	AllowOther    bool   `yaml:"allow_other"`
	NodeMode      uint32 `yaml:"node_mode"`
	UnmountOnExit bool   `yaml:"unmount_on_exit"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	API          APIConfig          `yaml:"api"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Port         int               `yaml:"port"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health tracking settings
type HealthChecksConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	ErrorThreshold       int           `yaml:"error_threshold"`
	UnavailableThreshold int           `yaml:"unavailable_threshold"`
}

// APIConfig represents the HTTP API settings
type APIConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	EnableCORS  bool   `yaml:"enable_cors"`
	DeviceRoute bool   `yaml:"device_routes"`
}

// NewDefault returns a configuration for the stock board
func NewDefault() *Configuration {
	dev := device.DefaultConfig()
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFile:   "",
			LogFormat: "text",
		},
		Device: DeviceConfig{
			Name:              dev.Name,
			ClassName:         dev.ClassName,
			Major:             0,
			Minor:             dev.Minor,
			Count:             dev.Count,
			CommandBufferSize: dev.CommandBufferSize,
			MessageCapacity:   dev.MessageCapacity,
		},
		Line: LineConfig{
			Driver:    DriverGPIOCdev,
			Chip:      "gpiochip0",
			ID:        dev.LineID,
			Label:     dev.LineLabel,
			InitialOn: false,
			SysfsRoot: "/sys/class/leds",
		},
		Namespace: NamespaceConfig{
			RunDir:        "/run/ledgate",
			MountRoot:     "/run/ledgate/class",
			DynamicBase:   234,
			DynamicLimit:  254,
			NodeMode:      0666,
			UnmountOnExit: true,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Port:      9108,
				Path:      "/metrics",
				Namespace: "ledgate",
				CustomLabels: map[string]string{
					"service": "ledgate",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:              true,
				Interval:             30 * time.Second,
				ErrorThreshold:       3,
				UnavailableThreshold: 10,
			},
			API: APIConfig{
				Enabled:     true,
				Address:     "127.0.0.1:8108",
				DeviceRoute: true,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	return nil
}

// LoadFromEnv applies LEDGATE_* environment overrides
func (c *Configuration) LoadFromEnv() error {
	var problems []string

	str := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv(name); val != "" {
			*dst = strings.ToLower(val) == "true" || val == "1"
		}
	}
	integer := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not an integer", name, val))
				return
			}
			*dst = n
		}
	}
	unsigned := func(name string, dst *uint32) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not an unsigned integer", name, val))
				return
			}
			*dst = uint32(n)
		}
	}

	// Global settings
	str("LEDGATE_LOG_LEVEL", &c.Global.LogLevel)
	str("LEDGATE_LOG_FILE", &c.Global.LogFile)
	str("LEDGATE_LOG_FORMAT", &c.Global.LogFormat)

	// Device settings
	str("LEDGATE_DEVICE_NAME", &c.Device.Name)
	str("LEDGATE_CLASS_NAME", &c.Device.ClassName)
	unsigned("LEDGATE_MAJOR", &c.Device.Major)
	unsigned("LEDGATE_MINOR", &c.Device.Minor)

	// Line settings
	str("LEDGATE_LINE_DRIVER", &c.Line.Driver)
	str("LEDGATE_LINE_CHIP", &c.Line.Chip)
	str("LEDGATE_LINE_ID", &c.Line.ID)
	str("LEDGATE_LINE_LABEL", &c.Line.Label)
	boolean("LEDGATE_LINE_INITIAL_ON", &c.Line.InitialOn)

	// Namespace settings
	str("LEDGATE_RUN_DIR", &c.Namespace.RunDir)
	str("LEDGATE_MOUNT_ROOT", &c.Namespace.MountRoot)
	boolean("LEDGATE_FUSE_DEBUG", &c.Namespace.FuseDebug)

	// Monitoring settings
	boolean("LEDGATE_METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	integer("LEDGATE_METRICS_PORT", &c.Monitoring.Metrics.Port)
	boolean("LEDGATE_API_ENABLED", &c.Monitoring.API.Enabled)
	str("LEDGATE_API_ADDRESS", &c.Monitoring.API.Address)

	if len(problems) > 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "invalid environment overrides").
			WithComponent("config").
			WithDetail("problems", problems)
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validationErr := func(format string, args ...interface{}) error {
		return errors.NewError(errors.ErrCodeConfigValidation, fmt.Sprintf(format, args...)).
			WithComponent("config")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return validationErr("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Line.Driver {
	case DriverGPIOCdev:
		if c.Line.Chip == "" {
			return validationErr("line.chip is required for the %s driver", DriverGPIOCdev)
		}
	case DriverSysfs:
		if c.Line.SysfsRoot == "" {
			return validationErr("line.sysfs_root is required for the %s driver", DriverSysfs)
		}
	case DriverSim:
	default:
		return validationErr("invalid line.driver: %s (must be one of: %s, %s, %s)",
			c.Line.Driver, DriverGPIOCdev, DriverSysfs, DriverSim)
	}

	if c.Namespace.RunDir == "" {
		return validationErr("namespace.run_dir is required")
	}
	if c.Namespace.MountRoot == "" {
		return validationErr("namespace.mount_root is required")
	}
	if c.Device.Major == 0 && c.Namespace.DynamicBase > c.Namespace.DynamicLimit {
		return validationErr("dynamic_major_base %d is above dynamic_major_limit %d",
			c.Namespace.DynamicBase, c.Namespace.DynamicLimit)
	}
	if c.Device.Major == 0 && c.Namespace.DynamicBase == 0 {
		return validationErr("dynamic_major_base must be greater than 0")
	}

	if c.Monitoring.Metrics.Enabled {
		if c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535 {
			return validationErr("invalid metrics port: %d", c.Monitoring.Metrics.Port)
		}
		if !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
			return validationErr("metrics path must start with /: %q", c.Monitoring.Metrics.Path)
		}
	}
	if c.Monitoring.API.Enabled && c.Monitoring.API.Address == "" {
		return validationErr("monitoring.api.address is required when the API is enabled")
	}

	return c.ControllerConfig().Validate()
}

// ControllerConfig derives the device controller settings
func (c *Configuration) ControllerConfig() device.Config {
	return device.Config{
		Name:              c.Device.Name,
		ClassName:         c.Device.ClassName,
		Major:             c.Device.Major,
		Minor:             c.Device.Minor,
		Count:             c.Device.Count,
		LineID:            c.Line.ID,
		LineLabel:         c.Line.Label,
		InitialOn:         c.Line.InitialOn,
		CommandBufferSize: c.Device.CommandBufferSize,
		MessageCapacity:   c.Device.MessageCapacity,
	}
}

// Load builds a configuration from defaults, an optional file and the
// environment, then validates it.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
