package calib

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPublishPrefix is the MQTT topic prefix used when none is configured
const DefaultPublishPrefix = "calibcheck"

// Config represents the full configuration file
type Config struct {
	DataDir         string       `yaml:"dataDir" json:"dataDir"`
	CalibrationDir  string       `yaml:"calibrationDir,omitempty" json:"calibrationDir,omitempty"` // defaults to dataDir
	CalibrationFile string       `yaml:"calibrationFile,omitempty" json:"calibrationFile,omitempty"` // path or http(s) URL
	Mode            Mode         `yaml:"mode" json:"mode"`
	MaxImages       int          `yaml:"maxImages" json:"maxImages"`
	ImagePattern    string       `yaml:"imagePattern" json:"imagePattern"`
	Thresholds      Thresholds   `yaml:"thresholds" json:"thresholds"`
	Plot            PlotConfig   `yaml:"plot" json:"plot"`
	Output          OutputConfig `yaml:"output" json:"output"`
	MQTT            MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	HTTP            HTTPConfig   `yaml:"http" json:"http"`
}

// OutputConfig selects where check results are written. Empty paths are skipped.
type OutputConfig struct {
	Report       string `yaml:"report,omitempty" json:"report,omitempty"`
	Format       string `yaml:"format" json:"format"` // text, html or json
	DeltaPlot    string `yaml:"deltaPlot,omitempty" json:"deltaPlot,omitempty"`
	PositionPlot string `yaml:"positionPlot,omitempty" json:"positionPlot,omitempty"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// HTTPConfig holds the service mode HTTP settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// DefaultConfig returns a configuration with every default filled in
func DefaultConfig() *Config {
	c := &Config{
		Thresholds: DefaultThresholds(),
		Plot:       DefaultPlotConfig(),
	}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields. Thresholds and the marker floor are left
// alone since zero is a valid setting for them.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStereo
	}
	if c.MaxImages == 0 {
		c.MaxImages = DefaultMaxImages
	}
	if c.ImagePattern == "" {
		c.ImagePattern = DefaultImagePattern
	}

	def := DefaultPlotConfig()
	if c.Plot.DeltaRange == 0 {
		c.Plot.DeltaRange = def.DeltaRange
	}
	if c.Plot.ImageWidth == 0 {
		c.Plot.ImageWidth = def.ImageWidth
	}
	if c.Plot.ImageHeight == 0 {
		c.Plot.ImageHeight = def.ImageHeight
	}
	if c.Plot.MarkerScale == 0 {
		c.Plot.MarkerScale = def.MarkerScale
	}
	if c.Plot.DPI == 0 {
		c.Plot.DPI = def.DPI
	}

	if c.Output.Format == "" {
		c.Output.Format = FormatText
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = DefaultPublishPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "calibcheck"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
}

// ApplyEnv overrides MQTT settings from MQTT_* environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		c.MQTT.PublishPrefix = v
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("mode must be left, right or stereo, got %q", c.Mode)
	}
	if c.MaxImages < 0 {
		return fmt.Errorf("maxImages must not be negative")
	}
	if c.Thresholds.Good > c.Thresholds.Poor {
		return fmt.Errorf("thresholds.good (%g) must not exceed thresholds.poor (%g)",
			c.Thresholds.Good, c.Thresholds.Poor)
	}
	switch c.Output.Format {
	case FormatText, FormatHTML, FormatJSON:
	default:
		return fmt.Errorf("output.format must be text, html or json, got %q", c.Output.Format)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	return nil
}

// CalibrationDataDir returns the directory the calibration images are read from
func (c *Config) CalibrationDataDir() string {
	if c.CalibrationDir != "" {
		return c.CalibrationDir
	}
	return c.DataDir
}

// CalibrationLocation returns the exported calibration's path or URL
func (c *Config) CalibrationLocation() string {
	if c.CalibrationFile != "" {
		return c.CalibrationFile
	}
	return filepath.Join(c.CalibrationDataDir(), DefaultCalibrationFile)
}

// LoadConfig loads the configuration from a YAML file, applies defaults and
// environment overrides, and validates it
func LoadConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadConfig is LoadConfig without validation, for callers that still
// override fields before validating
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// keys missing from the file keep their defaults
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	config.ApplyEnv()
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
