package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every key when reading overrides from the environment,
// e.g. TILT_MQTT_BROKER overrides MQTT_BROKER.
const EnvPrefix = "TILT_"

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string `env:"MQTT_BROKER"`
	MQTTClientIDArena   string `env:"MQTT_CLIENT_ID_ARENA"`
	MQTTClientIDConsole string `env:"MQTT_CLIENT_ID_CONSOLE"`
	MQTTClientIDWeb     string `env:"MQTT_CLIENT_ID_WEB"`
	MQTTClientIDDisplay string `env:"MQTT_CLIENT_ID_DISPLAY"`

	// Topics
	TopicRaw       string `env:"TOPIC_RAW"`
	TopicBall      string `env:"TOPIC_BALL"`
	TopicCollision string `env:"TOPIC_COLLISION"`
	TopicHaptic    string `env:"TOPIC_HAPTIC"`
	TopicCommand   string `env:"TOPIC_COMMAND"`

	// Sensor
	SensorSource     string  `env:"SENSOR_SOURCE"` // "mock", "mpu9250", "serial"
	IMUSPIDevice     string  `env:"IMU_SPI_DEVICE"`
	IMUCSPin         string  `env:"IMU_CS_PIN"`
	IMUAccelLSBPerG  float64 `env:"IMU_ACCEL_LSB_PER_G"` // 16384 at ±2g
	SerialPort       string  `env:"SERIAL_PORT"`
	SerialBaudRate   int     `env:"SERIAL_BAUD_RATE"`
	SampleInterval   int     `env:"SAMPLE_INTERVAL"`    // milliseconds
	SensorFailureRun int     `env:"SENSOR_FAILURE_RUN"` // consecutive read errors before reporting unavailable
	MockSeed         int64   `env:"MOCK_SEED"`

	// Motion pipeline
	ArenaRadius        float64 `env:"ARENA_RADIUS"`
	SmoothingAlpha     float64 `env:"SMOOTHING_ALPHA"`
	Sensitivity        float64 `env:"SENSITIVITY"`
	CalibrationSamples int     `env:"CALIBRATION_SAMPLES"`

	// Settings store
	SettingsDB string `env:"SETTINGS_DB"`

	// Feedback
	HapticGPIOPin    string  `env:"HAPTIC_GPIO_PIN"` // empty: publish buzz over MQTT instead
	HapticDurationMS int     `env:"HAPTIC_DURATION_MS"`
	HapticIntensity  float64 `env:"HAPTIC_INTENSITY"`
	AudioEnabled     bool    `env:"AUDIO_ENABLED"`
	AudioSampleRate  int     `env:"AUDIO_SAMPLE_RATE"`

	// Timing
	ConsoleLogInterval int `env:"CONSOLE_LOG_INTERVAL"` // milliseconds

	// Web Server
	WebServerPort int    `env:"WEB_SERVER_PORT"`
	WebStaticDir  string `env:"WEB_STATIC_DIR"`

	// Display
	DisplayUpdateInterval int `env:"DISPLAY_UPDATE_INTERVAL"` // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
//
// Only the command layer uses the singleton; components take the values they need
// as arguments.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDArena:   "tilt-arena-producer",
		MQTTClientIDConsole: "tilt-arena-console",
		MQTTClientIDWeb:     "tilt-arena-web",
		MQTTClientIDDisplay: "tilt-arena-display",

		TopicRaw:       "arena/imu/raw",
		TopicBall:      "arena/ball",
		TopicCollision: "arena/collision",
		TopicHaptic:    "arena/haptic",
		TopicCommand:   "arena/cmd",

		SensorSource:     "mock",
		IMUSPIDevice:     "/dev/spidev0.0",
		IMUCSPin:         "8",
		IMUAccelLSBPerG:  16384,
		SerialPort:       "/dev/ttyUSB0",
		SerialBaudRate:   115200,
		SampleInterval:   20,
		SensorFailureRun: 10,
		MockSeed:         1,

		ArenaRadius:        100,
		SmoothingAlpha:     0.2,
		Sensitivity:        2,
		CalibrationSamples: 25,

		SettingsDB: "tilt_arena.db",

		HapticDurationMS: 40,
		HapticIntensity:  1,
		AudioEnabled:     true,
		AudioSampleRate:  44100,

		ConsoleLogInterval: 1000,

		WebServerPort: 8080,
		WebStaticDir:  "web",

		DisplayUpdateInterval: 200,
	}
}

// Load reads the configuration file on top of Default, applies TILT_* environment
// overrides and validates the result.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_ARENA":
		c.MQTTClientIDArena = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_RAW":
		c.TopicRaw = value
	case "TOPIC_BALL":
		c.TopicBall = value
	case "TOPIC_COLLISION":
		c.TopicCollision = value
	case "TOPIC_HAPTIC":
		c.TopicHaptic = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Sensor
	case "SENSOR_SOURCE":
		c.SensorSource = value
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_LSB_PER_G":
		c.IMUAccelLSBPerG, err = parseFloat(key, value)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value)
	case "SAMPLE_INTERVAL":
		c.SampleInterval, err = parseInt(key, value)
	case "SENSOR_FAILURE_RUN":
		c.SensorFailureRun, err = parseInt(key, value)
	case "MOCK_SEED":
		c.MockSeed, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid MOCK_SEED %q: %w", value, err)
		}

	// Motion pipeline
	case "ARENA_RADIUS":
		c.ArenaRadius, err = parseFloat(key, value)
	case "SMOOTHING_ALPHA":
		c.SmoothingAlpha, err = parseFloat(key, value)
	case "SENSITIVITY":
		c.Sensitivity, err = parseFloat(key, value)
	case "CALIBRATION_SAMPLES":
		c.CalibrationSamples, err = parseInt(key, value)

	// Settings store
	case "SETTINGS_DB":
		c.SettingsDB = value

	// Feedback
	case "HAPTIC_GPIO_PIN":
		c.HapticGPIOPin = value
	case "HAPTIC_DURATION_MS":
		c.HapticDurationMS, err = parseInt(key, value)
	case "HAPTIC_INTENSITY":
		c.HapticIntensity, err = parseFloat(key, value)
	case "AUDIO_ENABLED":
		c.AudioEnabled, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid AUDIO_ENABLED %q: %w", value, err)
		}
	case "AUDIO_SAMPLE_RATE":
		c.AudioSampleRate, err = parseInt(key, value)

	// Timing
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// intRange is an inclusive bound on an integer key.
type intRange struct {
	key    string
	v      int
	lo, hi int
}

// validate checks that required fields are set and every value is in range.
// It runs after the environment overrides, so it covers both sources.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.SensorSource {
	case "mock", "mpu9250", "serial":
	default:
		return fmt.Errorf("SENSOR_SOURCE must be mock, mpu9250 or serial, got %q", c.SensorSource)
	}
	for _, r := range []intRange{
		{"SERIAL_BAUD_RATE", c.SerialBaudRate, 300, 4_000_000},
		{"SAMPLE_INTERVAL", c.SampleInterval, 1, 10_000},
		{"SENSOR_FAILURE_RUN", c.SensorFailureRun, 1, 1_000_000},
		{"CALIBRATION_SAMPLES", c.CalibrationSamples, 1, 10_000},
		{"HAPTIC_DURATION_MS", c.HapticDurationMS, 1, 5_000},
		{"AUDIO_SAMPLE_RATE", c.AudioSampleRate, 8000, 192_000},
		{"CONSOLE_LOG_INTERVAL", c.ConsoleLogInterval, 1, 3_600_000},
		{"WEB_SERVER_PORT", c.WebServerPort, 1, 65535},
		{"DISPLAY_UPDATE_INTERVAL", c.DisplayUpdateInterval, 10, 60_000},
	} {
		if r.v < r.lo || r.v > r.hi {
			return fmt.Errorf("%s must be %d-%d, got %d", r.key, r.lo, r.hi, r.v)
		}
	}
	if c.TopicBall == "" || c.TopicCollision == "" || c.TopicCommand == "" {
		return fmt.Errorf("TOPIC_BALL, TOPIC_COLLISION and TOPIC_COMMAND are required")
	}
	if c.SensorSource == "mpu9250" && c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required for SENSOR_SOURCE=mpu9250")
	}
	if c.SensorSource == "serial" && c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=serial")
	}
	if !(c.IMUAccelLSBPerG > 0) || math.IsInf(c.IMUAccelLSBPerG, 0) {
		return fmt.Errorf("IMU_ACCEL_LSB_PER_G must be positive")
	}
	if !(c.ArenaRadius > 0) || math.IsInf(c.ArenaRadius, 0) {
		return fmt.Errorf("ARENA_RADIUS must be positive")
	}
	if !(c.SmoothingAlpha > 0 && c.SmoothingAlpha < 1) {
		return fmt.Errorf("SMOOTHING_ALPHA must be in (0,1), got %v", c.SmoothingAlpha)
	}
	if c.Sensitivity == 0 || math.IsNaN(c.Sensitivity) || math.IsInf(c.Sensitivity, 0) {
		return fmt.Errorf("SENSITIVITY must be non-zero")
	}
	if !(c.HapticIntensity >= 0 && c.HapticIntensity <= 1) {
		return fmt.Errorf("HAPTIC_INTENSITY must be 0-1, got %v", c.HapticIntensity)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
