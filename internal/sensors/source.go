package sensors

import (
	"fmt"

	"github.com/relabs-tech/tilt_arena/internal/config"
	"github.com/relabs-tech/tilt_arena/internal/imu"
)

// Open builds the source selected by SENSOR_SOURCE.
func Open(cfg *config.Config) (imu.Source, error) {
	switch cfg.SensorSource {
	case "mock", "":
		return NewMockSource(cfg.MockSeed), nil
	case "mpu9250":
		return NewMPU9250Source(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelLSBPerG)
	case "serial":
		return NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate)
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}
