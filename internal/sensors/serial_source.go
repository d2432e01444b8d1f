package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/tilt_arena/internal/imu"
)

// ErrNoNewSample is returned by the serial source when no line arrived since
// the previous read.
var ErrNoNewSample = errors.New("no new sample")

// errSkipLine marks blank and comment lines.
var errSkipLine = errors.New("skip line")

// ParseLine parses one "ax,ay,az" line (m/s²). Whitespace around fields is
// ignored.
func ParseLine(line string) (imu.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return imu.Sample{}, errSkipLine
	}

	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return imu.Sample{}, fmt.Errorf("expected 3 fields, got %d in %q", len(fields), line)
	}
	var v [3]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("field %d of %q: %w", i, line, err)
		}
		v[i] = x
	}
	s := imu.Sample{Source: "serial", X: v[0], Y: v[1], Z: v[2]}
	if !s.Finite() {
		return imu.Sample{}, fmt.Errorf("non-finite value in %q", line)
	}
	return s, nil
}

// SerialSource reads "ax,ay,az" lines pushed by an external IMU and exposes the
// latest one. A background reader keeps up with the device rate; Next only
// returns a sample once.
type SerialSource struct {
	port io.ReadWriteCloser

	mu     sync.Mutex
	latest imu.Sample
	fresh  bool
	err    error
	done   chan struct{}
}

// NewSerialSource opens the serial port and starts reading lines.
func NewSerialSource(portName string, baud int) (*SerialSource, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", portName, err)
	}
	log.Printf("serial: port opened on %s at %d baud", portName, baud)
	return newSerialSource(port), nil
}

func newSerialSource(port io.ReadWriteCloser) *SerialSource {
	s := &SerialSource{port: port, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *SerialSource) readLoop() {
	defer close(s.done)
	reader := bufio.NewReader(s.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.mu.Lock()
			s.err = fmt.Errorf("serial read: %w", err)
			s.mu.Unlock()
			return
		}

		sample, err := ParseLine(line)
		if err != nil {
			if !errors.Is(err, errSkipLine) {
				// noisy links produce partial lines; keep going
				log.Printf("serial: %v", err)
			}
			continue
		}
		sample.Time = time.Now()

		s.mu.Lock()
		s.latest = sample
		s.fresh = true
		s.mu.Unlock()
	}
}

// Next returns the newest line not yet consumed.
func (s *SerialSource) Next() (imu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh {
		s.fresh = false
		return s.latest, nil
	}
	if s.err != nil {
		return imu.Sample{}, s.err
	}
	return imu.Sample{}, ErrNoNewSample
}

// Close closes the port and waits for the reader to stop.
func (s *SerialSource) Close() error {
	err := s.port.Close()
	<-s.done
	return err
}
