package transport

//go:generate mockgen -destination=mock_transport.go -package=transport . Transport,Dialer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/LeoCommon/altcom/pkg/log"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const DefaultBaudrate = 115200

var (
	ErrNoPortName = errors.New("serial port name is required")
	ErrNoAddress  = errors.New("network address is required")
	ErrNilContext = errors.New("context is nil")
)

// Transport is an established byte stream to the modem.
// The frame layer on top of it owns all reads after the client starts.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport. It is only used while constructing a client.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// SerialMode is 8N1 at the given baudrate
func SerialMode(baudrate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}

// SerialDialer opens the modem over a serial port
type SerialDialer struct {
	PortName string
	Mode     *serial.Mode
	// ReadTimeout of zero blocks reads until data arrives
	ReadTimeout time.Duration
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if d.PortName == "" {
		return nil, ErrNoPortName
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = SerialMode(DefaultBaudrate)
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		log.Error("error while opening serial device", zap.String("port", d.PortName), zap.Error(err))
		return nil, fmt.Errorf("open %s: %w", d.PortName, err)
	}

	if d.ReadTimeout > 0 {
		if err := port.SetReadTimeout(d.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", d.PortName, err)
		}
	}

	log.Info("serial link opened", zap.String("port", d.PortName), zap.Int("baudrate", mode.BaudRate))
	return &serialTransport{port: port}, nil
}

// serialTransport turns the zero-byte reads of a timed out serial read into
// a retry, so the frame reader only ever sees data or a real error
type serialTransport struct {
	port serial.Port
}

func (s *serialTransport) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (s *serialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialTransport) Close() error {
	return s.port.Close()
}

// TCPDialer connects to a modem emulator or a serial-to-network bridge
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if d.Address == "" {
		return nil, ErrNoAddress
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address, err)
	}

	log.Info("tcp link opened", zap.String("address", d.Address))
	return conn, nil
}
