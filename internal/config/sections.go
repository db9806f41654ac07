package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/transport"
	"github.com/LeoCommon/altcom/pkg/usb"
)

const (
	NetworkSerial = "serial"
	NetworkTCP    = "tcp"
	PortAuto      = "auto"
)

var ErrInvalidConfig = errors.New("invalid config")

func invalid(section string, format string, args ...any) error {
	return fmt.Errorf("%w: [%s] %s", ErrInvalidConfig, section, fmt.Sprintf(format, args...))
}

type ClientConfig struct {
	Debug bool `toml:"debug"`
}

type ClientConfigManager struct {
	BaseConfigManager[ClientConfig]
}

func (a *ClientConfigManager) Verify() error {
	return nil
}

func NewClientConfigManager(config *ClientConfig, mgr *Manager) *ClientConfigManager {
	j := ClientConfigManager{}
	j.conf = config
	j.mgr = mgr

	return &j
}

type LinkConfig struct {
	Network     string       `toml:"network" comment:"serial or tcp"`
	Port        string       `toml:"port,omitempty" comment:"serial device, auto searches for usb_device"`
	USBDevice   string       `toml:"usb_device,omitempty" comment:"vid:pid of the modem, used when port is auto"`
	USBSerial   string       `toml:"usb_serial,omitempty" comment:"suffix of the usb serial number when the modem has several ports"`
	Baudrate    int          `toml:"baudrate,omitempty"`
	ReadTimeout TOMLDuration `toml:"read_timeout,omitempty" comment:"serial read timeout, 0s blocks"`
	Address     string       `toml:"address,omitempty" comment:"host:port, used when network is tcp"`
	DialTimeout TOMLDuration `toml:"dial_timeout,omitempty"`
}

type LinkConfigManager struct {
	BaseConfigManager[LinkConfig]
}

func (a *LinkConfigManager) Verify() error {
	c := a.C()
	switch c.Network {
	case NetworkSerial:
		if c.Port == "" {
			return invalid("link", "port is required for a serial link")
		}
		if c.Port == PortAuto {
			if _, err := usb.ParseDevice(c.USBDevice); err != nil {
				return invalid("link", "auto port: %s", err)
			}
		}
		if c.Baudrate <= 0 {
			return invalid("link", "baudrate %d", c.Baudrate)
		}
	case NetworkTCP:
		if c.Address == "" {
			return invalid("link", "address is required for a tcp link")
		}
	default:
		return invalid("link", "unknown network %q", c.Network)
	}
	if c.ReadTimeout < 0 || c.DialTimeout < 0 {
		return invalid("link", "negative timeout")
	}
	return nil
}

// Dialer builds the transport dialer for the configured link. An auto port
// is resolved here, so the modem has to be attached already.
func (a *LinkConfigManager) Dialer() (transport.Dialer, error) {
	return a.dialer(usb.Finder{})
}

func (a *LinkConfigManager) dialer(finder usb.Finder) (transport.Dialer, error) {
	c := a.C()
	if c.Network == NetworkTCP {
		return transport.TCPDialer{Address: c.Address, Timeout: c.DialTimeout.Value()}, nil
	}

	port := c.Port
	if port == PortAuto {
		dev, err := usb.ParseDevice(c.USBDevice)
		if err != nil {
			return nil, err
		}
		dev.Serial = c.USBSerial
		if port, err = finder.FindSerialPort(dev); err != nil {
			return nil, err
		}
	}

	return transport.SerialDialer{
		PortName:    port,
		Mode:        transport.SerialMode(c.Baudrate),
		ReadTimeout: c.ReadTimeout.Value(),
	}, nil
}

func NewLinkConfigManager(config *LinkConfig, mgr *Manager) *LinkConfigManager {
	j := LinkConfigManager{}
	j.conf = config
	j.mgr = mgr

	return &j
}

type GatewayConfig struct {
	DefaultTimeout   TOMLDuration `toml:"default_timeout" comment:"used by calls that do not set their own timeout"`
	TransactionLimit uint16       `toml:"transaction_limit,omitempty" comment:"highest transaction id, 0 uses the full range"`
}

type GatewayConfigManager struct {
	BaseConfigManager[GatewayConfig]
}

func (a *GatewayConfigManager) Verify() error {
	if a.C().DefaultTimeout <= 0 {
		return invalid("gateway", "default_timeout must be positive")
	}
	return nil
}

func NewGatewayConfigManager(config *GatewayConfig, mgr *Manager) *GatewayConfigManager {
	j := GatewayConfigManager{}
	j.conf = config
	j.mgr = mgr

	return &j
}

type PoolConfig struct {
	Classes []bufpool.Class `toml:"classes" comment:"buffer size classes, ascending"`
}

type PoolConfigManager struct {
	BaseConfigManager[PoolConfig]
}

func (a *PoolConfigManager) Verify() error {
	classes := a.C().Classes
	if len(classes) == 0 {
		return invalid("pool", "no classes")
	}
	for i, c := range classes {
		if c.Size <= 0 || c.Count <= 0 {
			return invalid("pool", "class %d has size %d count %d", i, c.Size, c.Count)
		}
		if i > 0 && classes[i-1].Size >= c.Size {
			return invalid("pool", "classes must be sorted by size")
		}
	}
	return nil
}

func NewPoolConfigManager(config *PoolConfig, mgr *Manager) *PoolConfigManager {
	j := PoolConfigManager{}
	j.conf = config
	j.mgr = mgr

	return &j
}

type WorkerConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

type WorkerConfigManager struct {
	BaseConfigManager[WorkerConfig]
}

func (a *WorkerConfigManager) Verify() error {
	c := a.C()
	if c.Workers < 1 {
		return invalid("worker", "workers %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return invalid("worker", "queue_size %d", c.QueueSize)
	}
	return nil
}

func NewWorkerConfigManager(config *WorkerConfig, mgr *Manager) *WorkerConfigManager {
	j := WorkerConfigManager{}
	j.conf = config
	j.mgr = mgr

	return &j
}

type TOMLDuration time.Duration

func (d *TOMLDuration) UnmarshalText(b []byte) error {
	x, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = TOMLDuration(x)
	return nil
}

func (c TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(c).String()), nil
}

func (c TOMLDuration) Value() time.Duration {
	return time.Duration(c)
}
