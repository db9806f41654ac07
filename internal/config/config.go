// Package config loads the daemon configuration from a TOML file. Each
// section is guarded by its own manager so readers never see a half
// applied update.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/LeoCommon/altcom/internal/apicmdgw"
	"github.com/LeoCommon/altcom/internal/worker"
	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/file"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/LeoCommon/altcom/pkg/transport"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

const (
	ProductName = "altcom"
	ConfigFile  = "config.toml"

	DefaultConfigPath = "/etc/" + ProductName + "/" + ConfigFile
	DefaultSerialPort = "/dev/ttyUSB0"
	DefaultDebugValue = false
)

type MainConfig struct {
	Client  ClientConfig  `toml:"client"`
	Link    LinkConfig    `toml:"link"`
	Gateway GatewayConfig `toml:"gateway"`
	Pool    PoolConfig    `toml:"pool"`
	Worker  WorkerConfig  `toml:"worker"`
}

// Defaults matches altcom.DefaultConfig on a serial link
func Defaults() *MainConfig {
	return &MainConfig{
		Client: ClientConfig{Debug: DefaultDebugValue},
		Link: LinkConfig{
			Network:     NetworkSerial,
			Port:        DefaultSerialPort,
			Baudrate:    transport.DefaultBaudrate,
			DialTimeout: TOMLDuration(10 * time.Second),
		},
		Gateway: GatewayConfig{DefaultTimeout: TOMLDuration(apicmdgw.DefaultTimeout)},
		Pool:    PoolConfig{Classes: bufpool.DefaultClasses()},
		Worker:  WorkerConfig{Workers: worker.DefaultWorkers, QueueSize: worker.DefaultQueueSize},
	}
}

type ConfigManager interface {
	rlock()
	runlock()
	Verify() error
}

type ConfigManagerKey string

const (
	CMClient  ConfigManagerKey = "client"
	CMLink    ConfigManagerKey = "link"
	CMGateway ConfigManagerKey = "gateway"
	CMPool    ConfigManagerKey = "pool"
	CMWorker  ConfigManagerKey = "worker"
)

type ConfigManagerStore map[ConfigManagerKey]ConfigManager

type Manager struct {
	mu sync.RWMutex

	// The actual config, never share this with other code
	config *MainConfig
	store  ConfigManagerStore
	path   string
}

func NewManager() *Manager {
	m := &Manager{config: Defaults()}
	m.store = ConfigManagerStore{
		CMClient:  NewClientConfigManager(&m.config.Client, m),
		CMLink:    NewLinkConfigManager(&m.config.Link, m),
		CMGateway: NewGatewayConfigManager(&m.config.Gateway, m),
		CMPool:    NewPoolConfigManager(&m.config.Pool, m),
		CMWorker:  NewWorkerConfigManager(&m.config.Worker, m),
	}
	return m
}

func section[T ConfigManager](m *Manager, key ConfigManagerKey) T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cm, ok := m.store[key].(T)
	if !ok {
		log.Panic("implementation mistake, config section missing", zap.String("section", string(key)))
	}
	return cm
}

func (m *Manager) Client() *ClientConfigManager {
	return section[*ClientConfigManager](m, CMClient)
}

func (m *Manager) Link() *LinkConfigManager {
	return section[*LinkConfigManager](m, CMLink)
}

func (m *Manager) Gateway() *GatewayConfigManager {
	return section[*GatewayConfigManager](m, CMGateway)
}

func (m *Manager) Pool() *PoolConfigManager {
	return section[*PoolConfigManager](m, CMPool)
}

func (m *Manager) Worker() *WorkerConfigManager {
	return section[*WorkerConfigManager](m, CMWorker)
}

// Load overlays the file onto the defaults. A missing file is only an error
// when acceptEmptyConfig is false, a malformed one always is.
func (m *Manager) Load(path string, acceptEmptyConfig bool) error {
	m.mu.Lock()
	data, err := os.ReadFile(path)
	if err == nil {
		// array tables append to what is already there
		m.config.Pool.Classes = nil
		err = toml.Unmarshal(data, m.config)
		if len(m.config.Pool.Classes) == 0 {
			m.config.Pool.Classes = bufpool.DefaultClasses()
		}
		if err != nil {
			m.mu.Unlock()
			log.Error("failed to unmarshal config file", zap.String("path", path), zap.Error(err))
			return err
		}
	} else if !acceptEmptyConfig {
		m.mu.Unlock()
		return err
	}
	m.path = path
	m.mu.Unlock()

	if err := m.Verify(); err != nil {
		return err
	}

	log.Debug("active config", zap.Any("config", m.config), zap.String("path", path))
	return nil
}

// Verify checks every section for the conditions the client relies on
func (m *Manager) Verify() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, key := range []ConfigManagerKey{CMClient, CMLink, CMGateway, CMPool, CMWorker} {
		if err := m.store[key].Verify(); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes the current config with every section read locked
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, value := range m.store {
		value.rlock()
	}
	defer func() {
		for _, value := range m.store {
			value.runlock()
		}
	}()

	return toml.Marshal(m.config)
}

// Save writes the config back to the path it was loaded from
func (m *Manager) Save() error {
	return m.SaveTo(m.Path())
}

func (m *Manager) SaveTo(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err := file.WriteAtomic(path, data, 0644); err != nil {
		log.Error("failed to write config file", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// AltcomConfig is the client configuration described by the loaded file
func (m *Manager) AltcomConfig() altcom.Config {
	gw := m.Gateway().C()
	w := m.Worker().C()
	return altcom.Config{
		Pool:             append([]bufpool.Class(nil), m.Pool().C().Classes...),
		Workers:          w.Workers,
		QueueSize:        w.QueueSize,
		DefaultTimeout:   gw.DefaultTimeout.Value(),
		TransactionLimit: gw.TransactionLimit,
	}
}
