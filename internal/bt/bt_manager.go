package bt

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/safe_map"
	"tinygo.org/x/bluetooth"
)

// BTManager is the Governor backed by a tinygo bluetooth adapter. Once started
// it scans continuously and remembers every device it has seen.
type BTManager struct {
	adapter     *bluetooth.Adapter
	adapterName string
	logger      *log.Logger

	mu         sync.RWMutex
	started    bool
	scanning   bool
	scanned    map[string]bluetooth.ScanResult
	discovered map[string]DiscoveredDevice

	devices        *safe_map.SafeMap[string, *btDeviceImpl]
	discoveryEvent *events.CallbackEvent[DiscoveredDevice]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Verify BTManager implements Governor
var _ Governor = (*BTManager)(nil)

func NewBTManager(adapter *bluetooth.Adapter, adapterName string, logger *log.Logger) *BTManager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BTManager{
		adapter:        adapter,
		adapterName:    adapterName,
		logger:         logger,
		scanned:        make(map[string]bluetooth.ScanResult),
		discovered:     make(map[string]DiscoveredDevice),
		devices:        safe_map.NewSafeMap[string, *btDeviceImpl](),
		discoveryEvent: events.NewCallbackEvent[DiscoveredDevice](),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (m *BTManager) AdapterName() string {
	return m.adapterName
}

// Start enables the adapter and begins scanning. Calling it again is a no-op.
func (m *BTManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	// Track connections and disconnections reported by the stack
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		address := NormalizeAddress(device.Address.String())
		d, ok := m.devices.Load(address)
		if !ok {
			return
		}
		if connected {
			m.logger.Printf("BTManager: device connected: %s", address)
		} else {
			m.logger.Printf("BTManager: device disconnected: %s", address)
			d.onDisconnected()
		}
	})

	if err := m.adapter.Enable(); err != nil {
		return err
	}
	m.started = true
	m.scanning = true
	m.logger.Printf("BTManager: adapter %s enabled, starting scan", m.adapterName)

	go_func_utils.SafeGoWG(&m.wg, m.logger, m.scan)
	return nil
}

func (m *BTManager) scan() {
	defer m.logger.Printf("BTManager: exiting scan loop")

	err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if m.ctx.Err() != nil {
			return
		}
		address := NormalizeAddress(result.Address.String())
		name := result.LocalName()

		m.mu.Lock()
		m.scanned[address] = result
		previous, seen := m.discovered[address]
		device := DiscoveredDevice{Address: address, Name: name, RSSI: result.RSSI}
		if seen && device.Name == "" {
			device.Name = previous.Name
		}
		m.discovered[address] = device
		m.mu.Unlock()

		if !seen {
			m.logger.Printf("BTManager: discovered %s/%s [RSSI: %d]", name, address, result.RSSI)
			m.discoveryEvent.Notify(device)
		}
	})
	if err != nil {
		m.logger.Printf("BTManager: scan error: %v", err)
	}
}

func (m *BTManager) scanResult(address string) (bluetooth.ScanResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.scanned[address]
	return result, ok
}

func (m *BTManager) DiscoveredDevices() []DiscoveredDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]DiscoveredDevice, 0, len(m.discovered))
	for _, d := range m.discovered {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

func (m *BTManager) ListenToDiscovery(callback func(DiscoveredDevice)) func() {
	return m.discoveryEvent.Listen(callback)
}

func (m *BTManager) deviceImpl(address string) *btDeviceImpl {
	address = NormalizeAddress(address)
	device, _ := m.devices.LoadOrStore(address, func() *btDeviceImpl {
		return newBtDeviceImpl(m, address)
	})
	return device
}

func (m *BTManager) DeviceGovernor(address string) DeviceGovernor {
	return m.deviceImpl(address)
}

func (m *BTManager) CharacteristicGovernor(address, serviceUUID, characteristicUUID string) CharacteristicGovernor {
	device := m.deviceImpl(address)
	state := device.characteristic(serviceUUID, characteristicUUID)
	device.SetConnectionControl(true)
	return &btCharacteristicImpl{device: device, state: state}
}

// Shutdown drops every connection, stops scanning and waits for the background loops.
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	for _, device := range m.devices.Values() {
		device.SetConnectionControl(false)
	}

	m.mu.Lock()
	wasScanning := m.scanning
	m.scanning = false
	m.mu.Unlock()

	m.cancel()
	if wasScanning {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping scan: %v", err)
		}
	}
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
