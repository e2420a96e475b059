package bt

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/safe_map"
)

// Device type ids a simulated hub reports for its ports.
const (
	SimulatedTrainMotorType byte = 0x02
	SimulatedHubLEDType     byte = 0x17
)

// SimulatorConfig holds configuration for creating a Simulator
type SimulatorConfig struct {
	// Hubs is the number of LEGO hubs that appear after Start.
	Hubs int
	// ForeignDevices is the number of non-LEGO devices that appear alongside them.
	ForeignDevices int
	// AppearInterval spaces out the appearance of configured devices.
	AppearInterval time.Duration
	// ConnectDelay is how long a hub takes to become ready after connection control is turned on.
	ConnectDelay time.Duration
}

// WrittenValue records a value written to a simulated hub
type WrittenValue struct {
	Timestamp   time.Time `json:"timestamp"`
	Data        []byte    `json:"data"`
	DataHex     string    `json:"dataHex"`
	Description string    `json:"description"`
}

// Simulator implements Governor with in-process hubs that speak enough of the
// LEGO wireless protocol to exercise the train service without hardware.
type Simulator struct {
	logger *log.Logger
	cfg    SimulatorConfig

	mu         sync.Mutex
	started    bool
	discovered map[string]DiscoveredDevice

	hubs           *safe_map.SafeMap[string, *SimulatedHub]
	discoveryEvent *events.CallbackEvent[DiscoveredDevice]
	deliveries     chan func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Governor = (*Simulator)(nil)

// NewSimulator creates a simulator. Nothing is discovered before Start.
func NewSimulator(logger *log.Logger, cfg SimulatorConfig) *Simulator {
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulator{
		logger:         logger,
		cfg:            cfg,
		discovered:     make(map[string]DiscoveredDevice),
		hubs:           safe_map.NewSafeMap[string, *SimulatedHub](),
		discoveryEvent: events.NewCallbackEvent[DiscoveredDevice](),
		deliveries:     make(chan func(), 256),
		ctx:            ctx,
		cancel:         cancel,
	}
	go_func_utils.SafeGoWG(&s.wg, logger, s.deliveryLoop)
	return s
}

// deliveryLoop runs notification callbacks in order on a goroutine of their own,
// the way a BLE stack delivers characteristic changes.
func (s *Simulator) deliveryLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.deliveries:
			func() {
				defer go_func_utils.Recover(s.logger, "simulator notification")
				fn()
			}()
		}
	}
}

func (s *Simulator) enqueueDelivery(fn func()) {
	select {
	case s.deliveries <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Simulator) AdapterName() string {
	return "simulator"
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Printf("Simulator: starting with %d hubs and %d foreign devices", s.cfg.Hubs, s.cfg.ForeignDevices)

	var devices []DiscoveredDevice
	for i := 0; i < s.cfg.Hubs; i++ {
		devices = append(devices, DiscoveredDevice{
			Address: fmt.Sprintf("90:84:2B:00:00:%02X", i+1),
			Name:    fmt.Sprintf("Simulated Hub %d", i+1),
			RSSI:    -40,
		})
	}
	for i := 0; i < s.cfg.ForeignDevices; i++ {
		devices = append(devices, DiscoveredDevice{
			Address: fmt.Sprintf("12:34:56:00:00:%02X", i+1),
			Name:    fmt.Sprintf("Speaker %d", i+1),
			RSSI:    -70,
		})
	}

	go_func_utils.SafeGoWG(&s.wg, s.logger, func() {
		for _, d := range devices {
			if s.cfg.AppearInterval > 0 {
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(s.cfg.AppearInterval):
				}
			}
			s.AddDevice(d)
		}
	})
	return nil
}

// AddDevice makes a device visible to discovery. A device already known is not announced again.
func (s *Simulator) AddDevice(device DiscoveredDevice) {
	device.Address = NormalizeAddress(device.Address)

	s.mu.Lock()
	_, seen := s.discovered[device.Address]
	s.discovered[device.Address] = device
	s.mu.Unlock()

	hub := s.hub(device.Address)
	hub.mu.Lock()
	hub.name = device.Name
	hub.mu.Unlock()

	if !seen {
		s.logger.Printf("Simulator: discovered %s/%s", device.Name, device.Address)
		s.discoveryEvent.Notify(device)
	}
}

func (s *Simulator) DiscoveredDevices() []DiscoveredDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]DiscoveredDevice, 0, len(s.discovered))
	for _, d := range s.discovered {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

func (s *Simulator) ListenToDiscovery(callback func(DiscoveredDevice)) func() {
	return s.discoveryEvent.Listen(callback)
}

func (s *Simulator) hub(address string) *SimulatedHub {
	address = NormalizeAddress(address)
	hub, _ := s.hubs.LoadOrStore(address, func() *SimulatedHub {
		return newSimulatedHub(s, address)
	})
	return hub
}

// Hub returns the simulated hub for address, creating it if needed.
func (s *Simulator) Hub(address string) *SimulatedHub {
	return s.hub(address)
}

func (s *Simulator) DeviceGovernor(address string) DeviceGovernor {
	return s.hub(address)
}

func (s *Simulator) CharacteristicGovernor(address, serviceUUID, characteristicUUID string) CharacteristicGovernor {
	hub := s.hub(address)
	hub.mu.Lock()
	hub.acquisitions++
	hub.mu.Unlock()
	hub.SetConnectionControl(true)
	return hub
}

func (s *Simulator) Shutdown() {
	for _, hub := range s.hubs.Values() {
		hub.SetConnectionControl(false)
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Println("Simulator: Shutdown complete")
}

// SimulatedHub is both the DeviceGovernor and the CharacteristicGovernor of one simulated hub.
type SimulatedHub struct {
	sim     *Simulator
	address string

	mu                sync.Mutex
	name              string
	connectionControl bool
	connected         bool
	writable          bool
	ready             chan struct{}
	readyClosed       bool
	connectTimer      *time.Timer
	acquisitions      int

	battery     int
	rssi        int8
	ports       map[byte]byte
	portOutputs map[byte][]byte

	writes     []WrittenValue
	valueEvent *events.CallbackEvent[[]byte]
}

var (
	_ DeviceGovernor         = (*SimulatedHub)(nil)
	_ CharacteristicGovernor = (*SimulatedHub)(nil)
)

func newSimulatedHub(sim *Simulator, address string) *SimulatedHub {
	return &SimulatedHub{
		sim:         sim,
		address:     address,
		writable:    true,
		ready:       make(chan struct{}),
		battery:     87,
		rssi:        -42,
		ports:       map[byte]byte{0x00: SimulatedTrainMotorType, 0x32: SimulatedHubLEDType},
		portOutputs: make(map[byte][]byte),
		valueEvent:  events.NewCallbackEvent[[]byte](),
	}
}

func (h *SimulatedHub) Address() string {
	return h.address
}

func (h *SimulatedHub) SetConnectionControl(connect bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectionControl == connect {
		return
	}
	h.connectionControl = connect
	h.sim.logger.Printf("SimulatedHub %s: connection control -> %v", h.address, connect)

	if connect {
		delay := h.sim.cfg.ConnectDelay
		h.connectTimer = time.AfterFunc(delay, h.establish)
		return
	}

	if h.connectTimer != nil {
		h.connectTimer.Stop()
		h.connectTimer = nil
	}
	h.dropLocked()
}

// establish completes a connection session and reports the attached ports.
func (h *SimulatedHub) establish() {
	h.mu.Lock()
	if !h.connectionControl || h.connected {
		h.mu.Unlock()
		return
	}
	h.connected = true
	if !h.readyClosed {
		close(h.ready)
		h.readyClosed = true
	}
	ports := make([]byte, 0, len(h.ports))
	for port := range h.ports {
		ports = append(ports, port)
	}
	types := make(map[byte]byte, len(h.ports))
	for port, deviceType := range h.ports {
		types[port] = deviceType
	}
	h.mu.Unlock()

	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	h.sim.logger.Printf("SimulatedHub %s: connected", h.address)
	for _, port := range ports {
		h.notify(attachedIO(port, types[port]))
	}
}

func (h *SimulatedHub) dropLocked() {
	if h.connected {
		h.sim.logger.Printf("SimulatedHub %s: disconnected", h.address)
	}
	h.connected = false
	if h.readyClosed {
		h.ready = make(chan struct{})
		h.readyClosed = false
	}
}

// DropConnection simulates the hub going away while connection control stays on.
func (h *SimulatedHub) DropConnection() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked()
}

func (h *SimulatedHub) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *SimulatedHub) IsWritable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected && h.writable
}

func (h *SimulatedHub) Ready() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *SimulatedHub) AddValueListener(callback func(value []byte)) func() {
	return h.valueEvent.Listen(callback)
}

func (h *SimulatedHub) Write(data []byte) error {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return ErrNotConnected
	}
	value := make([]byte, len(data))
	copy(value, data)
	h.writes = append(h.writes, WrittenValue{
		Timestamp:   time.Now(),
		Data:        value,
		DataHex:     hex.EncodeToString(value),
		Description: describeCommand(value),
	})
	h.mu.Unlock()

	h.respond(value)
	return nil
}

// respond plays the hub's side of the conversation for a written command.
func (h *SimulatedHub) respond(data []byte) {
	if len(data) < 3 {
		return
	}
	switch data[2] {
	case 0x01: // hub property request
		if len(data) < 5 || data[4] != 0x05 {
			return
		}
		h.mu.Lock()
		battery, rssi := h.battery, h.rssi
		h.mu.Unlock()
		switch data[3] {
		case 0x05:
			h.notify([]byte{6, 0, 0x01, 0x05, 0x06, byte(rssi)})
		case 0x06:
			h.notify([]byte{6, 0, 0x01, 0x06, 0x06, byte(battery)})
		}
	case 0x02: // hub action
		if len(data) >= 4 && data[3] == 0x01 {
			h.notify([]byte{4, 0, 0x02, 0x30})
			h.mu.Lock()
			h.dropLocked()
			h.mu.Unlock()
		}
	case 0x81: // port output command
		if len(data) >= 4 {
			h.mu.Lock()
			h.portOutputs[data[3]] = append([]byte(nil), data[4:]...)
			h.mu.Unlock()
		}
	case 0x22: // port mode information request
		if len(data) >= 6 {
			h.notify(portModeInformation(data[3], data[4], data[5]))
		}
	}
}

func (h *SimulatedHub) notify(value []byte) {
	h.sim.enqueueDelivery(func() {
		h.valueEvent.Notify(value)
	})
}

// Notify injects a raw notification as if the hub had sent it.
func (h *SimulatedHub) Notify(value []byte) {
	h.notify(append([]byte(nil), value...))
}

// Attach reports a newly attached device on port.
func (h *SimulatedHub) Attach(port, deviceType byte) {
	h.mu.Lock()
	h.ports[port] = deviceType
	connected := h.connected
	h.mu.Unlock()
	if connected {
		h.notify(attachedIO(port, deviceType))
	}
}

// Detach reports that the device on port was removed.
func (h *SimulatedHub) Detach(port byte) {
	h.mu.Lock()
	delete(h.ports, port)
	connected := h.connected
	h.mu.Unlock()
	if connected {
		h.notify([]byte{5, 0, 0x04, port, 0x00})
	}
}

func (h *SimulatedHub) SetBattery(percent int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.battery = percent
}

func (h *SimulatedHub) SetRSSI(rssi int8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rssi = rssi
}

func (h *SimulatedHub) SetWritable(writable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writable = writable
}

// Writes returns a copy of everything written to the hub so far.
func (h *SimulatedHub) Writes() []WrittenValue {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]WrittenValue(nil), h.writes...)
}

// PortOutput returns the payload of the last output command sent to port.
func (h *SimulatedHub) PortOutput(port byte) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out, ok := h.portOutputs[port]
	return out, ok
}

func (h *SimulatedHub) ConnectionControl() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectionControl
}

// Acquisitions counts how often a characteristic governor was requested for this hub.
func (h *SimulatedHub) Acquisitions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquisitions
}

func (h *SimulatedHub) ValueListenerCount() int {
	return h.valueEvent.ListenerCount()
}

func attachedIO(port, deviceType byte) []byte {
	// length, hub, HUB_ATTACHED_IO, port, event=attached, type (LE u16), hw/sw versions
	return []byte{15, 0, 0x04, port, 0x01, deviceType, 0x00, 0, 0, 0, 0x10, 0, 0, 0, 0x10}
}

func portModeInformation(port, mode, infoType byte) []byte {
	msg := []byte{0, 0, 0x44, port, mode, infoType}
	switch infoType {
	case 0x00:
		msg = append(msg, []byte("SIM PORT\x00\x00\x00")...)
	case 0x04:
		msg = append(msg, []byte("PCT\x00\x00")...)
	}
	msg[0] = byte(len(msg))
	return msg
}

func describeCommand(data []byte) string {
	if len(data) < 3 {
		return "short write"
	}
	switch data[2] {
	case 0x01:
		if len(data) >= 4 {
			switch data[3] {
			case 0x05:
				return "RSSI request"
			case 0x06:
				return "battery request"
			}
		}
		return "hub property"
	case 0x02:
		return "hub action"
	case 0x21:
		return "port information request"
	case 0x22:
		return "port mode information request"
	case 0x81:
		if len(data) >= 4 && data[3] == 0x32 {
			return "LED output"
		}
		return "motor output"
	}
	return "unknown"
}
