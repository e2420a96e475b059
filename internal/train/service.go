// Package train manages a fleet of LEGO train hubs: the registry of known
// trains, their connection lifecycle, the command codec and dispatch of hub
// notifications, and the fan-out of train state to listeners.
//
// Every outbound write goes through a single-worker workqueue.Queue. Hub
// notifications arrive on the BLE layer's goroutines. Both paths mutate train
// state under the Service mutex and broadcast snapshots after releasing it.
package train

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lowaak/train-control/internal/bt"
	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/workqueue"
)

// Vendor address prefixes of LEGO System A/S hubs.
const (
	LegoVendorPrefix            = "90:84:2B"
	LegoElectronicsVendorPrefix = "00:16:53"
)

const (
	ledAttachRefreshDelay = 300 * time.Millisecond
	ledUpdateDelay        = 100 * time.Millisecond
)

// Config holds the tunables of a Service.
type Config struct {
	BatteryPollInterval  time.Duration
	DistancePollInterval time.Duration
}

// DefaultConfig returns the poll intervals used by the hubs in the field.
func DefaultConfig() Config {
	return Config{
		BatteryPollInterval:  20 * time.Second,
		DistancePollInterval: 15 * time.Second,
	}
}

// Service is the train connection manager.
type Service struct {
	governor bt.Governor
	queue    *workqueue.Queue
	cfg      Config
	logger   *log.Logger

	governorMu      sync.Mutex
	governorStarted bool

	// discoveryMu orders discovery changes; s.mu guards the flag itself.
	discoveryMu sync.Mutex

	mu            sync.Mutex
	connections   map[string]*connection
	discovering   bool
	stopDiscovery func()

	trainEvent *events.CallbackEvent[Train]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a Service. The governor is started lazily, the first time
// discovery is enabled or a train is connected.
func NewService(governor bt.Governor, queue *workqueue.Queue, cfg Config, logger *log.Logger) *Service {
	if governor == nil {
		panic("Service: governor cannot be nil")
	}
	if queue == nil {
		panic("Service: queue cannot be nil")
	}
	if logger == nil {
		panic("Service: logger cannot be nil")
	}
	if cfg.BatteryPollInterval <= 0 || cfg.DistancePollInterval <= 0 {
		panic("Service: poll intervals must be > 0")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		governor:    governor,
		queue:       queue,
		cfg:         cfg,
		logger:      logger,
		connections: make(map[string]*connection),
		trainEvent:  events.NewCallbackEvent[Train](),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Service) ensureGovernor() error {
	s.governorMu.Lock()
	defer s.governorMu.Unlock()
	if s.governorStarted {
		return nil
	}
	if err := s.governor.Start(); err != nil {
		s.logger.Printf("Service: failed to start bluetooth: %v", err)
		return fmt.Errorf("%w: %v", ErrBluetoothUnavailable, err)
	}
	s.governorStarted = true
	s.logger.Printf("Service: using adapter %s", s.governor.AdapterName())
	return nil
}

// Load registers trains read from persistent storage. They start offline
// without BLE handles. Addresses already known are skipped.
func (s *Service) Load(trains []Train) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trains {
		address := bt.NormalizeAddress(t.Address)
		if address == "" {
			continue
		}
		if _, ok := s.connections[address]; ok {
			continue
		}
		t = t.Clone()
		t.Address = address
		t.Online = false
		for id, p := range t.Ports {
			p.Address = address
			p.ID = id
			p.Power = 0
			t.Ports[id] = p
		}
		s.connections[address] = newConnection(t)
	}
	s.logger.Printf("Service: loaded %d trains", len(s.connections))
}

// PersistentTrains returns the trains in the form they are saved in: battery
// zeroed, offline, ports at rest.
func (s *Service) PersistentTrains() []Train {
	trains := s.TrainList()
	for i := range trains {
		trains[i].Battery = 0
		trains[i].Online = false
		for id, p := range trains[i].Ports {
			p.Power = 0
			trains[i].Ports[id] = p
		}
	}
	return trains
}

// TrainList returns snapshots of every known train ordered by address.
func (s *Service) TrainList() []Train {
	s.mu.Lock()
	defer s.mu.Unlock()
	trains := make([]Train, 0, len(s.connections))
	for _, c := range s.connections {
		trains = append(trains, c.train.Clone())
	}
	sort.Slice(trains, func(i, j int) bool { return trains[i].Address < trains[j].Address })
	return trains
}

// Train returns a snapshot of the train with the given address.
func (s *Service) Train(address string) (Train, error) {
	address = bt.NormalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[address]
	if !ok {
		return Train{}, fmt.Errorf("%w: %s", ErrUnknownTrain, address)
	}
	return c.train.Clone(), nil
}

// RegisterTrainListener calls listener with a snapshot every time a train changes.
// The returned function unregisters it and may be called from within listener.
func (s *Service) RegisterTrainListener(listener func(Train)) func() {
	return s.trainEvent.Listen(listener)
}

// ListenToTrains delivers train snapshots to ch without blocking; updates are
// dropped while ch is full.
func (s *Service) ListenToTrains(ch chan<- Train) func() {
	if ch == nil {
		panic("Service: channel cannot be nil")
	}
	return s.trainEvent.Listen(events.ChannelCallback(ch))
}

func (s *Service) broadcast(t Train) {
	s.trainEvent.Notify(t)
}

// lookup returns the live connection for address. Callers hold s.mu.
func (s *Service) lookup(address string) (*connection, error) {
	c, ok := s.connections[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrain, address)
	}
	return c, nil
}

// current reports whether c is still the registered connection for its train.
// Callers hold s.mu.
func (s *Service) current(c *connection) bool {
	return s.connections[c.train.Address] == c
}

// UpdateTrain applies the requested LED color, clamped to [0,255] per channel,
// and returns the stored train.
func (s *Service) UpdateTrain(requested Train) (Train, error) {
	address := bt.NormalizeAddress(requested.Address)

	s.mu.Lock()
	c, err := s.lookup(address)
	if err != nil {
		s.mu.Unlock()
		return Train{}, err
	}
	color := requested.Color.Clamp()
	if !c.train.Color.Equal(color) {
		c.train.Color = color
		if c.train.Online {
			s.enqueueLEDUpdate(c, ledUpdateDelay)
		}
	}
	snapshot := c.train.Clone()
	s.mu.Unlock()

	return snapshot, nil
}

// UpdatePort sets the power of a motor, clamped to [-100,100]. Unknown trains,
// unknown ports and offline trains leave everything untouched; the error says which.
func (s *Service) UpdatePort(requested Port) error {
	address := bt.NormalizeAddress(requested.Address)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(address)
	if err != nil {
		return err
	}
	p, ok := c.train.Ports[requested.ID]
	if !ok {
		return fmt.Errorf("%w: %s port %d", ErrUnknownPort, address, requested.ID)
	}
	if !c.train.Online {
		return fmt.Errorf("%w: %s", ErrTrainOffline, address)
	}
	power := clamp(requested.Power, -100, 100)
	if p.Power != power {
		p.Power = power
		c.train.Ports[p.ID] = p
		s.enqueueMotorUpdate(c, p.ID)
	}
	return nil
}

// Connect starts connecting the train. It returns once the BLE handles are
// acquired; the train goes online when the hub characteristic becomes ready.
// Calling it for a train that is online or already connecting does nothing.
// While a shutdown of the train is still queued the connection is started
// right after that shutdown has run.
func (s *Service) Connect(address string) error {
	address = bt.NormalizeAddress(address)

	s.mu.Lock()
	c, err := s.lookup(address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if c.train.Online || c.device != nil || s.deferConnectLocked(c) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.ensureGovernor(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The registry may have changed while the governor was starting
	if c, err = s.lookup(address); err != nil {
		return err
	}
	if c.train.Online || c.device != nil || s.deferConnectLocked(c) {
		return nil
	}

	s.logger.Printf("Service: connecting %s (%s)", c.train.Name, address)
	c.device = s.governor.DeviceGovernor(address)
	c.characteristic = s.governor.CharacteristicGovernor(address, bt.HubServiceUUID, bt.HubCharacteristicUUID)
	if c.unsubscribe == nil {
		c.unsubscribe = c.characteristic.AddValueListener(func(value []byte) {
			s.handleNotification(c, value)
		})
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c.cancelPending = cancel
	ready := c.characteristic.Ready()
	go_func_utils.SafeGo(s.logger, func() {
		select {
		case <-ctx.Done():
		case <-ready:
			s.onReady(c)
		}
	})
	return nil
}

// deferConnectLocked reports whether c still has a shutdown in the queue. The
// device is then acquired again only after that shutdown has run, so the new
// session cannot be torn down by the old one. Callers hold s.mu.
func (s *Service) deferConnectLocked(c *connection) bool {
	if !c.shuttingDown {
		return false
	}
	if !c.reconnect {
		c.reconnect = true
		s.logger.Printf("Service: %s is shutting down, connecting afterwards", c.train.Address)
	}
	return true
}

func (s *Service) onReady(c *connection) {
	s.mu.Lock()
	if !s.current(c) || c.characteristic == nil || c.train.Online {
		s.mu.Unlock()
		return
	}
	if c.cancelPending != nil {
		c.cancelPending()
		c.cancelPending = nil
	}
	s.schedulePolls(c)
	c.train.Online = true
	snapshot := c.train.Clone()
	s.mu.Unlock()

	s.logger.Printf("Service: train %s connected", snapshot.Address)
	s.broadcast(snapshot)
}

// Disconnect shuts the hub down and releases its BLE handles. Offline trains
// are left alone, apart from dropping a reconnect that waits for an earlier
// shutdown. When the characteristic is not ready the train stays online with
// its handles; the hub cannot be told to shut down in that state.
func (s *Service) Disconnect(address string) error {
	address = bt.NormalizeAddress(address)

	s.mu.Lock()
	c, err := s.lookup(address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	c.reconnect = false
	snapshot, ok := s.shutdownLocked(c)
	s.mu.Unlock()

	if ok {
		s.broadcast(snapshot)
	}
	return nil
}

// shutdownLocked performs the shutdown of an online train and reports whether
// anything changed. Callers hold s.mu.
func (s *Service) shutdownLocked(c *connection) (Train, bool) {
	if !c.train.Online {
		return Train{}, false
	}
	cg := c.characteristic
	if cg == nil || !cg.IsReady() {
		s.logger.Printf("Service: cannot shut down %s, characteristic not ready", c.train.Address)
		return Train{}, false
	}

	address := c.train.Address
	device := c.release()
	c.shuttingDown = true
	s.queue.Submit("shutdown "+address, func() {
		if err := cg.Write(Shutdown().Bytes()); err != nil {
			s.logger.Printf("Service: shutdown write to %s failed: %v", address, err)
		}
		if device != nil {
			device.SetConnectionControl(false)
		}
		s.finishShutdown(c)
	})
	s.logger.Printf("Service: train %s disconnected", address)
	return c.train.Clone(), true
}

// finishShutdown runs on the queue once the hub was told to shut down and
// performs a Connect that arrived in the meantime.
func (s *Service) finishShutdown(c *connection) {
	s.mu.Lock()
	c.shuttingDown = false
	reconnect := c.reconnect && s.current(c)
	c.reconnect = false
	address := c.train.Address
	s.mu.Unlock()

	if !reconnect {
		return
	}
	if err := s.Connect(address); err != nil {
		s.logger.Printf("Service: reconnect of %s failed: %v", address, err)
	}
}

// ConnectAll connects every known train. The first error is returned after all
// trains were tried.
func (s *Service) ConnectAll() error {
	var firstErr error
	for _, address := range s.addresses() {
		if err := s.Connect(address); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DisconnectAll shuts down every online train.
func (s *Service) DisconnectAll() {
	for _, address := range s.addresses() {
		_ = s.Disconnect(address)
	}
}

func (s *Service) addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedAddressesLocked()
}

// StopAll sets every motor of every online train to zero power.
func (s *Service) StopAll() {
	s.mu.Lock()
	var snapshots []Train
	for _, address := range s.sortedAddressesLocked() {
		c := s.connections[address]
		if !c.train.Online {
			continue
		}
		for _, p := range c.train.SortedPorts() {
			if !p.IsMotor() {
				continue
			}
			p.Power = 0
			c.train.Ports[p.ID] = p
			s.enqueueMotorUpdate(c, p.ID)
		}
		snapshots = append(snapshots, c.train.Clone())
	}
	s.mu.Unlock()

	s.logger.Printf("Service: stopped %d trains", len(snapshots))
	for _, t := range snapshots {
		s.broadcast(t)
	}
}

func (s *Service) sortedAddressesLocked() []string {
	addresses := make([]string, 0, len(s.connections))
	for address := range s.connections {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

// Remove forgets a train, shutting it down first when it is online. A pending
// connection attempt is abandoned. The address may be rediscovered afterwards.
func (s *Service) Remove(address string) error {
	address = bt.NormalizeAddress(address)

	s.mu.Lock()
	c, err := s.lookup(address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot, shutDown := s.shutdownLocked(c)
	var device bt.DeviceGovernor
	if c.device != nil {
		// Pending, or online with a characteristic that never became ready
		device = c.release()
	}
	delete(s.connections, address)
	s.mu.Unlock()

	if device != nil {
		device.SetConnectionControl(false)
	}
	if shutDown {
		s.broadcast(snapshot)
	}
	s.logger.Printf("Service: removed train %s", address)
	return nil
}

// RequestPortModeInfo asks the hub for information about one mode of a port.
// The reply is logged by the PORT_MODE_INFORMATION handler.
func (s *Service) RequestPortModeInfo(address string, portID, mode, infoType int, delay time.Duration) error {
	return s.enqueueRequest(address, PortModeInfoRequest(portID, mode, infoType), "port mode info", delay)
}

// RequestPortInfo asks the hub for general information about a port.
func (s *Service) RequestPortInfo(address string, portID, infoType int, delay time.Duration) error {
	return s.enqueueRequest(address, PortInfoRequest(portID, infoType), "port info", delay)
}

func (s *Service) enqueueRequest(address string, msg Message, what string, delay time.Duration) error {
	address = bt.NormalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(address)
	if err != nil {
		return err
	}
	if !c.train.Online {
		return fmt.Errorf("%w: %s", ErrTrainOffline, address)
	}
	s.queue.SubmitAfter(what+" "+address, delay, func() {
		s.write(c, msg, what)
	})
	return nil
}

// Shutdown stops discovery and abandons pending connection attempts. Trains
// are not disconnected; call DisconnectAll first for that.
func (s *Service) Shutdown() {
	if err := s.SetDiscovery(false); err != nil {
		s.logger.Printf("Service: failed to stop discovery: %v", err)
	}
	s.cancel()
	s.logger.Println("Service: Shutdown complete")
}
