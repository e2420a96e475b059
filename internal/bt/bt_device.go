package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/safe_map"
	"tinygo.org/x/bluetooth"
)

// ErrNotConnected is returned for characteristic operations without a live session.
var ErrNotConnected = errors.New("device not connected")

const reconnectDelay = 2 * time.Second

// characteristicState tracks one requested characteristic across connection sessions.
type characteristicState struct {
	serviceUUID        string
	characteristicUUID string
	valueEvent         *events.CallbackEvent[[]byte]
}

func characteristicKey(serviceUUID, characteristicUUID string) string {
	return fmt.Sprintf("%s_%s", serviceUUID, characteristicUUID)
}

// btDeviceImpl is the tinygo backed DeviceGovernor. It owns a connection loop
// that runs while connection control is on.
type btDeviceImpl struct {
	manager *BTManager
	address string
	logger  *log.Logger

	mu                sync.Mutex
	bleMu             sync.Mutex // Serializes BLE characteristic operations (notifications, writes)
	connectionControl bool
	connectedDevice   *bluetooth.Device // will be nil if not connected
	ready             chan struct{}
	readyClosed       bool
	disconnected      chan struct{}
	loopCancel        context.CancelFunc

	requested *safe_map.SafeMap[string, *characteristicState]
	resolved  *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic] // per session
}

var _ DeviceGovernor = (*btDeviceImpl)(nil)

func newBtDeviceImpl(manager *BTManager, address string) *btDeviceImpl {
	if manager == nil {
		panic("btDevice: manager cannot be nil")
	}
	return &btDeviceImpl{
		manager:   manager,
		address:   address,
		logger:    manager.logger,
		ready:     make(chan struct{}),
		requested: safe_map.NewSafeMap[string, *characteristicState](),
		resolved:  safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
	}
}

func (b *btDeviceImpl) Address() string {
	return b.address
}

func (b *btDeviceImpl) SetConnectionControl(connect bool) {
	b.mu.Lock()
	if b.connectionControl == connect {
		b.mu.Unlock()
		return
	}
	b.connectionControl = connect
	b.logger.Printf("BTDevice %s: connection control -> %v", b.address, connect)

	if connect {
		ctx, cancel := context.WithCancel(b.manager.ctx)
		b.loopCancel = cancel
		b.mu.Unlock()
		go_func_utils.SafeGoWG(&b.manager.wg, b.logger, func() { b.connectionLoop(ctx) })
		return
	}

	if b.loopCancel != nil {
		b.loopCancel()
		b.loopCancel = nil
	}
	device := b.connectedDevice
	b.mu.Unlock()

	if device != nil {
		if err := device.Disconnect(); err != nil {
			b.logger.Printf("BTDevice %s: disconnect failed: %v", b.address, err)
		}
	}
	b.onDisconnected()
}

// characteristic registers interest in a characteristic so every session resolves it.
func (b *btDeviceImpl) characteristic(serviceUUID, characteristicUUID string) *characteristicState {
	key := characteristicKey(serviceUUID, characteristicUUID)
	state, _ := b.requested.LoadOrStore(key, func() *characteristicState {
		return &characteristicState{
			serviceUUID:        serviceUUID,
			characteristicUUID: characteristicUUID,
			valueEvent:         events.NewCallbackEvent[[]byte](),
		}
	})
	return state
}

func (b *btDeviceImpl) connectionLoop(ctx context.Context) {
	defer b.logger.Printf("BTDevice %s: exiting connection loop", b.address)

	for {
		if ctx.Err() != nil {
			return
		}

		disconnected, err := b.connectOnce()
		if err != nil {
			b.logger.Printf("BTDevice %s: %v, retrying in %v", b.address, err, reconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			b.logger.Printf("BTDevice %s: connection lost", b.address)
		}
	}
}

// connectOnce establishes one session: connect, resolve characteristics, enable notifications.
func (b *btDeviceImpl) connectOnce() (<-chan struct{}, error) {
	scanResult, ok := b.manager.scanResult(b.address)
	if !ok {
		return nil, errors.New("not seen by scanner yet")
	}

	device, err := b.manager.adapter.Connect(scanResult.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	disconnected := make(chan struct{})
	b.mu.Lock()
	b.connectedDevice = &device
	b.disconnected = disconnected
	b.mu.Unlock()

	for _, state := range b.requested.Values() {
		if err := b.enableNotifications(&device, state); err != nil {
			_ = device.Disconnect()
			b.onDisconnected()
			return nil, err
		}
	}

	b.mu.Lock()
	if !b.readyClosed {
		close(b.ready)
		b.readyClosed = true
	}
	b.mu.Unlock()
	b.logger.Printf("BTDevice %s: ready", b.address)
	return disconnected, nil
}

func (b *btDeviceImpl) enableNotifications(device *bluetooth.Device, state *characteristicState) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	serviceUUID, err := bluetooth.ParseUUID(state.serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", state.serviceUUID, err)
	}
	characteristicUUID, err := bluetooth.ParseUUID(state.characteristicUUID)
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID %q: %w", state.characteristicUUID, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("service %s not found: %v", state.serviceUUID, err)
	}
	characteristics, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
	if err != nil || len(characteristics) == 0 {
		return fmt.Errorf("characteristic %s not found: %v", state.characteristicUUID, err)
	}
	characteristic := &characteristics[0]

	valueEvent := state.valueEvent
	err = characteristic.EnableNotifications(func(buf []byte) {
		value := make([]byte, len(buf))
		copy(value, buf)
		valueEvent.Notify(value)
	})
	if err != nil {
		return fmt.Errorf("failed to enable notifications: %w", err)
	}

	b.resolved.Store(characteristicKey(state.serviceUUID, state.characteristicUUID), characteristic)
	b.logger.Printf("BTDevice %s: notifications enabled for %s", b.address, state.characteristicUUID)
	return nil
}

// onDisconnected clears the session. Safe to call more than once.
func (b *btDeviceImpl) onDisconnected() {
	b.resolved.Clear()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectedDevice = nil
	if b.readyClosed {
		b.ready = make(chan struct{})
		b.readyClosed = false
	}
	if b.disconnected != nil {
		close(b.disconnected)
		b.disconnected = nil
	}
}

func (b *btDeviceImpl) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectedDevice != nil
}

func (b *btDeviceImpl) readyChan() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// btCharacteristicImpl is the tinygo backed CharacteristicGovernor.
type btCharacteristicImpl struct {
	device *btDeviceImpl
	state  *characteristicState
}

var _ CharacteristicGovernor = (*btCharacteristicImpl)(nil)

func (c *btCharacteristicImpl) key() string {
	return characteristicKey(c.state.serviceUUID, c.state.characteristicUUID)
}

func (c *btCharacteristicImpl) IsReady() bool {
	if !c.device.isConnected() {
		return false
	}
	_, ok := c.device.resolved.Load(c.key())
	return ok
}

func (c *btCharacteristicImpl) IsWritable() bool {
	return c.IsReady()
}

func (c *btCharacteristicImpl) Write(data []byte) error {
	c.device.bleMu.Lock()
	defer c.device.bleMu.Unlock()

	characteristic, ok := c.device.resolved.Load(c.key())
	if !ok {
		return ErrNotConnected
	}
	// The hub characteristic takes commands as write-without-response
	if _, err := characteristic.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("failed to write characteristic: %w", err)
	}
	return nil
}

func (c *btCharacteristicImpl) AddValueListener(callback func(value []byte)) func() {
	return c.state.valueEvent.Listen(callback)
}

func (c *btCharacteristicImpl) Ready() <-chan struct{} {
	return c.device.readyChan()
}
