package train

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/lowaak/train-control/internal/bt"
	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/workqueue"
	"github.com/stretchr/testify/require"
)

// fakeGovernor records every call the Service makes into the BLE layer.
type fakeGovernor struct {
	mu              sync.Mutex
	startCalls      int
	startErr        error
	discovered      []bt.DiscoveredDevice
	devices         map[string]*fakeDevice
	characteristics map[string]*fakeCharacteristic
	deviceCalls     map[string]int
	charCalls       map[string]int

	discoveryEvent *events.CallbackEvent[bt.DiscoveredDevice]
}

func newFakeGovernor() *fakeGovernor {
	return &fakeGovernor{
		devices:         make(map[string]*fakeDevice),
		characteristics: make(map[string]*fakeCharacteristic),
		deviceCalls:     make(map[string]int),
		charCalls:       make(map[string]int),
		discoveryEvent:  events.NewCallbackEvent[bt.DiscoveredDevice](),
	}
}

func (g *fakeGovernor) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startCalls++
	return g.startErr
}

func (g *fakeGovernor) AdapterName() string { return "fake0" }

func (g *fakeGovernor) DiscoveredDevices() []bt.DiscoveredDevice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bt.DiscoveredDevice(nil), g.discovered...)
}

func (g *fakeGovernor) ListenToDiscovery(callback func(bt.DiscoveredDevice)) func() {
	return g.discoveryEvent.Listen(callback)
}

// discover makes a device known and announces it.
func (g *fakeGovernor) discover(address, name string) {
	d := bt.DiscoveredDevice{Address: address, Name: name}
	g.mu.Lock()
	g.discovered = append(g.discovered, d)
	g.mu.Unlock()
	g.discoveryEvent.Notify(d)
}

func (g *fakeGovernor) device(address string) *fakeDevice {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.devices[address]
	if !ok {
		d = &fakeDevice{address: address}
		g.devices[address] = d
	}
	return d
}

func (g *fakeGovernor) characteristic(address string) *fakeCharacteristic {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.characteristics[address]
	if !ok {
		c = &fakeCharacteristic{
			readyCh:    make(chan struct{}),
			writable:   true,
			valueEvent: events.NewCallbackEvent[[]byte](),
		}
		g.characteristics[address] = c
	}
	return c
}

func (g *fakeGovernor) DeviceGovernor(address string) bt.DeviceGovernor {
	g.mu.Lock()
	g.deviceCalls[address]++
	g.mu.Unlock()
	return g.device(address)
}

func (g *fakeGovernor) CharacteristicGovernor(address, serviceUUID, characteristicUUID string) bt.CharacteristicGovernor {
	g.mu.Lock()
	g.charCalls[address]++
	g.mu.Unlock()
	g.device(address).SetConnectionControl(true)
	return g.characteristic(address)
}

func (g *fakeGovernor) Shutdown() {}

func (g *fakeGovernor) calls(address string) (devices, characteristics int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deviceCalls[address], g.charCalls[address]
}

type fakeDevice struct {
	address string

	mu      sync.Mutex
	control []bool
}

func (d *fakeDevice) Address() string { return d.address }

func (d *fakeDevice) SetConnectionControl(connect bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.control = append(d.control, connect)
}

func (d *fakeDevice) controlHistory() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.control...)
}

type fakeCharacteristic struct {
	mu           sync.Mutex
	ready        bool
	writable     bool
	readyCh      chan struct{}
	writes       [][]byte
	writeErr     error
	listenerAdds int

	valueEvent *events.CallbackEvent[[]byte]
}

func (c *fakeCharacteristic) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeCharacteristic) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writable
}

func (c *fakeCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return c.writeErr
}

func (c *fakeCharacteristic) AddValueListener(callback func(value []byte)) func() {
	c.mu.Lock()
	c.listenerAdds++
	c.mu.Unlock()
	return c.valueEvent.Listen(callback)
}

func (c *fakeCharacteristic) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyCh
}

// makeReady completes the connection session.
func (c *fakeCharacteristic) makeReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		c.ready = true
		close(c.readyCh)
	}
}

// dropReady simulates a session that went away underneath the service.
func (c *fakeCharacteristic) dropReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		c.ready = false
		c.readyCh = make(chan struct{})
	}
}

// emit delivers a notification synchronously on the calling goroutine.
func (c *fakeCharacteristic) emit(value ...byte) {
	c.valueEvent.Notify(value)
}

func (c *fakeCharacteristic) recordedWrites() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeCharacteristic) resetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

func (c *fakeCharacteristic) listeners() int {
	return c.valueEvent.ListenerCount()
}

func (c *fakeCharacteristic) hasWrite(want []byte) bool {
	for _, w := range c.recordedWrites() {
		if string(w) == string(want) {
			return true
		}
	}
	return false
}

// trainRecorder collects broadcasts.
type trainRecorder struct {
	mu     sync.Mutex
	trains []Train
}

func (r *trainRecorder) record(t Train) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trains = append(r.trains, t)
}

func (r *trainRecorder) all() []Train {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Train(nil), r.trains...)
}

func (r *trainRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trains = nil
}

var errFakeAdapter = errors.New("adapter missing")

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type testEnv struct {
	svc      *Service
	gov      *fakeGovernor
	queue    *workqueue.Queue
	recorder *trainRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, DefaultConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := testLogger()
	gov := newFakeGovernor()
	queue := workqueue.New(logger)
	svc := NewService(gov, queue, cfg, logger)
	recorder := &trainRecorder{}
	svc.RegisterTrainListener(recorder.record)
	t.Cleanup(func() {
		svc.Shutdown()
		queue.Shutdown()
	})
	return &testEnv{svc: svc, gov: gov, queue: queue, recorder: recorder}
}

// drain waits until every task queued so far has run.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	e.queue.Submit("barrier", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
}

func (e *testEnv) addTrain(address string) {
	e.svc.Load([]Train{NewTrain(address, "Train "+address)})
}

// connectOnline loads a train, connects it and waits until it is online with
// the initial polls done. Recorded writes and broadcasts are cleared.
func (e *testEnv) connectOnline(t *testing.T, address string) *fakeCharacteristic {
	t.Helper()
	e.addTrain(address)
	require.NoError(t, e.svc.Connect(address))
	cg := e.gov.characteristic(address)
	cg.makeReady()
	require.Eventually(t, func() bool {
		tr, err := e.svc.Train(address)
		return err == nil && tr.Online
	}, 2*time.Second, 5*time.Millisecond)
	e.drain(t)
	cg.resetWrites()
	e.recorder.reset()
	return cg
}
