package tui

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/train"
)

const (
	addrA = "90:84:2B:00:00:01"
	addrB = "90:84:2B:00:00:02"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeService struct {
	mu          sync.Mutex
	trains      map[string]train.Train
	discovering bool
	calls       []string
	ports       []train.Port
	updates     *events.ChannelEvent[train.Train]
}

func newFakeService(trains ...train.Train) *fakeService {
	f := &fakeService{trains: make(map[string]train.Train), updates: events.NewChannelEvent[train.Train]()}
	for _, t := range trains {
		f.trains[t.Address] = t
	}
	return f
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeService) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) TrainList() []train.Train {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]train.Train, 0, len(f.trains))
	for _, t := range f.trains {
		list = append(list, t)
	}
	return list
}

func (f *fakeService) UpdateTrain(requested train.Train) (train.Train, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trains[requested.Address]
	if !ok {
		return train.Train{}, train.ErrUnknownTrain
	}
	t.Color = requested.Color
	f.trains[t.Address] = t
	return t, nil
}

func (f *fakeService) UpdatePort(requested train.Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = append(f.ports, requested)
	return nil
}

func (f *fakeService) IsDiscovering() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discovering
}

func (f *fakeService) ToggleDiscovery() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovering = !f.discovering
	return f.discovering, nil
}

func (f *fakeService) Connect(address string) error {
	f.record("connect " + address)
	return nil
}

func (f *fakeService) Disconnect(address string) error {
	f.record("disconnect " + address)
	return nil
}

func (f *fakeService) ConnectAll() error {
	f.record("connectAll")
	return nil
}

func (f *fakeService) DisconnectAll() { f.record("disconnectAll") }
func (f *fakeService) StopAll()       { f.record("stopAll") }

func (f *fakeService) Remove(address string) error {
	f.record("remove " + address)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trains[address]; !ok {
		return train.ErrUnknownTrain
	}
	delete(f.trains, address)
	return nil
}

func (f *fakeService) ListenToTrains(ch chan<- train.Train) func() {
	return f.updates.Listen(ch)
}

type fakeView struct {
	mu          sync.Mutex
	trains      [][]train.Train
	discovering []bool
	logLines    []string
	stopped     bool
	height      int
}

func (v *fakeView) Initialize(*Controller)            {}
func (v *fakeView) SetupKeyboardHandlers(*Controller) {}
func (v *fakeView) Run() error                        { return nil }
func (v *fakeView) Draw() error                       { return nil }

func (v *fakeView) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

func (v *fakeView) GetLogViewHeight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

func (v *fakeView) ClearLogView() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.logLines = nil
}

func (v *fakeView) WriteLogLine(line string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.logLines = append(v.logLines, line)
	return nil
}

func (v *fakeView) SetTrains(trains []train.Train) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trains = append(v.trains, trains)
}

func (v *fakeView) SetDiscovering(discovering bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.discovering = append(v.discovering, discovering)
}

func (v *fakeView) lastTrains() []train.Train {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.trains) == 0 {
		return nil
	}
	return v.trains[len(v.trains)-1]
}

func onlineTrain(address string) train.Train {
	t := train.NewTrain(address, "Cargo")
	t.Online = true
	t.Ports[0] = train.Port{Address: address, ID: 0, DeviceType: 2}
	t.Ports[1] = train.Port{Address: address, ID: 1, DeviceType: 1, Power: 95}
	t.Ports[train.LEDPort] = train.Port{Address: address, ID: train.LEDPort, DeviceType: 0x17}
	return t
}

func newTestModel(t *testing.T, trains ...train.Train) (*Model, chan train.Train, chan string) {
	t.Helper()
	updates := make(chan train.Train, 8)
	lines := make(chan string, 8)
	m := NewModel(trains, false, updates, lines, testLogger())
	t.Cleanup(m.Shutdown)
	return m, updates, lines
}

func TestNewModel_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() { NewModel(nil, false, make(chan train.Train), make(chan string), nil) })
	assert.Panics(t, func() { NewModel(nil, false, nil, make(chan string), testLogger()) })
	assert.Panics(t, func() { NewModel(nil, false, make(chan train.Train), nil, testLogger()) })
}

func TestModel_TrainsSortedAndFollowed(t *testing.T) {
	m, updates, _ := newTestModel(t, train.NewTrain(addrB, "B"), train.NewTrain(addrA, "A"))

	list := m.Trains()
	require.Len(t, list, 2)
	assert.Equal(t, addrA, list[0].Address)
	assert.Equal(t, addrB, list[1].Address)

	ch := make(chan []train.Train, 1)
	defer m.ListenToTrains(ch)()

	updated := train.NewTrain(addrB, "B")
	updated.Battery = 12
	updates <- updated

	select {
	case got := <-ch:
		require.Len(t, got, 2)
		assert.Equal(t, 12, got[1].Battery)
	case <-time.After(time.Second):
		t.Fatal("no train list notification")
	}

	tr, ok := m.Train(1)
	require.True(t, ok)
	assert.Equal(t, 12, tr.Battery)
	_, ok = m.Train(2)
	assert.False(t, ok)
	_, ok = m.Train(-1)
	assert.False(t, ok)
}

func TestModel_LogTail(t *testing.T) {
	m, _, lines := newTestModel(t)

	lines <- "one"
	lines <- "two"
	lines <- "three"
	require.Eventually(t, func() bool { return len(m.LogTail(10)) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"two", "three"}, m.LogTail(2))
	assert.Nil(t, m.LogTail(0))
}

func TestModel_LogIsCapped(t *testing.T) {
	m, _, lines := newTestModel(t)

	go func() {
		for i := 0; i < maxLogLines+5; i++ {
			lines <- "line"
		}
		lines <- "last"
	}()
	require.Eventually(t, func() bool {
		tail := m.LogTail(1)
		return len(tail) == 1 && tail[0] == "last"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, m.LogTail(maxLogLines*2), maxLogLines)
}

func TestModel_DiscoveryNotifiesOnChange(t *testing.T) {
	m, _, _ := newTestModel(t)
	ch := make(chan bool, 4)
	defer m.ListenToDiscovery(ch)()

	m.SetDiscovering(false)
	m.SetDiscovering(true)
	m.SetDiscovering(true)

	assert.True(t, m.IsDiscovering())
	require.Len(t, ch, 1)
	assert.True(t, <-ch)
}

func newTestController(t *testing.T, trains ...train.Train) (*Controller, *Model, *fakeService) {
	t.Helper()
	svc := newFakeService(trains...)
	m, _, _ := newTestModel(t, trains...)
	return NewController(m, svc, testLogger()), m, svc
}

func TestController_TrainSelectedTogglesConnection(t *testing.T) {
	c, _, svc := newTestController(t, train.NewTrain(addrA, "A"), onlineTrain(addrB))

	c.TrainSelected(0)
	c.TrainSelected(1)
	c.TrainSelected(5)

	assert.Equal(t, []string{"connect " + addrA, "disconnect " + addrB}, svc.recorded())
}

func TestController_FleetCommands(t *testing.T) {
	c, _, svc := newTestController(t, train.NewTrain(addrA, "A"))

	c.Connect(0)
	c.Disconnect(0)
	c.ConnectAll()
	c.DisconnectAll()
	c.StopAll()

	assert.Equal(t, []string{"connect " + addrA, "disconnect " + addrA, "connectAll", "disconnectAll", "stopAll"}, svc.recorded())
}

func TestController_RemoveDropsTrainFromModel(t *testing.T) {
	c, m, svc := newTestController(t, train.NewTrain(addrA, "A"), train.NewTrain(addrB, "B"))

	c.Remove(0)

	assert.Equal(t, []string{"remove " + addrA}, svc.recorded())
	list := m.Trains()
	require.Len(t, list, 1)
	assert.Equal(t, addrB, list[0].Address)
}

func TestController_PowerStepsMotorsOnly(t *testing.T) {
	c, _, svc := newTestController(t, onlineTrain(addrA))

	c.IncreasePower(0)
	c.DecreasePower(0)

	require.Len(t, svc.ports, 4)
	assert.Equal(t, train.Port{Address: addrA, ID: 0, DeviceType: 2, Power: 10}, svc.ports[0])
	assert.Equal(t, 105, svc.ports[1].Power)
	assert.Equal(t, -10, svc.ports[2].Power)
	assert.Equal(t, 85, svc.ports[3].Power)
}

func TestController_PowerIgnoresOfflineTrain(t *testing.T) {
	c, _, svc := newTestController(t, train.NewTrain(addrA, "A"))

	c.IncreasePower(0)

	assert.Empty(t, svc.ports)
}

func TestController_CycleColor(t *testing.T) {
	c, m, _ := newTestController(t, train.NewTrain(addrA, "A"))
	palette := train.Palette()

	c.CycleColor(0)
	tr, _ := m.Train(0)
	assert.Equal(t, palette[1], tr.Color)

	for i := 0; i < len(palette)-1; i++ {
		c.CycleColor(0)
	}
	tr, _ = m.Train(0)
	assert.Equal(t, palette[0], tr.Color)
}

func TestController_ToggleDiscovery(t *testing.T) {
	c, m, _ := newTestController(t)

	c.ToggleDiscovery()
	assert.True(t, m.IsDiscovering())
	c.ToggleDiscovery()
	assert.False(t, m.IsDiscovering())
}

func TestDashboard_KeepsViewInStep(t *testing.T) {
	svc := newFakeService(train.NewTrain(addrA, "A"))
	view := &fakeView{height: 5}
	lines := make(chan string, 8)
	d := newDashboard(svc, view, lines, testLogger())
	defer d.Shutdown()

	require.Len(t, view.lastTrains(), 1)
	require.Equal(t, 1, svc.updates.ListenerCount())

	online := train.NewTrain(addrA, "A")
	online.Online = true
	svc.updates.Notify(online)
	require.Eventually(t, func() bool {
		list := view.lastTrains()
		return len(list) == 1 && list[0].Online
	}, time.Second, 5*time.Millisecond)

	lines <- "Service: hello"
	require.Eventually(t, func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		return len(view.logLines) == 1 && view.logLines[0] == "Service: hello\n"
	}, time.Second, 5*time.Millisecond)

	d.model.RequestClose()
	require.Eventually(t, func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		return view.stopped
	}, time.Second, 5*time.Millisecond)
}

func TestDashboard_ShutdownUnregisters(t *testing.T) {
	svc := newFakeService()
	d := newDashboard(svc, &fakeView{}, make(chan string), testLogger())

	d.Shutdown()

	assert.Equal(t, 0, svc.updates.ListenerCount())
}
