package mqtt

import (
	"encoding/json"
	"errors"
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

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeTransport struct {
	mu           sync.Mutex
	published    []published
	handlers     map[string]MessageHandler
	subscribeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) deliver(topic string, payload string) error {
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	return handler(topic, []byte(payload))
}

func (f *fakeTransport) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeFleet struct {
	mu          sync.Mutex
	trains      []train.Train
	calls       []string
	discovering bool
	updates     *events.ChannelEvent[train.Train]
}

func newFakeFleet(trains ...train.Train) *fakeFleet {
	return &fakeFleet{trains: trains, updates: events.NewChannelEvent[train.Train]()}
}

func (f *fakeFleet) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeFleet) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFleet) TrainList() []train.Train { return f.trains }

func (f *fakeFleet) ListenToTrains(ch chan<- train.Train) func() { return f.updates.Listen(ch) }

func (f *fakeFleet) Connect(address string) error {
	f.record("connect " + address)
	return nil
}

func (f *fakeFleet) Disconnect(address string) error {
	f.record("disconnect " + address)
	if address == "" {
		return train.ErrUnknownTrain
	}
	return nil
}

func (f *fakeFleet) ConnectAll() error {
	f.record("connectAll")
	return nil
}

func (f *fakeFleet) DisconnectAll() { f.record("disconnectAll") }
func (f *fakeFleet) StopAll()       { f.record("stopAll") }

func (f *fakeFleet) SetDiscovery(enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovering = enable
	f.calls = append(f.calls, "discover")
	return nil
}

const testAddress = "90:84:2B:00:00:01"

func newTestBridge(t *testing.T) (*Bridge, *fakeTransport, *fakeFleet) {
	t.Helper()
	transport := newFakeTransport()
	fleet := newFakeFleet(train.NewTrain(testAddress, "Express"))
	bridge := NewBridge(transport, fleet, "trains", log.New(io.Discard, "", 0))
	require.NoError(t, bridge.Start())
	t.Cleanup(bridge.Stop)
	return bridge, transport, fleet
}

func TestNewBridge_PanicsOnNilDependencies(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	assert.Panics(t, func() { NewBridge(nil, newFakeFleet(), "trains", logger) })
	assert.Panics(t, func() { NewBridge(newFakeTransport(), nil, "trains", logger) })
	assert.Panics(t, func() { NewBridge(newFakeTransport(), newFakeFleet(), "trains", nil) })
}

func TestBridge_PublishesFleetOnStart(t *testing.T) {
	bridge, transport, _ := newTestBridge(t)

	msgs := transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "trains/"+testAddress+"/state", msgs[0].topic)
	assert.True(t, msgs[0].retained)

	var got train.Train
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "Express", got.Name)

	assert.Error(t, bridge.Start())
}

func TestBridge_PublishesUpdates(t *testing.T) {
	_, transport, fleet := newTestBridge(t)

	update := train.NewTrain(testAddress, "Express")
	update.Online = true
	update.Battery = 55
	fleet.updates.Notify(update)

	require.Eventually(t, func() bool { return len(transport.messages()) == 2 }, time.Second, 5*time.Millisecond)
	var got train.Train
	require.NoError(t, json.Unmarshal(transport.messages()[1].payload, &got))
	assert.True(t, got.Online)
	assert.Equal(t, 55, got.Battery)
}

func TestBridge_StopDetachesFromService(t *testing.T) {
	bridge, _, fleet := newTestBridge(t)

	assert.Equal(t, 1, fleet.updates.ListenerCount())
	bridge.Stop()
	assert.Equal(t, 0, fleet.updates.ListenerCount())
	bridge.Stop()
}

func TestBridge_Commands(t *testing.T) {
	_, transport, fleet := newTestBridge(t)
	topic := Topics{Prefix: "trains"}.Command()

	require.NoError(t, transport.deliver(topic, "stop_all"))
	require.NoError(t, transport.deliver(topic, " CONNECT_ALL \n"))
	require.NoError(t, transport.deliver(topic, `{"command":"disconnect_all"}`))
	require.NoError(t, transport.deliver(topic, `{"command":"connect","address":"`+testAddress+`"}`))
	require.NoError(t, transport.deliver(topic, `{"command":"disconnect","address":"`+testAddress+`"}`))
	require.NoError(t, transport.deliver(topic, `{"command":"discover","enable":false}`))

	assert.Equal(t, []string{
		"stopAll",
		"connectAll",
		"disconnectAll",
		"connect " + testAddress,
		"disconnect " + testAddress,
		"discover",
	}, fleet.recorded())
	assert.False(t, fleet.discovering)

	require.NoError(t, transport.deliver(topic, "discover"))
	assert.True(t, fleet.discovering)
}

func TestBridge_CommandErrors(t *testing.T) {
	_, transport, _ := newTestBridge(t)
	topic := Topics{Prefix: "trains"}.Command()

	assert.ErrorIs(t, transport.deliver(topic, "warp_speed"), ErrUnknownCommand)
	assert.Error(t, transport.deliver(topic, `{"command":`))
	assert.ErrorIs(t, transport.deliver(topic, `{"command":"disconnect"}`), train.ErrUnknownTrain)
}

func TestBridge_StartFailsWhenSubscribeFails(t *testing.T) {
	transport := newFakeTransport()
	transport.subscribeErr = errors.New("broker down")
	fleet := newFakeFleet()
	bridge := NewBridge(transport, fleet, "trains", log.New(io.Discard, "", 0))

	assert.Error(t, bridge.Start())
	assert.Equal(t, 0, fleet.updates.ListenerCount())
}
