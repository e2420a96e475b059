// Package mqtt bridges the train fleet to an MQTT broker: every train snapshot
// is published retained under <prefix>/<address>/state and fleet commands are
// accepted on <prefix>/command.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/train"
)

// Commands accepted on the command topic.
const (
	CommandStopAll       = "stop_all"
	CommandConnectAll    = "connect_all"
	CommandDisconnectAll = "disconnect_all"
	CommandConnect       = "connect"
	CommandDisconnect    = "disconnect"
	CommandDiscover      = "discover"
)

const updateBufferSize = 64

var ErrUnknownCommand = errors.New("unknown command")

// Transport is the broker side of the bridge; *Client implements it.
type Transport interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// FleetService is the part of train.Service driven by the bridge.
type FleetService interface {
	TrainList() []train.Train
	ListenToTrains(ch chan<- train.Train) func()
	Connect(address string) error
	Disconnect(address string) error
	ConnectAll() error
	DisconnectAll()
	StopAll()
	SetDiscovery(enable bool) error
}

var (
	_ Transport    = (*Client)(nil)
	_ FleetService = (*train.Service)(nil)
)

// Command is the JSON form of a command message. A bare command name such as
// "stop_all" is accepted as well.
type Command struct {
	Command string `json:"command"`
	Address string `json:"address,omitempty"`
	Enable  *bool  `json:"enable,omitempty"`
}

type Bridge struct {
	transport Transport
	service   FleetService
	topics    Topics
	logger    *log.Logger

	mu         sync.Mutex
	unregister func()
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewBridge(transport Transport, service FleetService, prefix string, logger *log.Logger) *Bridge {
	if transport == nil {
		panic("MQTT: transport cannot be nil")
	}
	if service == nil {
		panic("MQTT: service cannot be nil")
	}
	if logger == nil {
		panic("MQTT: logger cannot be nil")
	}
	return &Bridge{
		transport: transport,
		service:   service,
		topics:    Topics{Prefix: prefix},
		logger:    logger,
	}
}

// Start subscribes to the command topic, publishes the current fleet and then
// follows every train update.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("MQTT: bridge already started")
	}

	if err := b.transport.Subscribe(b.topics.Command(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.topics.Command(), err)
	}

	updates := make(chan train.Train, updateBufferSize)
	b.unregister = b.service.ListenToTrains(updates)
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, t := range b.service.TrainList() {
		b.publishTrain(t)
	}

	go_func_utils.SafeGoWG(&b.wg, b.logger, func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-updates:
				b.publishTrain(t)
			}
		}
	})
	return nil
}

// Stop detaches from the service. The transport is closed by its owner.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	unregister := b.unregister
	b.cancel = nil
	b.unregister = nil
	b.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

func (b *Bridge) publishTrain(t train.Train) {
	payload, err := json.Marshal(t)
	if err != nil {
		b.logger.Printf("MQTT: failed to encode train %s: %v", t.Address, err)
		return
	}
	if err := b.transport.Publish(b.topics.TrainState(t.Address), payload, true); err != nil {
		b.logger.Printf("MQTT: failed to publish state of %s: %v", t.Address, err)
	}
}

func parseCommand(payload []byte) (Command, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var cmd Command
		if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil {
			return Command{}, fmt.Errorf("invalid command payload: %w", err)
		}
		return cmd, nil
	}
	return Command{Command: trimmed}, nil
}

func (b *Bridge) handleCommand(_ string, payload []byte) error {
	cmd, err := parseCommand(payload)
	if err != nil {
		return err
	}
	b.logger.Printf("MQTT: command %q %s", cmd.Command, cmd.Address)

	switch strings.ToLower(cmd.Command) {
	case CommandStopAll:
		b.service.StopAll()
	case CommandConnectAll:
		return b.service.ConnectAll()
	case CommandDisconnectAll:
		b.service.DisconnectAll()
	case CommandConnect:
		return b.service.Connect(cmd.Address)
	case CommandDisconnect:
		return b.service.Disconnect(cmd.Address)
	case CommandDiscover:
		enable := true
		if cmd.Enable != nil {
			enable = *cmd.Enable
		}
		return b.service.SetDiscovery(enable)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return nil
}
