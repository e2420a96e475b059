// Package tui is the terminal dashboard: a Model fed by the train service and
// the log stream, a Controller turning key presses into service calls, and a
// tview view rendering both.
package tui

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/lowaak/train-control/internal/events"
	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/train"
)

const maxLogLines = 1000

// Model holds what the dashboard renders.
type Model struct {
	trainsEvent    *events.ChannelEvent[[]train.Train]
	discoveryEvent *events.ChannelEvent[bool]
	logEvent       *events.ChannelEvent[string]
	closeEvent     *events.ChannelEvent[struct{}]
	trains         map[string]train.Train
	discovering    bool
	logLines       []string
	mu             sync.RWMutex
	logMu          sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	logger         *log.Logger
}

// NewModel seeds the model from initial and follows updates and logLines until Shutdown.
func NewModel(initial []train.Train, discovering bool, updates <-chan train.Train, logLines <-chan string, logger *log.Logger) *Model {
	if logger == nil {
		panic("Model: logger cannot be nil")
	}
	if updates == nil {
		panic("Model: updates cannot be nil")
	}
	if logLines == nil {
		panic("Model: logLines cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		trainsEvent:    events.NewChannelEvent[[]train.Train](),
		discoveryEvent: events.NewChannelEvent[bool](),
		logEvent:       events.NewChannelEvent[string](),
		closeEvent:     events.NewChannelEvent[struct{}](),
		trains:         make(map[string]train.Train, len(initial)),
		discovering:    discovering,
		logLines:       make([]string, 0, maxLogLines),
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
	}
	for _, t := range initial {
		m.trains[t.Address] = t
	}

	go_func_utils.SafeGoWG(&m.wg, logger, func() { m.followTrains(updates) })
	go_func_utils.SafeGoWG(&m.wg, logger, func() { m.readLogLines(logLines) })
	return m
}

func (m *Model) followTrains(updates <-chan train.Train) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-updates:
			m.SetTrain(t)
		}
	}
}

func (m *Model) readLogLines(lines <-chan string) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case line := <-lines:
			m.logMu.Lock()
			if len(m.logLines) >= maxLogLines {
				m.logLines = append(m.logLines[:0], m.logLines[1:]...)
			}
			m.logLines = append(m.logLines, line)
			m.logMu.Unlock()
			m.logEvent.Notify(line)
		}
	}
}

// Shutdown stops following updates.
func (m *Model) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// SetTrain stores a train snapshot and notifies listeners with the new list.
func (m *Model) SetTrain(t train.Train) {
	m.mu.Lock()
	m.trains[t.Address] = t
	list := m.sortedLocked()
	m.mu.Unlock()
	m.trainsEvent.Notify(list)
}

// RemoveTrain drops a train that the service no longer knows.
func (m *Model) RemoveTrain(address string) {
	m.mu.Lock()
	delete(m.trains, address)
	list := m.sortedLocked()
	m.mu.Unlock()
	m.trainsEvent.Notify(list)
}

// Trains returns the known trains ordered by address.
func (m *Model) Trains() []train.Train {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *Model) sortedLocked() []train.Train {
	list := make([]train.Train, 0, len(m.trains))
	for _, t := range m.trains {
		list = append(list, t.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Address < list[j].Address })
	return list
}

// Train returns the train at index in address order.
func (m *Model) Train(index int) (train.Train, bool) {
	list := m.Trains()
	if index < 0 || index >= len(list) {
		return train.Train{}, false
	}
	return list[index], true
}

func (m *Model) SetDiscovering(discovering bool) {
	m.mu.Lock()
	changed := m.discovering != discovering
	m.discovering = discovering
	m.mu.Unlock()
	if changed {
		m.discoveryEvent.Notify(discovering)
	}
}

func (m *Model) IsDiscovering() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.discovering
}

// LogTail returns at most n of the most recent log lines.
func (m *Model) LogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(m.logLines) - n
	if start < 0 {
		start = 0
	}
	return append([]string(nil), m.logLines[start:]...)
}

func (m *Model) ListenToTrains(ch chan<- []train.Train) func() {
	return m.trainsEvent.Listen(ch)
}

func (m *Model) ListenToDiscovery(ch chan<- bool) func() {
	return m.discoveryEvent.Listen(ch)
}

func (m *Model) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

func (m *Model) ListenToClose(ch chan<- struct{}) func() {
	return m.closeEvent.Listen(ch)
}

// RequestClose asks the view to stop.
func (m *Model) RequestClose() {
	m.closeEvent.Notify(struct{}{})
}
