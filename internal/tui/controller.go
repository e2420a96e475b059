package tui

import (
	"log"

	"github.com/lowaak/train-control/internal/train"
)

const powerStep = 10

// Service is the part of train.Service the dashboard drives.
type Service interface {
	TrainList() []train.Train
	UpdateTrain(requested train.Train) (train.Train, error)
	UpdatePort(requested train.Port) error
	IsDiscovering() bool
	ToggleDiscovery() (bool, error)
	Connect(address string) error
	Disconnect(address string) error
	ConnectAll() error
	DisconnectAll()
	Remove(address string) error
	StopAll()
	ListenToTrains(ch chan<- train.Train) func()
}

var _ Service = (*train.Service)(nil)

// Controller turns dashboard input into service calls. Failures are logged,
// the dashboard has nowhere else to show them.
type Controller struct {
	model   *Model
	service Service
	logger  *log.Logger
}

func NewController(model *Model, service Service, logger *log.Logger) *Controller {
	if model == nil {
		panic("Controller: model cannot be nil")
	}
	if service == nil {
		panic("Controller: service cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	return &Controller{model: model, service: service, logger: logger}
}

func (c *Controller) ToggleDiscovery() {
	discovering, err := c.service.ToggleDiscovery()
	if err != nil {
		c.logger.Printf("UI: discovery failed: %v", err)
	}
	c.model.SetDiscovering(discovering)
}

// TrainSelected connects an offline train and disconnects an online one.
func (c *Controller) TrainSelected(index int) {
	t, ok := c.model.Train(index)
	if !ok {
		return
	}
	if t.Online {
		c.Disconnect(index)
		return
	}
	c.Connect(index)
}

func (c *Controller) Connect(index int) {
	c.withTrain(index, "connect", c.service.Connect)
}

func (c *Controller) Disconnect(index int) {
	c.withTrain(index, "disconnect", c.service.Disconnect)
}

func (c *Controller) Remove(index int) {
	t, ok := c.model.Train(index)
	if !ok {
		return
	}
	if err := c.service.Remove(t.Address); err != nil {
		c.logger.Printf("UI: remove %s failed: %v", t.Address, err)
		return
	}
	c.model.RemoveTrain(t.Address)
}

func (c *Controller) withTrain(index int, what string, action func(address string) error) {
	t, ok := c.model.Train(index)
	if !ok {
		return
	}
	if err := action(t.Address); err != nil {
		c.logger.Printf("UI: %s %s failed: %v", what, t.Address, err)
	}
}

func (c *Controller) ConnectAll() {
	if err := c.service.ConnectAll(); err != nil {
		c.logger.Printf("UI: connect all failed: %v", err)
	}
}

func (c *Controller) DisconnectAll() {
	c.service.DisconnectAll()
}

func (c *Controller) StopAll() {
	c.service.StopAll()
}

// IncreasePower raises every motor of the selected train by one step.
func (c *Controller) IncreasePower(index int) {
	c.changePower(index, powerStep)
}

// DecreasePower lowers every motor of the selected train by one step.
func (c *Controller) DecreasePower(index int) {
	c.changePower(index, -powerStep)
}

func (c *Controller) changePower(index, delta int) {
	t, ok := c.model.Train(index)
	if !ok {
		return
	}
	if !t.Online {
		c.logger.Printf("UI: %s is offline", t.Address)
		return
	}
	for _, p := range t.SortedPorts() {
		if !p.IsMotor() {
			continue
		}
		p.Power += delta
		if err := c.service.UpdatePort(p); err != nil {
			c.logger.Printf("UI: power change on %s port %d failed: %v", t.Address, p.ID, err)
		}
	}
}

// CycleColor moves the selected train's LED to the next palette color.
func (c *Controller) CycleColor(index int) {
	t, ok := c.model.Train(index)
	if !ok {
		return
	}
	palette := train.Palette()
	next := palette[0]
	for i, color := range palette {
		if color.Equal(t.Color) {
			next = palette[(i+1)%len(palette)]
			break
		}
	}
	t.Color = next
	updated, err := c.service.UpdateTrain(t)
	if err != nil {
		c.logger.Printf("UI: color change on %s failed: %v", t.Address, err)
		return
	}
	c.model.SetTrain(updated)
}

func (c *Controller) Quit() {
	c.model.RequestClose()
}
