package tui

import (
	"log"

	"github.com/rivo/tview"

	"github.com/lowaak/train-control/internal/train"
)

const updateBufferSize = 64

// Dashboard assembles the model, controller and tview view over a service.
type Dashboard struct {
	model      *Model
	base       *BaseView
	unregister func()
}

// NewDashboard builds the terminal dashboard. logLines usually comes from a
// logging.LineFeed so the log pane shows what the process logs.
func NewDashboard(service Service, logLines <-chan string, logger *log.Logger) *Dashboard {
	return newDashboard(service, NewTviewView(tview.NewApplication(), logger), logLines, logger)
}

func newDashboard(service Service, view ViewImpl, logLines <-chan string, logger *log.Logger) *Dashboard {
	if service == nil {
		panic("Dashboard: service cannot be nil")
	}
	updates := make(chan train.Train, updateBufferSize)
	unregister := service.ListenToTrains(updates)
	model := NewModel(service.TrainList(), service.IsDiscovering(), updates, logLines, logger)
	controller := NewController(model, service, logger)
	return &Dashboard{
		model:      model,
		base:       NewBaseView(view, model, controller, logger),
		unregister: unregister,
	}
}

// Run blocks until the user quits.
func (d *Dashboard) Run() error {
	return d.base.Run()
}

// Stop makes Run return, as if the user had quit.
func (d *Dashboard) Stop() {
	d.model.RequestClose()
}

func (d *Dashboard) Shutdown() {
	d.unregister()
	d.base.Shutdown()
	d.model.Shutdown()
}
