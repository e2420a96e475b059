package tui

import "github.com/lowaak/train-control/internal/train"

// ViewImpl is the toolkit-specific half of the dashboard.
type ViewImpl interface {
	// Initialize builds the widgets; controller receives their events.
	Initialize(controller *Controller)

	SetupKeyboardHandlers(controller *Controller)

	// Run blocks until the view stops.
	Run() error
	Stop()
	Draw() error

	GetLogViewHeight() int
	ClearLogView()
	WriteLogLine(line string) error

	SetTrains(trains []train.Train)
	SetDiscovering(discovering bool)
}
