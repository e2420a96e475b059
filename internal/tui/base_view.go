package tui

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/train"
)

const logResizePollInterval = 100 * time.Millisecond

// BaseView keeps a ViewImpl in step with the Model.
type BaseView struct {
	view       ViewImpl
	model      *Model
	controller *Controller
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Logger
}

func NewBaseView(view ViewImpl, model *Model, controller *Controller, logger *log.Logger) *BaseView {
	if logger == nil {
		panic("BaseView: logger cannot be nil")
	}
	if view == nil {
		panic("BaseView: view cannot be nil")
	}
	if model == nil {
		panic("BaseView: model cannot be nil")
	}
	if controller == nil {
		panic("BaseView: controller cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	base := &BaseView{
		view:       view,
		model:      model,
		controller: controller,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}

	view.Initialize(controller)
	view.SetupKeyboardHandlers(controller)
	view.SetTrains(model.Trains())
	view.SetDiscovering(model.IsDiscovering())

	go_func_utils.SafeGoWG(&base.wg, logger, base.monitorLogResize)
	base.updateLogDisplay()
	base.setupEventListeners()
	return base
}

// follow runs apply for every value on the registered channel until Shutdown.
func follow[T any](base *BaseView, listen func(chan<- T) func(), apply func(T)) {
	ch := make(chan T, 1)
	unregister := listen(ch)
	go_func_utils.SafeGoWG(&base.wg, base.logger, func() {
		defer unregister()
		for {
			select {
			case <-base.ctx.Done():
				return
			case value := <-ch:
				apply(value)
			}
		}
	})
}

func (base *BaseView) setupEventListeners() {
	follow(base, base.model.ListenToLog, func(string) {
		base.updateLogDisplay()
		base.draw()
	})
	follow(base, base.model.ListenToTrains, func(trains []train.Train) {
		base.view.SetTrains(trains)
		base.draw()
	})
	follow(base, base.model.ListenToDiscovery, func(discovering bool) {
		base.view.SetDiscovering(discovering)
		base.draw()
	})
	follow(base, base.model.ListenToClose, func(struct{}) {
		base.view.Stop()
	})
}

func (base *BaseView) draw() {
	if err := base.view.Draw(); err != nil {
		base.logger.Printf("BaseView: error drawing: %v", err)
	}
}

func (base *BaseView) updateLogDisplay() {
	height := base.view.GetLogViewHeight()
	if height <= 0 {
		return
	}
	base.view.ClearLogView()
	for _, line := range base.model.LogTail(height) {
		if err := base.view.WriteLogLine(line + "\n"); err != nil {
			base.logger.Printf("BaseView: error writing log line: %v", err)
		}
	}
}

func (base *BaseView) monitorLogResize() {
	var lastHeight int
	ticker := time.NewTicker(logResizePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-base.ctx.Done():
			return
		case <-ticker.C:
			height := base.view.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				base.updateLogDisplay()
				base.draw()
			}
		}
	}
}

// Run blocks until the view exits.
func (base *BaseView) Run() error {
	return base.view.Run()
}

func (base *BaseView) Shutdown() {
	base.cancel()
	base.wg.Wait()
}
