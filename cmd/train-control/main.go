// Command train-control manages a fleet of LEGO Powered Up trains over BLE and
// serves the fleet over HTTP, optionally over MQTT and a terminal dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/train-control/internal/api"
	"github.com/lowaak/train-control/internal/bt"
	"github.com/lowaak/train-control/internal/config"
	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/logging"
	"github.com/lowaak/train-control/internal/mqtt"
	"github.com/lowaak/train-control/internal/train"
	"github.com/lowaak/train-control/internal/tui"
	"github.com/lowaak/train-control/internal/workqueue"
)

const (
	shutdownFlushTimeout = 3 * time.Second
	dashboardLogBuffer   = 256
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "train-control: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	// The dashboard owns the terminal, so its log pane replaces stderr.
	var feed *logging.LineFeed
	var extra []io.Writer
	if cfg.UI.TUI {
		feed = logging.NewLineFeed()
		extra = append(extra, feed)
		cfg.Log.Stderr = false
	}
	logger, logCloser := logging.New(cfg.Log, extra...)
	defer logCloser.Close()

	governor := newGovernor(cfg, logger)
	queue := workqueue.New(logger)
	service := train.NewService(governor, queue, train.Config{
		BatteryPollInterval:  cfg.Poll.Battery,
		DistancePollInterval: cfg.Poll.Distance,
	}, logger)
	service.Load(train.LoadTrains(cfg.Trains.Path, logger))

	server := api.New(cfg.HTTP.Listen, service, logger)
	if err := server.Start(); err != nil {
		queue.Shutdown()
		return err
	}

	stopBridge := startMQTT(cfg.MQTT, service, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UI.TUI {
		runDashboard(ctx, service, feed, logger)
	} else {
		logger.Printf("Main: train-control running, listening on %s", server.Addr())
		<-ctx.Done()
	}

	logger.Println("Main: shutting down")
	service.DisconnectAll()
	if !queue.Flush(shutdownFlushTimeout) {
		logger.Println("Main: timed out waiting for shutdown commands")
	}
	if err := train.SaveTrains(cfg.Trains.Path, service.PersistentTrains(), logger); err != nil {
		logger.Printf("Main: failed to save trains: %v", err)
	}

	stopBridge()
	if err := server.Close(); err != nil {
		logger.Printf("Main: %v", err)
	}
	service.Shutdown()
	queue.Shutdown()
	governor.Shutdown()
	logger.Println("Main: bye")
	return nil
}

func newGovernor(cfg *config.Config, logger *log.Logger) bt.Governor {
	if cfg.BLE.Simulate {
		logger.Printf("Main: simulating %d hubs", cfg.BLE.SimulatedHubs)
		return bt.NewSimulator(logger, bt.SimulatorConfig{
			Hubs:           cfg.BLE.SimulatedHubs,
			ForeignDevices: 1,
			AppearInterval: 500 * time.Millisecond,
			ConnectDelay:   cfg.BLE.ConnectDelay,
		})
	}
	return bt.NewBTManager(bluetooth.DefaultAdapter, cfg.BLE.Adapter, logger)
}

// startMQTT connects the bridge when a broker is configured. A broker that
// cannot be reached is logged and the process runs without it.
func startMQTT(cfg config.MQTTConfig, service *train.Service, logger *log.Logger) func() {
	if cfg.Broker == "" {
		return func() {}
	}
	client, err := mqtt.Connect(cfg, logger)
	if err != nil {
		logger.Printf("Main: MQTT disabled: %v", err)
		return func() {}
	}
	bridge := mqtt.NewBridge(client, service, cfg.TopicPrefix, logger)
	if err := bridge.Start(); err != nil {
		logger.Printf("Main: MQTT bridge disabled: %v", err)
		_ = client.Close()
		return func() {}
	}
	return func() {
		bridge.Stop()
		_ = client.Close()
	}
}

// runDashboard blocks until the user quits the dashboard or ctx ends.
func runDashboard(ctx context.Context, service *train.Service, feed *logging.LineFeed, logger *log.Logger) {
	lines := make(chan string, dashboardLogBuffer)
	unregister := feed.Listen(lines)
	defer unregister()

	dashboard := tui.NewDashboard(service, lines, logger)
	defer dashboard.Shutdown()

	done := make(chan struct{})
	defer close(done)
	go_func_utils.SafeGo(logger, func() {
		select {
		case <-ctx.Done():
			dashboard.Stop()
		case <-done:
		}
	})

	if err := dashboard.Run(); err != nil {
		logger.Printf("Main: dashboard error: %v", err)
	}
}
