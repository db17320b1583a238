// Package shutdown implements a rank's drain-and-stop control surface
// (§5): it polls a stop file and installs SIGINT/SIGTERM handlers, and
// when either fires it runs the registered callbacks once. The CLI
// registers a single callback that cancels the rank's context; a worker
// loop then returns after the column it is processing, and forwards
// still in flight run against the cancelled context, so they are not
// guaranteed to be delivered.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Controller watches for a drain-and-stop request and runs registered
// callbacks exactly once when one arrives.
type Controller struct {
	stopFile       string
	stopCh         chan struct{}
	stopped        bool
	mutex          sync.RWMutex
	callbacks      []func()
	pollInterval   time.Duration
	signalHandlers bool
}

// Config configures a Controller.
type Config struct {
	// StopFile, if present on disk, triggers a drain-and-stop the same
	// way a SIGTERM would.
	StopFile string

	// PollInterval is how often StopFile's existence is checked.
	PollInterval time.Duration

	// EnableSignalHandlers installs SIGINT/SIGTERM handlers.
	EnableSignalHandlers bool
}

// New creates a drain-and-stop controller.
func New(config Config) *Controller {
	if config.StopFile == "" {
		config.StopFile = "/tmp/nomad-drain-stop"
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}

	return &Controller{
		stopFile:       config.StopFile,
		stopCh:         make(chan struct{}),
		callbacks:      make([]func(), 0),
		pollInterval:   config.PollInterval,
		signalHandlers: config.EnableSignalHandlers,
	}
}

// Start begins watching for a drain-and-stop request.
func (c *Controller) Start(ctx context.Context) {
	go c.watchStopFile(ctx)
	if c.signalHandlers {
		go c.watchSignals(ctx)
	}
}

func (c *Controller) watchStopFile(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.checkStopFile() {
				log.Warn().Str("stop_file", c.stopFile).Msg("drain-and-stop file detected")
				c.triggerStop("stop file detected")
				return
			}
		}
	}
}

func (c *Controller) watchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		signal.Stop(sigCh)
		return
	case sig := <-sigCh:
		log.Warn().Str("signal", sig.String()).Msg("drain-and-stop signal received")
		c.triggerStop(fmt.Sprintf("signal: %v", sig))
		signal.Stop(sigCh)
	}
}

func (c *Controller) checkStopFile() bool {
	_, err := os.Stat(c.stopFile)
	return err == nil
}

func (c *Controller) triggerStop(reason string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)

	log.Warn().Str("reason", reason).Msg("drain-and-stop triggered")
	for i, callback := range c.callbacks {
		log.Info().Int("callback", i+1).Int("total", len(c.callbacks)).Msg("running drain-and-stop callback")
		callback()
	}
}

// Stop manually triggers a drain-and-stop, used by the CLI's own signal
// handler in "nomad run".
func (c *Controller) Stop(reason string) {
	c.triggerStop(reason)
}

// IsStopped reports whether drain-and-stop has been triggered.
func (c *Controller) IsStopped() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stopped
}

// StopChannel closes when drain-and-stop is triggered. The worker loop
// does not read it; it stops through the context cancelled by the
// OnStop callback.
func (c *Controller) StopChannel() <-chan struct{} {
	return c.stopCh
}

// OnStop registers a callback run once, in registration order, when
// drain-and-stop triggers. "nomad run" registers the cancel function of
// the rank's context here, for workers and the coordinator alike.
func (c *Controller) OnStop(callback func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// CreateStopFile writes the drain-and-stop marker file, used by
// operational scripts that want to stop a rank without signaling it.
func (c *Controller) CreateStopFile() error {
	f, err := os.Create(c.stopFile)
	if err != nil {
		return fmt.Errorf("shutdown: create stop file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(fmt.Sprintf("drain-and-stop requested at %s\n", time.Now().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("shutdown: write stop file: %w", err)
	}
	return nil
}

// RemoveStopFile removes the drain-and-stop marker file.
func (c *Controller) RemoveStopFile() error {
	err := os.Remove(c.stopFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shutdown: remove stop file: %w", err)
	}
	return nil
}

// StopFilePath returns the path being watched.
func (c *Controller) StopFilePath() string {
	return c.stopFile
}
