package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"contenthub/transfer"
)

// WatchdogOptions configure a Watchdog.
type WatchdogOptions struct {
	// Registry holds the transfers to sweep.
	Registry *transfer.Registry

	// Timeout is how long a transfer may sit in one non-terminal state
	// before it is aborted.
	Timeout time.Duration

	// Interval between sweeps. Defaults to half the timeout.
	Interval time.Duration
}

func (o WatchdogOptions) withDefaults() WatchdogOptions {
	if o.Interval <= 0 {
		o.Interval = o.Timeout / 2
	}
	return o
}

// Watchdog aborts transfers that stopped making progress, typically ones
// created against a peer that never resolved or an application that went
// away without concluding. The transfer machinery itself never times
// out; hosts that want a bound opt in here.
type Watchdog struct {
	options WatchdogOptions

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatchdog returns a watchdog sweeping the given registry.
func NewWatchdog(options WatchdogOptions) (*Watchdog, error) {
	if options.Registry == nil {
		return nil, errors.New("hub: watchdog requires a registry")
	}
	if options.Timeout <= 0 {
		return nil, fmt.Errorf("hub: watchdog timeout must be positive, got %v", options.Timeout)
	}
	return &Watchdog{options: options.withDefaults()}, nil
}

// Start begins sweeping until ctx ends or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.options.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sweep()
			}
		}
	}()
}

// Stop ends sweeping and waits for the current sweep to finish.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
}

func (w *Watchdog) sweep() {
	now := time.Now()
	for _, t := range w.options.Registry.Snapshot() {
		state := t.State()
		if state.Terminal() {
			continue
		}
		idle := now.Sub(t.LastChange())
		if idle < w.options.Timeout {
			continue
		}
		log.Infof("aborting transfer %s idle for %v in state %s", t.ID(), idle.Round(time.Second), state)
		if err := t.Abort(); err != nil && !errors.Is(err, transfer.ErrInvalidTransition) {
			log.Warnf("aborting idle transfer %s: %v", t.ID(), err)
		}
	}
}
