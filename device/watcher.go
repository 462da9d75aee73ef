// Package device hosts the components that run on each customer device:
// the convergence watcher that merges the push and poll paths into one
// deduplicated change stream, and the order lifecycle controller that
// owns the per-device state machine.
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
	"github.com/andriyanwar/meja-app/services"
)

const (
	// DefaultPollInterval bounds how stale a device can be when the push
	// transport silently drops.
	DefaultPollInterval = 3 * time.Second

	// DefaultMaxPollFailures is how many consecutive poll errors are
	// absorbed before the backend is considered unreachable.
	DefaultMaxPollFailures = 5
)

// State is one authoritative observation. Version identifies the logical
// state: two observations with equal versions are the same state no
// matter which path delivered them.
type State struct {
	Version string
	Data    interface{}
}

// FetchFunc reads the current authoritative state, the poll half of the
// channel.
type FetchFunc func() (State, error)

// WatchConfig wires a Watcher.
type WatchConfig struct {
	Fetch    FetchFunc
	Push     <-chan State
	Interval time.Duration
	OnChange func(State)
	OnError  func(error)

	// Teardown, when set, runs exactly once from Stop. It is where the
	// subscription feeding Push gets released, so stopping the watcher
	// cannot leave a hub subscription (and its bridge goroutine) behind.
	Teardown func()

	MaxPollFailures int
}

// Watcher delivers authoritative changes for one key over two independent
// paths: push events as the transport notifies them, and a fixed-interval
// poll as a safety net. Both paths feed the same dedup gate, so the
// subscriber never sees the same logical state twice in a row, and a
// change is observed within one poll interval even if push never fires.
type Watcher struct {
	cfg      WatchConfig
	mu       sync.Mutex
	last     string
	lastSet  bool
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Watch starts a watcher. Stop must be called to release both the push
// subscription and the poll timer.
func Watch(cfg WatchConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = DefaultMaxPollFailures
	}
	w := &Watcher{
		cfg:      cfg,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Stop tears down both paths: the poll timer stops and the configured
// Teardown releases the subscription behind the push channel. Safe to
// call more than once; no callback fires after Stop returns and the
// loop has exited.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.cfg.Teardown != nil {
			w.cfg.Teardown()
		}
	})
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	push := w.cfg.Push
	failures := 0
	escalated := false

	for {
		select {
		case st, ok := <-push:
			if !ok {
				// push transport dropped; the poll path compensates
				push = nil
				continue
			}
			w.deliver(st)
		case <-ticker.C:
			st, err := w.cfg.Fetch()
			if err != nil {
				failures++
				if failures >= w.cfg.MaxPollFailures && !escalated {
					escalated = true
					if w.cfg.OnError != nil {
						w.cfg.OnError(err)
					}
				}
				continue
			}
			failures = 0
			escalated = false
			w.deliver(st)
		case <-w.stopChan:
			return
		}
	}
}

// deliver passes a state through the dedup gate shared by both paths.
func (w *Watcher) deliver(st State) {
	w.mu.Lock()
	if w.lastSet && w.last == st.Version {
		w.mu.Unlock()
		return
	}
	w.last = st.Version
	w.lastSet = true
	w.mu.Unlock()

	if w.cfg.OnChange != nil {
		w.cfg.OnChange(st)
	}
}

// CartState converts a cart snapshot into a watcher observation. The
// store's version counter is the dedup key.
func CartState(snap services.CartSnapshot) State {
	return State{
		Version: fmt.Sprintf("cart:%d:%d", snap.SessionID, snap.Version),
		Data:    snap,
	}
}

// OrderState converts an order into a watcher observation. Workflow and
// payment status together identify the logical state.
func OrderState(order models.Order) State {
	return State{
		Version: fmt.Sprintf("order:%d:%s:%s", order.ID, order.Status, order.PaymentStatus),
		Data:    order,
	}
}

// BridgeCart adapts a hub subscription into a push channel of cart
// observations. The returned channel closes when the subscription does.
// Writes never block: a full channel drops the observation and the poll
// path catches it up, so the bridge goroutine cannot outlive its reader.
func BridgeCart(msgs <-chan realtime.Message) <-chan State {
	out := make(chan State, 8)
	go func() {
		defer close(out)
		for m := range msgs {
			if snap, ok := m.Data.(services.CartSnapshot); ok {
				select {
				case out <- CartState(snap):
				default:
				}
			}
		}
	}()
	return out
}

// BridgeOrders adapts a hub subscription into a push channel of order
// observations, dropping payloads that are not orders. Same non-blocking
// write policy as BridgeCart.
func BridgeOrders(msgs <-chan realtime.Message) <-chan State {
	out := make(chan State, 8)
	go func() {
		defer close(out)
		for m := range msgs {
			if order, ok := m.Data.(models.Order); ok {
				select {
				case out <- OrderState(order):
				default:
				}
			}
		}
	}()
	return out
}
