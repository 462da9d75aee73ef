package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
	"github.com/andriyanwar/meja-app/services"
)

// Device states
const (
	StateBrowsing        = "browsing"
	StateSubmitting      = "submitting"
	StateAwaitingPayment = "awaiting_payment"
	StatePaid            = "paid"
	StateCancelled       = "cancelled"
)

var (
	// ErrSubmitInFlight rejects a second checkout while one is already
	// underway, so one checkout intent can never create two orders.
	ErrSubmitInFlight = errors.New("order submission already in flight")

	// ErrCartFrozen rejects cart edits once checkout has started.
	ErrCartFrozen = errors.New("cart is frozen")

	// ErrGatewayFailed reports a failed payment attempt; the device stays
	// in awaiting_payment so payment can be retried.
	ErrGatewayFailed = errors.New("payment attempt failed")

	// ErrConfirmEscalate means the gateway reported success but the
	// confirmation write failed. Retrying client-side risks duplicate
	// payment records, so this is surfaced for support with the order id.
	ErrConfirmEscalate = errors.New("payment succeeded but confirmation failed, contact staff")
)

// GatewayResult is the three-way outcome of the payment widget.
type GatewayResult int

const (
	GatewaySuccess GatewayResult = iota
	GatewayFailure
	GatewayDismiss
)

// CartAPI is the slice of the shared cart store a device talks to.
type CartAPI interface {
	GetCart(sessionID uint) (services.CartSnapshot, error)
	SetCart(sessionID uint, items []models.CartItem) (services.CartSnapshot, error)
}

// OrderAPI is the slice of the order service a device talks to.
type OrderAPI interface {
	CreateOrder(sessionID uint) (*models.Order, error)
	GetOrder(orderID uint) (*models.Order, error)
	MarkOrderPaid(orderID uint) error
	DeleteUnpaidOrder(orderID uint) error
}

// echoWindow is how long a device treats an incoming notification that
// matches its own last write as self-echo rather than remote input.
const echoWindow = 10 * time.Second

// Snapshot is what a view renders.
type Snapshot struct {
	State   string
	Items   []models.CartItem
	Version int64
	OrderID uint
	Order   *models.Order
}

// Controller is the per-device order lifecycle state machine. Cart edits
// are optimistic: the local copy updates before the store confirms, and
// rolls back to the pre-edit snapshot if the write fails. The paid state
// is absorbing: once any party observes it, this device lands in it and
// never leaves.
type Controller struct {
	sessionID uint
	carts     CartAPI
	orders    OrderAPI

	mu          sync.Mutex
	state       string
	items       []models.CartItem
	version     int64
	orderID     uint
	order       *models.Order
	justWrote   int64
	justWroteAt time.Time

	// OnRender, when set, receives a snapshot after every state or cart
	// change; it is the hook the view controllers attach to.
	OnRender func(Snapshot)
}

// NewController creates a device controller for a resolved session,
// seeded with the current authoritative cart when available.
func NewController(sessionID uint, carts CartAPI, orders OrderAPI) *Controller {
	c := &Controller{
		sessionID: sessionID,
		carts:     carts,
		orders:    orders,
		state:     StateBrowsing,
	}
	if snap, err := carts.GetCart(sessionID); err == nil {
		c.items = cloneItems(snap.Items)
		c.version = snap.Version
	}
	return c
}

// State returns the device's current lifecycle state.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cart returns a copy of the locally rendered cart.
func (c *Controller) Cart() []models.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

// OrderID returns the in-flight order's id, zero when none exists.
func (c *Controller) OrderID() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderID
}

// AllowBack reports whether backward navigation to the cart view is
// permitted. Derived from the state on every call rather than a stored
// flag: once paid, never.
func (c *Controller) AllowBack() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StatePaid
}

// AddItem adds a line (or increases the quantity of a matching one).
func (c *Controller) AddItem(item models.CartItem) error {
	return c.edit(func(items []models.CartItem) []models.CartItem {
		for i := range items {
			if items[i].MenuID == item.MenuID && items[i].Notes == item.Notes {
				items[i].Quantity += item.Quantity
				return items
			}
		}
		return append(items, item)
	})
}

// RemoveItem drops every line for a menu item.
func (c *Controller) RemoveItem(menuID uint) error {
	return c.edit(func(items []models.CartItem) []models.CartItem {
		kept := items[:0]
		for _, it := range items {
			if it.MenuID != menuID {
				kept = append(kept, it)
			}
		}
		return kept
	})
}

// SetQuantity changes a line's quantity; zero or less removes the line.
func (c *Controller) SetQuantity(menuID uint, quantity int) error {
	if quantity <= 0 {
		return c.RemoveItem(menuID)
	}
	return c.edit(func(items []models.CartItem) []models.CartItem {
		for i := range items {
			if items[i].MenuID == menuID {
				items[i].Quantity = quantity
			}
		}
		return items
	})
}

// edit runs the optimistic write cycle: apply locally, push the complete
// item list to the store, roll back to the pre-edit snapshot on failure.
func (c *Controller) edit(apply func([]models.CartItem) []models.CartItem) error {
	c.mu.Lock()
	if c.state != StateBrowsing {
		c.mu.Unlock()
		return ErrCartFrozen
	}
	prev := cloneItems(c.items)
	next := apply(cloneItems(c.items))
	c.items = next
	c.mu.Unlock()
	c.render()

	snap, err := c.carts.SetCart(c.sessionID, next)
	if err != nil {
		c.mu.Lock()
		c.items = prev
		c.mu.Unlock()
		c.render()
		return err
	}

	c.mu.Lock()
	c.version = snap.Version
	c.justWrote = snap.Version
	c.justWroteAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Submit turns the current cart into an order and freezes the cart. The
// reentrancy guard makes a double-tap a no-op: only one order can come
// out of one checkout intent.
func (c *Controller) Submit() (*models.Order, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting, StateAwaitingPayment:
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	case StatePaid, StateCancelled:
		c.mu.Unlock()
		return nil, ErrCartFrozen
	}
	if len(c.items) == 0 {
		c.mu.Unlock()
		return nil, services.ErrEmptyCart
	}
	c.state = StateSubmitting
	c.mu.Unlock()
	c.render()

	order, err := c.orders.CreateOrder(c.sessionID)

	c.mu.Lock()
	if err != nil {
		// back to browsing, cart untouched
		c.state = StateBrowsing
		c.mu.Unlock()
		c.render()
		return nil, err
	}
	c.state = StateAwaitingPayment
	c.order = order
	c.orderID = order.ID
	c.items = nil // the shared cart was cleared with the order
	c.mu.Unlock()
	c.render()
	return order, nil
}

// HandleGatewayResult feeds the payment widget's three-way outcome into
// the state machine. Failure and dismissal keep the device in
// awaiting_payment so the user can retry without re-submitting.
func (c *Controller) HandleGatewayResult(result GatewayResult) error {
	c.mu.Lock()
	if c.state == StatePaid {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateAwaitingPayment {
		c.mu.Unlock()
		return fmt.Errorf("no payment in progress (state %s)", c.state)
	}
	orderID := c.orderID
	c.mu.Unlock()

	switch result {
	case GatewaySuccess:
		if err := c.orders.MarkOrderPaid(orderID); err != nil {
			return fmt.Errorf("%w (order %d)", ErrConfirmEscalate, orderID)
		}
		c.forcePaid(nil)
		return nil
	case GatewayFailure:
		return ErrGatewayFailed
	default: // GatewayDismiss
		return nil
	}
}

// GoBack returns from the payment view to the cart. The unpaid order is
// deleted so it cannot linger in staff views, and its snapshot is
// restored into the shared cart so the party keeps what it had composed.
func (c *Controller) GoBack() error {
	c.mu.Lock()
	if c.state == StatePaid {
		c.mu.Unlock()
		return ErrCartFrozen
	}
	if c.state != StateAwaitingPayment {
		c.mu.Unlock()
		return nil
	}
	orderID := c.orderID
	order := c.order
	c.mu.Unlock()

	if err := c.orders.DeleteUnpaidOrder(orderID); err != nil && !errors.Is(err, services.ErrOrderNotFound) {
		return err
	}

	restored := itemsFromOrder(order)
	snap, err := c.carts.SetCart(c.sessionID, restored)

	c.mu.Lock()
	c.state = StateBrowsing
	c.orderID = 0
	c.order = nil
	c.items = cloneItems(restored)
	if err == nil {
		c.version = snap.Version
		c.justWrote = snap.Version
		c.justWroteAt = time.Now()
	}
	c.mu.Unlock()
	c.render()
	return nil
}

// Cancel abandons checkout entirely. Reachable only from
// awaiting_payment by explicit user navigation, never automatically.
// The abandoned order is deleted, but its snapshot goes back into the
// shared cart first: cancelling is this device giving up on payment,
// not the party losing what it composed.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state != StateAwaitingPayment {
		c.mu.Unlock()
		return nil
	}
	orderID := c.orderID
	order := c.order
	c.mu.Unlock()

	if err := c.orders.DeleteUnpaidOrder(orderID); err != nil && !errors.Is(err, services.ErrOrderNotFound) {
		return err
	}

	restored := itemsFromOrder(order)
	snap, err := c.carts.SetCart(c.sessionID, restored)

	c.mu.Lock()
	c.state = StateCancelled
	c.orderID = 0
	c.order = nil
	c.items = cloneItems(restored)
	if err == nil {
		c.version = snap.Version
		c.justWrote = snap.Version
		c.justWroteAt = time.Now()
	}
	c.mu.Unlock()
	c.render()
	return nil
}

// ApplyCart reconciles an authoritative cart observation. A notification
// matching the device's own recent write is self-echo: the local state
// already reflects it, so it is absorbed without re-reconciliation.
func (c *Controller) ApplyCart(snap services.CartSnapshot) {
	c.mu.Lock()
	if snap.Version <= c.version {
		c.mu.Unlock()
		return
	}
	if snap.Version == c.justWrote && time.Since(c.justWroteAt) < echoWindow {
		c.version = snap.Version
		c.mu.Unlock()
		return
	}
	c.items = cloneItems(snap.Items)
	c.version = snap.Version
	c.mu.Unlock()
	c.render()
}

// ApplyOrder reconciles an authoritative order observation. A paid order
// forces this device into the absorbing paid state no matter what it was
// doing; redundant paid notifications are no-ops. Once paid, a non-paid
// observation delivered out of order is dropped so a pending snapshot
// can never resurface under the paid state.
func (c *Controller) ApplyOrder(order models.Order) {
	if order.Paid() {
		c.forcePaid(&order)
		return
	}

	c.mu.Lock()
	if c.state == StatePaid || c.orderID != order.ID {
		c.mu.Unlock()
		return
	}
	o := order
	c.order = &o
	c.mu.Unlock()
	c.render()
}

// WatchCart starts a convergence watcher for the session's cart, feeding
// this controller. The watcher owns the hub subscription behind its push
// path, so Stop releases the subscription together with the poll timer.
func (c *Controller) WatchCart(interval time.Duration) *Watcher {
	key := realtime.CartKey(c.sessionID)
	msgs := realtime.Subscribe(key)
	return Watch(WatchConfig{
		Fetch: func() (State, error) {
			snap, err := c.carts.GetCart(c.sessionID)
			if err != nil {
				return State{}, err
			}
			return CartState(snap), nil
		},
		Push:     BridgeCart(msgs),
		Interval: interval,
		Teardown: func() { realtime.Unsubscribe(key, msgs) },
		OnChange: func(st State) {
			if snap, ok := st.Data.(services.CartSnapshot); ok {
				c.ApplyCart(snap)
			}
		},
	})
}

// WatchOrder starts a convergence watcher for one order, feeding this
// controller. The poll path is how another device's payment reaches us
// even when push never fires; the hub subscription is released by Stop.
func (c *Controller) WatchOrder(orderID uint, interval time.Duration) *Watcher {
	key := realtime.OrderKey(orderID)
	msgs := realtime.Subscribe(key)
	return Watch(WatchConfig{
		Fetch: func() (State, error) {
			order, err := c.orders.GetOrder(orderID)
			if err != nil {
				return State{}, err
			}
			return OrderState(*order), nil
		},
		Push:     BridgeOrders(msgs),
		Interval: interval,
		Teardown: func() { realtime.Unsubscribe(key, msgs) },
		OnChange: func(st State) {
			if order, ok := st.Data.(models.Order); ok {
				c.ApplyOrder(order)
			}
		},
	})
}

func (c *Controller) forcePaid(order *models.Order) {
	c.mu.Lock()
	if c.state == StatePaid {
		c.mu.Unlock()
		return
	}
	c.state = StatePaid
	if order != nil {
		c.order = order
		c.orderID = order.ID
	}
	c.mu.Unlock()
	c.render()
}

func (c *Controller) render() {
	if c.OnRender == nil {
		return
	}
	c.mu.Lock()
	snap := Snapshot{
		State:   c.state,
		Items:   cloneItems(c.items),
		Version: c.version,
		OrderID: c.orderID,
		Order:   c.order,
	}
	c.mu.Unlock()
	c.OnRender(snap)
}

func cloneItems(items []models.CartItem) []models.CartItem {
	if items == nil {
		return nil
	}
	out := make([]models.CartItem, len(items))
	copy(out, items)
	return out
}

func itemsFromOrder(order *models.Order) []models.CartItem {
	if order == nil {
		return nil
	}
	items := make([]models.CartItem, 0, len(order.OrderItems))
	for _, oi := range order.OrderItems {
		items = append(items, models.CartItem{
			MenuID:    oi.MenuID,
			Name:      oi.Name,
			Quantity:  oi.Quantity,
			UnitPrice: oi.Price,
			Notes:     oi.Notes,
		})
	}
	return items
}
