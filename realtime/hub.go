package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Event types
const (
	EventCartUpdate     = "cart_update"
	EventOrderUpdate    = "order_update"
	EventOrderDelete    = "order_delete"
	EventPaymentPending = "payment_pending"
	EventPaymentUpdate  = "payment_update"
	EventTableUpdate    = "table_update"
)

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Topic keys. Devices subscribe to the cart and order feeds of their
// session; staff displays subscribe to table feeds.
func CartKey(sessionID uint) string { return fmt.Sprintf("cart:%d", sessionID) }

func SessionOrdersKey(sessionID uint) string { return fmt.Sprintf("orders:%d", sessionID) }

func OrderKey(orderID uint) string { return fmt.Sprintf("order:%d", orderID) }

func TableKey(tableID uint) string { return fmt.Sprintf("table:%d", tableID) }

// subscriberBuffer bounds in-process subscriber channels; a full channel
// drops the message rather than blocking a publish. Subscribers that care
// also poll, so a drop only delays convergence by one poll interval.
const subscriberBuffer = 16

// Hub carries authoritative change notifications to websocket clients and
// in-process subscribers, routed by key.
type Hub struct {
	mutex sync.Mutex
	conns map[*websocket.Conn]map[string]bool
	subs  map[string]map[chan Message]bool
}

var hub = Hub{
	conns: make(map[*websocket.Conn]map[string]bool),
	subs:  make(map[string]map[chan Message]bool),
}

// RegisterClient attaches a websocket connection to a set of keys.
func RegisterClient(conn *websocket.Conn, keys []string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	hub.conns[conn] = keySet
}

// UnregisterClient detaches and closes a websocket connection.
func UnregisterClient(conn *websocket.Conn) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	delete(hub.conns, conn)
	conn.Close()
}

// Subscribe returns a channel receiving every message published to key.
// The channel is buffered; callers must Unsubscribe when done.
func Subscribe(key string) chan Message {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	ch := make(chan Message, subscriberBuffer)
	if hub.subs[key] == nil {
		hub.subs[key] = make(map[chan Message]bool)
	}
	hub.subs[key][ch] = true
	return ch
}

// SubscriberCount reports how many in-process subscribers a key has.
func SubscriberCount(key string) int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.subs[key])
}

// Unsubscribe removes and closes a subscriber channel.
func Unsubscribe(key string, ch chan Message) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if set, ok := hub.subs[key]; ok {
		if set[ch] {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(hub.subs, key)
		}
	}
}

// Publish fans a message out to every websocket client and in-process
// subscriber attached to key. Writes never block: dead websocket writes
// are skipped and full subscriber channels drop the message.
func Publish(key string, msg Message) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if len(hub.conns) > 0 {
		data, err := json.Marshal(msg)
		if err == nil {
			for conn, keys := range hub.conns {
				if !keys[key] {
					continue
				}
				// write errors surface on the connection's read loop
				_ = conn.WriteMessage(websocket.TextMessage, data)
			}
		}
	}

	for ch := range hub.subs[key] {
		select {
		case ch <- msg:
		default:
		}
	}
}
