// Package ws fans engine updates out to websocket clients by topic.
//
// Topics are orderbook:<symbol>, trades:<symbol>, ticker:<symbol>, tickers,
// candle:<symbol>:<interval>, orders:<userID> and positions:<userID>. A client
// subscribes with {"subscribe":["topic", ...]} and leaves with
// {"unsubscribe":[...]}, or passes ?topics=a,b on connect.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
	"go.uber.org/zap"
)

var _ port.Broadcaster = (*Hub)(nil)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Message is the envelope every client receives.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type subscription struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]struct{}
}

func (c *client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *client) apply(s subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range s.Subscribe {
		c.topics[t] = struct{}{}
	}
	for _, t := range s.Unsubscribe {
		delete(c.topics, t)
	}
}

// Hub manages websocket clients and implements port.Broadcaster.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.Named("ws"),
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), topics: make(map[string]struct{})}
	if q := r.URL.Query().Get("topics"); q != "" {
		c.apply(subscription{Subscribe: strings.Split(q, ",")})
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Subscribers counts the clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.subscribed(topic) {
			n++
		}
	}
	return n
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish sends v to every client subscribed to topic. Slow clients drop the message.
func (h *Hub) Publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal broadcast", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg, err := json.Marshal(Message{Topic: topic, Data: data})
	if err != nil {
		h.log.Error("marshal envelope", zap.String("topic", topic), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(topic) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping message for slow client", zap.String("topic", topic))
		}
	}
}

func (h *Hub) OrderBook(symbol string, book *domain.OrderBookSnapshot) {
	h.Publish("orderbook:"+symbol, book)
}

func (h *Hub) Order(o *domain.Order) {
	h.Publish("orders:"+o.UserID.String(), o)
}

func (h *Hub) Trades(symbol string, trades []domain.TradeEvent) {
	if len(trades) == 0 {
		return
	}
	h.Publish("trades:"+symbol, trades)
}

func (h *Hub) Ticker(symbol string, t domain.Ticker) {
	h.Publish("ticker:"+symbol, t)
}

func (h *Hub) Tickers(all []domain.Ticker) {
	h.Publish("tickers", all)
}

func (h *Hub) Candle(symbol string, interval domain.Interval, c *domain.Candle) {
	h.Publish("candle:"+symbol+":"+string(interval), c)
}

func (h *Hub) Position(p *domain.Position) {
	h.Publish("positions:"+p.UserID.String(), p)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var s subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			c.hub.log.Debug("ignoring malformed subscription", zap.Error(err))
			continue
		}
		c.apply(s)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
