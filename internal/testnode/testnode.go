// Package testnode runs an in-process JSON-RPC node for tests. It answers
// scripted methods over HTTP and websocket, records every request it receives
// and pushes jsonrpsee-style subscription notifications on demand.
package testnode

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Request is a JSON-RPC request as received by the node.
type Request struct {
	ID     json.RawMessage
	Method string
	Params []json.RawMessage
}

// Error is returned by a Handler to answer with a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Handler answers one method. The returned value is marshalled as the result.
type Handler func(params []json.RawMessage) (any, *Error)

type message struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

type subscription struct {
	id     string
	method string
	conn   *wsConn
}

// Node is a scripted JSON-RPC server.
type Node struct {
	t   testing.TB
	srv *httptest.Server

	mu            sync.Mutex
	handlers      map[string]Handler
	subscriptions map[string]string // subscribe method -> unsubscribe method
	unsubscribes  map[string]string // unsubscribe method -> subscribe method
	requests      []Request
	subs          map[string]*subscription
	conns         map[*wsConn]struct{}
	nextSubID     int
}

// New starts a node and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Node {
	t.Helper()
	n := &Node{
		t:             t,
		handlers:      make(map[string]Handler),
		subscriptions: make(map[string]string),
		unsubscribes:  make(map[string]string),
		subs:          make(map[string]*subscription),
		conns:         make(map[*wsConn]struct{}),
	}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serveHTTP))
	t.Cleanup(n.Close)
	return n
}

// URL returns the HTTP endpoint.
func (n *Node) URL() string {
	return n.srv.URL
}

// WSURL returns the websocket endpoint.
func (n *Node) WSURL() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

// Close drops all websocket connections and stops the server.
func (n *Node) Close() {
	n.DropConnections()
	n.srv.Close()
}

// Handle registers a handler for method.
func (n *Node) Handle(method string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// HandleResult registers method to always answer with the given raw JSON result.
func (n *Node) HandleResult(method, result string) {
	n.Handle(method, func([]json.RawMessage) (any, *Error) {
		return json.RawMessage(result), nil
	})
}

// HandleSubscription registers a subscription method together with its
// unsubscribe counterpart (ns_subscribeX / ns_unsubscribeX).
func (n *Node) HandleSubscription(method string) {
	unsub := strings.Replace(method, "_subscribe", "_unsubscribe", 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscriptions[method] = unsub
	n.unsubscribes[unsub] = method
}

// Requests returns a copy of all requests received so far.
func (n *Node) Requests() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Request(nil), n.requests...)
}

// RequestsFor returns the requests received for method.
func (n *Node) RequestsFor(method string) []Request {
	var out []Request
	for _, req := range n.Requests() {
		if req.Method == method {
			out = append(out, req)
		}
	}
	return out
}

// ActiveSubscriptions returns the number of live subscriptions for method.
func (n *Node) ActiveSubscriptions(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, sub := range n.subs {
		if sub.method == method {
			count++
		}
	}
	return count
}

// Notify pushes payload to every live subscription opened with method. The
// notification carries the subscription method name, as jsonrpsee does.
func (n *Node) Notify(method string, payload any) {
	n.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		n.t.Fatalf("marshal notification: %v", err)
	}

	n.mu.Lock()
	var targets []*subscription
	for _, sub := range n.subs {
		if sub.method == method {
			targets = append(targets, sub)
		}
	}
	n.mu.Unlock()

	for _, sub := range targets {
		params, err := json.Marshal(map[string]any{
			"subscription": sub.id,
			"result":       json.RawMessage(raw),
		})
		if err != nil {
			n.t.Fatalf("marshal notification params: %v", err)
		}
		if err := sub.conn.writeJSON(message{Version: "2.0", Method: method, Params: params}); err != nil {
			n.t.Logf("push notification: %v", err)
		}
	}
}

// SendRaw writes a raw frame on every open websocket connection.
func (n *Node) SendRaw(data string) {
	n.mu.Lock()
	conns := make([]*wsConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, []byte(data))
		c.writeMu.Unlock()
		if err != nil {
			n.t.Logf("send raw frame: %v", err)
		}
	}
}

// DropConnections closes every websocket connection without a close frame.
func (n *Node) DropConnections() {
	n.mu.Lock()
	conns := n.conns
	n.conns = make(map[*wsConn]struct{})
	n.subs = make(map[string]*subscription)
	n.mu.Unlock()

	for c := range conns {
		_ = c.conn.Close()
	}
}

func (n *Node) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		n.serveWS(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req message
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(n.dispatch(&req, nil)); err != nil {
		n.t.Logf("write response: %v", err)
	}
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.t.Logf("websocket upgrade: %v", err)
		return
	}
	c := &wsConn{conn: conn}
	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.conns, c)
		for id, sub := range n.subs {
			if sub.conn == c {
				delete(n.subs, id)
			}
		}
		n.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req message
		if err := json.Unmarshal(data, &req); err != nil {
			n.t.Logf("invalid websocket request: %v", err)
			continue
		}
		// Holding the write lock across dispatch keeps notifications for a new
		// subscription behind its subscribe response.
		c.writeMu.Lock()
		err = c.conn.WriteJSON(n.dispatch(&req, c))
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (n *Node) dispatch(req *message, conn *wsConn) message {
	var params []json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, &Error{Code: -32602, Message: "invalid params"})
		}
	}

	n.mu.Lock()
	n.requests = append(n.requests, Request{ID: req.ID, Method: req.Method, Params: params})
	handler := n.handlers[req.Method]
	_, isSubscribe := n.subscriptions[req.Method]
	_, isUnsubscribe := n.unsubscribes[req.Method]
	n.mu.Unlock()

	switch {
	case isSubscribe:
		if conn == nil {
			return errorResponse(req.ID, &Error{Code: -32601, Message: "subscriptions are not supported over http"})
		}
		return resultResponse(req.ID, n.subscribe(req.Method, conn))
	case isUnsubscribe:
		return resultResponse(req.ID, n.unsubscribe(params))
	case handler != nil:
		result, rpcErr := handler(params)
		if rpcErr != nil {
			return errorResponse(req.ID, rpcErr)
		}
		return resultResponse(req.ID, result)
	default:
		return errorResponse(req.ID, &Error{
			Code:    -32601,
			Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method),
		})
	}
}

func (n *Node) subscribe(method string, conn *wsConn) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextSubID++
	id := fmt.Sprintf("0x%x", n.nextSubID)
	n.subs[id] = &subscription{id: id, method: method, conn: conn}
	return id
}

func (n *Node) unsubscribe(params []json.RawMessage) bool {
	if len(params) != 1 {
		return false
	}
	var id string
	if err := json.Unmarshal(params[0], &id); err != nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[id]; !ok {
		return false
	}
	delete(n.subs, id)
	return true
}

func resultResponse(id json.RawMessage, result any) message {
	raw, ok := result.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(result); err != nil {
			return errorResponse(id, &Error{Code: -32603, Message: err.Error()})
		}
	}
	return message{Version: "2.0", ID: id, Result: raw}
}

func errorResponse(id json.RawMessage, err *Error) message {
	return message{Version: "2.0", ID: id, Error: err}
}
