// Package wsrpc is a JSON-RPC 2.0 client over websocket that can open
// subscriptions by their full method name, as jsonrpsee-based nodes such as
// reth expose them (reth_subscribePersistedBlock rather than
// eth_subscribe("persistedBlock")).
package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval     = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 32 * 1024 * 1024
	writeTimeout            = 10 * time.Second
	unsubscribeTimeout      = 5 * time.Second
)

var (
	ErrClientClosed = errors.New("wsrpc: client is closed")
	ErrNoResult     = errors.New("wsrpc: JSON-RPC response has no result")
)

type config struct {
	header           http.Header
	logger           *slog.Logger
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	readLimit        int64
}

// Option configures Dial.
type Option func(*config)

// WithHeader sets HTTP headers sent with the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(c *config) { c.header = h }
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithPingInterval sets how often keepalive pings are sent. Zero disables pings
// and the read deadline that goes with them.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) { c.pingInterval = d }
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTimeout = d }
}

// WithReadLimit sets the maximum size in bytes of an inbound message.
func WithReadLimit(n int64) Option {
	return func(c *config) { c.readLimit = n }
}

type opResult struct {
	msg *jsonrpcMessage
	err error
}

type requestOp struct {
	resp chan opResult
	sub  *ClientSubscription
}

// Client is a websocket JSON-RPC connection. It is safe for concurrent use.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*requestOp
	subs    map[string]*ClientSubscription
	closed  bool
	err     error

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a websocket JSON-RPC endpoint.
func Dial(ctx context.Context, rawurl string, opts ...Option) (*Client, error) {
	cfg := config{
		pingInterval:     defaultPingInterval,
		handshakeTimeout: defaultHandshakeTimeout,
		readLimit:        defaultReadLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawurl, cfg.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return newClient(conn, cfg), nil
}

func newClient(conn *websocket.Conn, cfg config) *Client {
	c := &Client{
		conn:    conn,
		log:     cfg.logger.With("component", "wsrpc"),
		pending: make(map[string]*requestOp),
		subs:    make(map[string]*ClientSubscription),
		done:    make(chan struct{}),
	}
	conn.SetReadLimit(cfg.readLimit)
	if cfg.pingInterval > 0 {
		pongWait := 2 * cfg.pingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.pingLoop(cfg.pingInterval)
	}
	go c.readLoop()
	return c
}

// Close closes the connection. Pending calls fail with ErrClientClosed and
// subscriptions end with the same error.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
}

// CallContext performs a JSON-RPC call and unmarshals the result into result,
// which must be a pointer or nil. Error objects are returned as *JSONError.
func (c *Client) CallContext(ctx context.Context, result any, method string, args ...any) error {
	if result != nil && reflect.TypeOf(result).Kind() != reflect.Pointer {
		return fmt.Errorf("call result parameter must be pointer or nil interface: %v", result)
	}
	return c.call(ctx, result, method, args, nil)
}

// Subscribe calls method with args and, on success, delivers every notification
// for the returned subscription id on channel, which must be a writable channel.
// Notifications are matched by subscription id whatever their method name.
func (c *Client) Subscribe(ctx context.Context, method string, channel any, args ...any) (ethereum.Subscription, error) {
	chanVal := reflect.ValueOf(channel)
	if chanVal.Kind() != reflect.Chan || chanVal.Type().ChanDir()&reflect.SendDir == 0 {
		panic(fmt.Sprintf("channel argument of Subscribe has type %T, need writable channel", channel))
	}
	if chanVal.IsNil() {
		panic("channel given to Subscribe must not be nil")
	}

	sub := newClientSubscription(c, unsubscribeMethod(method), chanVal)
	if err := c.call(ctx, nil, method, args, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Client) call(ctx context.Context, result any, method string, args []any, sub *ClientSubscription) error {
	if args == nil {
		args = []any{}
	}
	params, err := json.Marshal(args)
	if err != nil {
		return err
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	msg := &jsonrpcMessage{
		Version: vsn,
		ID:      json.RawMessage(id),
		Method:  method,
		Params:  params,
	}

	op := &requestOp{resp: make(chan opResult, 1), sub: sub}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = op
	c.mu.Unlock()

	if err := c.write(ctx, msg); err != nil {
		c.forget(id)
		return err
	}

	var res opResult
	select {
	case res = <-op.resp:
	case <-ctx.Done():
		if c.forget(id) {
			return ctx.Err()
		}
		// The response was already taken off the wire and is on its way.
		res = <-op.resp
	}

	switch {
	case res.err != nil:
		return res.err
	case res.msg.Error != nil:
		return res.msg.Error
	case len(res.msg.Result) == 0:
		return ErrNoResult
	case result == nil:
		return nil
	default:
		return json.Unmarshal(res.msg.Result, result)
	}
}

// forget drops a pending request and reports whether it was still pending.
func (c *Client) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Client) write(ctx context.Context, msg any) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug("Failed to send ping", "error", err)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	var err error
	for {
		var data []byte
		if _, data, err = c.conn.ReadMessage(); err != nil {
			break
		}
		var msg jsonrpcMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
			c.log.Debug("Dropping malformed message", "error", jsonErr)
			continue
		}
		c.handle(&msg)
	}
	c.fail(err)
}

func (c *Client) handle(msg *jsonrpcMessage) {
	switch {
	case msg.isNotification():
		c.handleNotification(msg)
	case msg.isResponse():
		c.handleResponse(msg)
	default:
		c.log.Debug("Dropping unexpected message", "method", msg.Method, "id", string(msg.ID))
	}
}

func (c *Client) handleResponse(msg *jsonrpcMessage) {
	id := string(msg.ID)

	c.mu.Lock()
	op, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("Dropping response with unknown id", "id", id)
		return
	}
	delete(c.pending, id)

	res := opResult{msg: msg}
	if op.sub != nil && msg.Error == nil {
		// Activate the subscription before the next message is read so that
		// notifications following the response are not lost.
		key, err := subscriptionKey(msg.Result)
		if err != nil {
			res = opResult{err: fmt.Errorf("invalid subscription response: %w", err)}
		} else {
			op.sub.id = append(json.RawMessage(nil), msg.Result...)
			op.sub.key = key
			c.subs[key] = op.sub
			go op.sub.forward()
		}
	}
	c.mu.Unlock()

	op.resp <- res
}

func (c *Client) handleNotification(msg *jsonrpcMessage) {
	var params subscriptionResult
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.log.Debug("Dropping notification with invalid params", "method", msg.Method, "error", err)
		return
	}
	key, err := subscriptionKey(params.ID)
	if err != nil {
		c.log.Debug("Dropping notification without subscription id", "method", msg.Method, "error", err)
		return
	}

	c.mu.Lock()
	sub := c.subs[key]
	c.mu.Unlock()
	if sub == nil {
		c.log.Debug("Dropping notification for unknown subscription", "method", msg.Method, "subscription", key)
		return
	}
	sub.deliver(params.Result)
}

// fail ends all pending calls and subscriptions once the read loop exits.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed || err == nil {
		err = ErrClientClosed
	}
	c.err = err
	pending := c.pending
	subs := c.subs
	c.pending = make(map[string]*requestOp)
	c.subs = make(map[string]*ClientSubscription)
	c.mu.Unlock()

	if !errors.Is(err, ErrClientClosed) {
		c.log.Warn("Websocket connection lost", "error", err, "pending", len(pending), "subscriptions", len(subs))
	}
	for _, op := range pending {
		op.resp <- opResult{err: err}
	}
	for _, sub := range subs {
		sub.stop(err)
	}
	_ = c.conn.Close()
}

func (c *Client) removeSubscription(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key != "" {
		delete(c.subs, key)
	}
}
