package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
)

// MaxSubscriptionBuffer is the number of undelivered notifications a
// subscription may hold before it is dropped.
const MaxSubscriptionBuffer = 20000

var ErrSubscriptionQueueOverflow = errors.New("wsrpc: subscription queue overflow")

// ClientSubscription is a subscription established through Client.Subscribe.
// It implements go-ethereum's ethereum.Subscription.
type ClientSubscription struct {
	client      *Client
	unsubMethod string
	channel     reflect.Value
	etype       reflect.Type

	// set by the read loop when the subscribe call succeeds
	id  json.RawMessage
	key string

	mu     sync.Mutex
	queue  []json.RawMessage
	notify chan struct{}

	quit      chan struct{}
	done      chan struct{}
	err       chan error
	stopOnce  sync.Once
	unsubOnce sync.Once
}

func newClientSubscription(c *Client, unsubMethod string, channel reflect.Value) *ClientSubscription {
	return &ClientSubscription{
		client:      c,
		unsubMethod: unsubMethod,
		channel:     channel,
		etype:       channel.Type().Elem(),
		notify:      make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		err:         make(chan error, 1),
	}
}

// Err returns the subscription error channel. It receives at most one error,
// when the connection is lost or the notification buffer overflows, and is
// closed by Unsubscribe.
func (sub *ClientSubscription) Err() <-chan error {
	return sub.err
}

// Unsubscribe stops delivery and asks the server to cancel the subscription.
// It is safe to call more than once.
func (sub *ClientSubscription) Unsubscribe() {
	sub.unsubOnce.Do(func() {
		if sub.stop(nil) {
			sub.requestUnsubscribe()
		}
		<-sub.done
		close(sub.err)
	})
}

// stop ends delivery, reporting err if non-nil. It returns false if the
// subscription had already been stopped.
func (sub *ClientSubscription) stop(err error) bool {
	stopped := false
	sub.stopOnce.Do(func() {
		stopped = true
		if err != nil {
			sub.err <- err
		}
		close(sub.quit)
		sub.client.removeSubscription(sub.key)
	})
	return stopped
}

func (sub *ClientSubscription) requestUnsubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()

	var result json.RawMessage
	if err := sub.client.CallContext(ctx, &result, sub.unsubMethod, sub.id); err != nil {
		sub.client.log.Debug("Unsubscribe request failed", "method", sub.unsubMethod, "subscription", sub.key, "error", err)
	}
}

// deliver queues a notification. It is called from the read loop and never blocks.
func (sub *ClientSubscription) deliver(result json.RawMessage) {
	select {
	case <-sub.quit:
		return
	default:
	}

	sub.mu.Lock()
	if len(sub.queue) >= MaxSubscriptionBuffer {
		sub.mu.Unlock()
		if sub.stop(ErrSubscriptionQueueOverflow) {
			go sub.requestUnsubscribe()
		}
		return
	}
	sub.queue = append(sub.queue, result)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *ClientSubscription) pop() (json.RawMessage, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return nil, false
	}
	result := sub.queue[0]
	sub.queue[0] = nil
	sub.queue = sub.queue[1:]
	return result, true
}

// forward moves queued notifications to the user channel in arrival order.
func (sub *ClientSubscription) forward() {
	defer close(sub.done)

	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sub.quit)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sub.notify)},
		{Dir: reflect.SelectSend, Chan: sub.channel},
	}
	hasValue := false
	for {
		if !hasValue {
			if raw, ok := sub.pop(); ok {
				val := reflect.New(sub.etype)
				if err := json.Unmarshal(raw, val.Interface()); err != nil {
					if sub.stop(err) {
						go sub.requestUnsubscribe()
					}
					return
				}
				cases[2].Send = val.Elem()
				hasValue = true
			}
		}

		n := len(cases)
		if !hasValue {
			n--
		}
		switch chosen, _, _ := reflect.Select(cases[:n]); chosen {
		case 0:
			return
		case 2:
			cases[2].Send = reflect.Value{}
			hasValue = false
		}
	}
}

// unsubscribeMethod follows the jsonrpsee naming convention:
// ns_subscribeFoo is cancelled by ns_unsubscribeFoo.
func unsubscribeMethod(method string) string {
	ns, name, ok := strings.Cut(method, "_")
	if !ok {
		ns, name = "", method
	} else {
		ns += "_"
	}
	if rest, found := strings.CutPrefix(name, "subscribe"); found {
		return ns + "unsubscribe" + rest
	}
	return ns + "unsubscribe"
}
