package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/chinmay1088/rethx/reth"
	"github.com/ethereum/go-ethereum/common"
)

const (
	TypePersistedBlock    = "persisted_block"
	TypeChainNotification = "chain_notification"
)

// Sink receives subscription notifications from the watch command.
type Sink interface {
	PushPersistedBlock(ctx context.Context, block *reth.PersistedBlock) error
	PushChainNotification(ctx context.Context, payload json.RawMessage) error
	Close() error
}

var (
	_ Sink = (*JSONLines)(nil)
	_ Sink = (*RedisStreams)(nil)
)

type persistedBlockLine struct {
	Type   string      `json:"type"`
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
}

type chainNotificationLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JSONLines writes one JSON object per notification.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (s *JSONLines) PushPersistedBlock(_ context.Context, block *reth.PersistedBlock) error {
	if block == nil {
		return errors.New("nil persisted block")
	}
	return s.encode(persistedBlockLine{Type: TypePersistedBlock, Number: block.Number, Hash: block.Hash})
}

func (s *JSONLines) PushChainNotification(_ context.Context, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return s.encode(chainNotificationLine{Type: TypeChainNotification, Payload: payload})
}

func (s *JSONLines) encode(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}

func (s *JSONLines) Close() error { return nil }
