package wsrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const vsn = "2.0"

type jsonrpcMessage struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *JSONError      `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (msg *jsonrpcMessage) hasValidID() bool {
	return len(msg.ID) > 0 && msg.ID[0] != '{' && msg.ID[0] != '[' && !bytes.Equal(msg.ID, []byte("null"))
}

func (msg *jsonrpcMessage) isNotification() bool {
	return !msg.hasValidID() && msg.Method != ""
}

func (msg *jsonrpcMessage) isResponse() bool {
	return msg.hasValidID() && msg.Method == "" && msg.Params == nil
}

type subscriptionResult struct {
	ID     json.RawMessage `json:"subscription"`
	Result json.RawMessage `json:"result,omitempty"`
}

// subscriptionKey normalizes a subscription id, which servers send either as a
// string or as a number.
func subscriptionKey(id json.RawMessage) (string, error) {
	id = bytes.TrimSpace(id)
	if len(id) == 0 {
		return "", errors.New("missing subscription id")
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", errors.New("empty subscription id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(id, &n); err != nil {
		return "", fmt.Errorf("invalid subscription id %s", id)
	}
	return n.String(), nil
}

// JSONError is an error object returned by the server. It satisfies go-ethereum's
// rpc.Error and rpc.DataError interfaces.
type JSONError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (err *JSONError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("json-rpc error %d", err.Code)
	}
	return err.Message
}

func (err *JSONError) ErrorCode() int {
	return err.Code
}

func (err *JSONError) ErrorData() any {
	return err.Data
}
