package reth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// BlockID identifies a block by number, tag or hash.
type BlockID = rpc.BlockNumberOrHash

// BalanceChanges maps every account touched by a block to the balance the node reports for it.
type BalanceChanges = map[common.Address]*uint256.Int

// ErrBlockNumberRange is returned for heights that do not fit the signed block
// number used on the wire, where negative values are tags.
var ErrBlockNumberRange = errors.New("block number out of range")

// BlockNumber returns the identifier of the block at height n. Heights above
// math.MaxInt64 are rejected.
func BlockNumber(n uint64) (BlockID, error) {
	if n > math.MaxInt64 {
		return BlockID{}, fmt.Errorf("%w: %d", ErrBlockNumberRange, n)
	}
	return rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(n)), nil
}

// BlockHash returns the identifier of the block with the given hash. When canonical is
// set the node rejects the hash unless it is part of the canonical chain.
func BlockHash(hash common.Hash, canonical bool) BlockID {
	return rpc.BlockNumberOrHashWithHash(hash, canonical)
}

// LatestBlock returns the identifier of the current head.
func LatestBlock() BlockID {
	return rpc.BlockNumberOrHashWithNumber(rpc.LatestBlockNumber)
}

// ParseBlockID parses a decimal height, a 0x quantity, a block hash or one of the
// tags latest, earliest, pending, safe and finalized.
func ParseBlockID(s string) (BlockID, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return BlockNumber(n)
	}

	var id BlockID
	if err := id.UnmarshalJSON([]byte(strconv.Quote(strings.ToLower(s)))); err != nil {
		return BlockID{}, fmt.Errorf("invalid block identifier %q: %w", s, err)
	}
	return id, nil
}

// blockIDArg encodes id the way ethclient passes block identifiers. A zero BlockID
// means the latest block.
func blockIDArg(id BlockID) any {
	if hash, ok := id.Hash(); ok {
		if id.RequireCanonical {
			return map[string]any{
				"blockHash":        hash,
				"requireCanonical": true,
			}
		}
		return hash
	}
	if number, ok := id.Number(); ok {
		return number.String()
	}
	return rpc.LatestBlockNumber.String()
}

// PersistedBlock is emitted by reth_subscribePersistedBlock each time a block is
// written to disk.
type PersistedBlock struct {
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
}

// UnmarshalJSON accepts the block number either as a JSON number or as a hex quantity.
func (b *PersistedBlock) UnmarshalJSON(data []byte) error {
	var dec struct {
		Number json.RawMessage `json:"number"`
		Hash   *common.Hash    `json:"hash"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	if len(dec.Number) == 0 || string(dec.Number) == "null" {
		return errors.New("missing required field 'number' for PersistedBlock")
	}
	if dec.Hash == nil {
		return errors.New("missing required field 'hash' for PersistedBlock")
	}

	if dec.Number[0] == '"' {
		var number hexutil.Uint64
		if err := json.Unmarshal(dec.Number, &number); err != nil {
			return fmt.Errorf("invalid block number: %w", err)
		}
		b.Number = uint64(number)
	} else if err := json.Unmarshal(dec.Number, &b.Number); err != nil {
		return fmt.Errorf("invalid block number: %w", err)
	}
	b.Hash = *dec.Hash
	return nil
}
