package cmd

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/chinmay1088/rethx/reth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// formatEther converts a wei amount to ETH without losing precision.
func formatEther(wei *uint256.Int) string {
	if wei == nil {
		return "0 ETH"
	}
	return decimal.NewFromBigInt(wei.ToBig(), -18).String() + " ETH"
}

func formatWei(wei *uint256.Int) string {
	if wei == nil {
		return "0 wei"
	}
	return wei.Dec() + " wei"
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	keys := lo.Keys(m)
	slices.SortFunc(keys, func(a, b common.Address) int { return a.Cmp(b) })
	return keys
}

func describeBlock(id reth.BlockID) string {
	if hash, ok := id.Hash(); ok {
		return hash.Hex()
	}
	if number, ok := id.Number(); ok {
		if number >= 0 {
			return strconv.FormatInt(number.Int64(), 10)
		}
		return number.String()
	}
	return "latest"
}

// parseHeight parses a decimal or 0x-prefixed block height no larger than
// math.MaxInt64.
func parseHeight(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if n, err = hexutil.DecodeUint64("0x" + s[2:]); err != nil {
			return 0, fmt.Errorf("invalid block height %q: %w", s, err)
		}
	} else {
		if n, err = strconv.ParseUint(s, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid block height %q", s)
		}
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid block height %q: %w", s, reth.ErrBlockNumberRange)
	}
	return n, nil
}
