package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger key schema for Pebble storage:
//
//	ost:<orderHash>                → order state (JSON)
//	bal:<token>:<account>          → balance (big-endian unsigned bytes)
//	stl:<buyHash>:<sellHash>       → settlement record (JSON)
//
// The orderbook index shares the same DB under its own prefixes (see pkg/orderbook).

const (
	prefixOrderState = "ost:"
	prefixBalance    = "bal:"
	prefixSettlement = "stl:"
)

// orderStateKey returns the key for an order's flags
// Format: "ost:{hash}"
func orderStateKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOrderState, hash.Hex()))
}

// balanceKey returns the key for an account balance in one token
// Format: "bal:{token}:{account}"
func balanceKey(token, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), account.Hex()))
}

// balancePrefix returns the prefix for all balances in one token
// Format: "bal:{token}:"
func balancePrefix(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, token.Hex()))
}

// settlementKey returns the key for a settled match
// Format: "stl:{buyHash}:{sellHash}"
func settlementKey(buyHash, sellHash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixSettlement, buyHash.Hex(), sellHash.Hex()))
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
