package orderbook

import (
	"encoding/binary"
	"fmt"
)

// Orderbook key schema, sharing the ledger's Pebble DB:
//
//	obo:<index>                        → posted order (JSON)
//	obi:<orderID>                      → index (8 bytes big-endian)
//	obf:<name>\x00<value>\x00<index>   → empty (field index)
//	obw:<tokenAddress>\x00<tokenID>    → whitelisted email
//	obm:<counter>                      → uint64 counter
//
// Indexes are fixed-width big-endian so prefix scans come back in posting order.

const (
	prefixOrder     = "obo:"
	prefixOrderID   = "obi:"
	prefixField     = "obf:"
	prefixWhitelist = "obw:"
	prefixMeta      = "obm:"

	sep = 0x00
)

const (
	metaNextOrderIndex   = "nextOrderIndex"
	metaRemovedOrders    = "removedOrders"
	metaWhitelistEntries = "whitelistEntries"
)

func indexBytes(index uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return b[:]
}

// orderKey returns the key for a posted order
// Format: "obo:{index}"
func orderKey(index uint64) []byte {
	return append([]byte(prefixOrder), indexBytes(index)...)
}

// orderIDKey returns the key mapping an order ID to its index
// Format: "obi:{orderID}"
func orderIDKey(orderID string) []byte {
	return []byte(prefixOrderID + orderID)
}

// fieldPrefix returns the prefix for all orders carrying name=value
// Format: "obf:{name}\x00{value}\x00"
func fieldPrefix(name, value string) []byte {
	k := make([]byte, 0, len(prefixField)+len(name)+len(value)+2)
	k = append(k, prefixField...)
	k = append(k, name...)
	k = append(k, sep)
	k = append(k, value...)
	return append(k, sep)
}

func fieldKey(name, value string, index uint64) []byte {
	return append(fieldPrefix(name, value), indexBytes(index)...)
}

// whitelistKey returns the key for an asset whitelist entry
// Format: "obw:{tokenAddress}\x00{tokenID}"
func whitelistKey(tokenAddress, tokenID string) []byte {
	return []byte(fmt.Sprintf("%s%s%c%s", prefixWhitelist, tokenAddress, sep, tokenID))
}

func metaKey(name string) []byte {
	return []byte(prefixMeta + name)
}

// upperBound returns the exclusive upper bound for a prefix scan
func upperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
