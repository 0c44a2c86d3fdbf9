package api

import (
	"encoding/json"

	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
	"github.com/uhyunpark/hyperwyvern/pkg/orderbook"
	"github.com/uhyunpark/hyperwyvern/pkg/transaction"
)

// API request/response types for REST, JSON-RPC and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// BalanceInfo is the response for GET /api/v1/balances/{token}/{account}
type BalanceInfo struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Balance string `json:"balance"` // BigInt as string
}

// OrdersResponse is one page of orderbook listings
type OrdersResponse struct {
	Orders []*orderbook.Order `json:"orders"`
	Page   uint64             `json:"page"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// JSON-RPC Types
// ==============================

const jsonRPCVersion = "2.0"

// Standard JSON-RPC 2.0 error codes plus the exchange range
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeExchangeError  = -32000
	codeNotFound       = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// ExchangeErrorData is attached to exchange failures
type ExchangeErrorData struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// ValidationResult answers the boolean exchange queries
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// HashResult carries an order hash
type HashResult struct {
	Hash string `json:"hash"`
}

// PriceResult carries a price in payment-token units
type PriceResult struct {
	Price string `json:"price"` // BigInt as string
}

// MatchResult is the outcome of exchange_atomicMatch
type MatchResult struct {
	BuyHash   string              `json:"buyHash"`
	SellHash  string              `json:"sellHash"`
	Price     string              `json:"price"`
	Transfers []exchange.Transfer `json:"transfers"`
}

type orderParams struct {
	Order transaction.OrderPayload `json:"order"`
}

type signedOrderParams struct {
	Order transaction.OrderPayload         `json:"order"`
	Auth  transaction.AuthorizationPayload `json:"auth"`
}

type pairParams struct {
	Buy  transaction.OrderPayload `json:"buy"`
	Sell transaction.OrderPayload `json:"sell"`
}

type ordersQueryParams struct {
	Query orderbook.Query `json:"query"`
	Page  uint64          `json:"page,omitempty"`
}

type assetParams struct {
	TokenAddress string `json:"tokenAddress"`
	TokenID      string `json:"tokenId"`
}

type assetsQueryParams struct {
	Query orderbook.AssetQuery `json:"query"`
	Page  uint64               `json:"page,omitempty"`
}

// postOrderParams lists either a nested JSON order (flattened to dotted
// fields) or pre-flattened fields. An empty orderId is generated.
type postOrderParams struct {
	OrderID string            `json:"orderId,omitempty"`
	Owner   string            `json:"owner"`
	Order   json.RawMessage   `json:"order,omitempty"`
	Fields  []orderbook.Field `json:"fields,omitempty"`
}

type whitelistParams struct {
	TokenAddress string `json:"tokenAddress"`
	TokenID      string `json:"tokenId"`
	Email        string `json:"email"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WebSocket channels
const (
	ChannelMatches       = "matches"
	ChannelCancellations = "cancellations"
)

// WSSubscribeRequest is sent by client to subscribe to channels. Account,
// when set, limits delivery to events where it is maker or taker.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // ["matches", "cancellations"]
	Account  string   `json:"account,omitempty"`
}

// WSAck answers every subscription request
type WSAck struct {
	Type     string   `json:"type"` // "subscribed", "unsubscribed" or "error"
	Op       string   `json:"op,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// MatchEvent is broadcast on the matches channel
type MatchEvent struct {
	Type         string              `json:"type"` // "match"
	BuyHash      string              `json:"buyHash"`
	SellHash     string              `json:"sellHash"`
	Maker        string              `json:"maker"`
	Taker        string              `json:"taker"`
	Price        string              `json:"price"`
	PaymentToken string              `json:"paymentToken"`
	Transfers    []exchange.Transfer `json:"transfers"`
	Timestamp    int64               `json:"timestamp"` // Unix milliseconds
}

// CancelEvent is broadcast on the cancellations channel
type CancelEvent struct {
	Type      string `json:"type"` // "cancellation"
	Hash      string `json:"hash"`
	Maker     string `json:"maker"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}
