package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
	"github.com/uhyunpark/hyperwyvern/pkg/orderbook"
	"github.com/uhyunpark/hyperwyvern/pkg/transaction"
)

// maxRequestBytes bounds a JSON-RPC request body
const maxRequestBytes = 1 << 20

type rpcMethod func(ctx context.Context, params json.RawMessage) (any, error)

func (s *Server) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"exchange_hashOrder":               s.rpcHashOrder,
		"exchange_hashToSign":              s.rpcHashToSign,
		"exchange_validateOrderParameters": s.rpcValidateOrderParameters,
		"exchange_validateOrder":           s.rpcValidateOrder,
		"exchange_ordersCanMatch":          s.rpcOrdersCanMatch,
		"exchange_calculateMatchPrice":     s.rpcCalculateMatchPrice,
		"exchange_calculateCurrentPrice":   s.rpcCalculateCurrentPrice,
		"exchange_atomicMatch":             s.rpcAtomicMatch,
		"exchange_cancelOrder":             s.rpcCancelOrder,
		"exchange_approveOrder":            s.rpcApproveOrder,
		"orderbook_getOrder":               s.rpcGetOrder,
		"orderbook_getOrders":              s.rpcGetOrders,
		"orderbook_getAsset":               s.rpcGetAsset,
		"orderbook_getAssets":              s.rpcGetAssets,
		"orderbook_postOrder":              s.rpcPostOrder,
		"orderbook_postAssetWhiteList":     s.rpcPostAssetWhiteList,
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		respondRPC(w, nil, nil, &RPCError{Code: codeParseError, Message: err.Error()})
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondRPC(w, nil, nil, &RPCError{Code: codeParseError, Message: "invalid JSON"})
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		respondRPC(w, req.ID, nil, &RPCError{Code: codeInvalidRequest, Message: "invalid JSON-RPC request"})
		return
	}

	method, ok := s.methods[req.Method]
	if !ok {
		respondRPC(w, req.ID, nil, &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method})
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == codeInternalError {
			s.logger.Errorw("rpc_failed", "method", req.Method, "err", err)
		}
		respondRPC(w, req.ID, nil, rpcErr)
		return
	}
	respondRPC(w, req.ID, result, nil)
}

func respondRPC(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *RPCError) {
	if id == nil {
		id = json.RawMessage("null")
	}
	respondJSON(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result, Error: rpcErr})
}

// toRPCError classifies a method failure into a JSON-RPC error object
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if kind := exchange.KindOf(err); kind != exchange.KindUnknown {
		return &RPCError{
			Code:    codeExchangeError,
			Message: err.Error(),
			Data:    ExchangeErrorData{Kind: kind.String(), Retryable: kind.Retryable()},
		}
	}
	switch {
	case errors.Is(err, orderbook.ErrOrderNotFound), errors.Is(err, orderbook.ErrAssetNotFound):
		return &RPCError{Code: codeNotFound, Message: err.Error()}
	case isOrderbookInputError(err):
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: codeInternalError, Message: err.Error()}
	}
}

func isOrderbookInputError(err error) bool {
	for _, target := range []error{
		orderbook.ErrOrderIDMissing, orderbook.ErrOrderIDTooLong, orderbook.ErrOrderIDExists,
		orderbook.ErrTooManyFields, orderbook.ErrInvalidFieldName, orderbook.ErrInvalidFieldValue,
		orderbook.ErrOrderLimitExceeded, orderbook.ErrTooManyParams, orderbook.ErrTooManyTokenIDs,
		orderbook.ErrWhitelistLimit, orderbook.ErrWhitelistNotFound, orderbook.ErrWhitelistEmailNeeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func invalidParams(err error) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: err.Error()}
}

// decodeParams accepts a params object or a single-element positional array
func decodeParams(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &RPCError{Code: codeInvalidParams, Message: "missing params"}
	}
	if raw[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil {
			return invalidParams(err)
		}
		if len(positional) != 1 {
			return &RPCError{Code: codeInvalidParams, Message: "expected one positional param"}
		}
		raw = positional[0]
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidParams(err)
	}
	return nil
}

func decodeOrder(raw json.RawMessage) (*exchange.Order, error) {
	var p orderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	o, err := p.Order.ToOrder()
	if err != nil {
		return nil, invalidParams(err)
	}
	return o, nil
}

func decodePair(raw json.RawMessage) (*exchange.Order, *exchange.Order, error) {
	var p pairParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	buy, err := p.Buy.ToOrder()
	if err != nil {
		return nil, nil, invalidParams(err)
	}
	sell, err := p.Sell.ToOrder()
	if err != nil {
		return nil, nil, invalidParams(err)
	}
	return buy, sell, nil
}

func decodeSender(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid sender: " + v}
	}
	return common.HexToAddress(v), nil
}

// authenticate resolves the sender of a state-changing request from its
// sender signature. The claimed sender string alone is never trusted.
func (s *Server) authenticate(fn func(crypto.EIP712Domain, crypto.Verifier) (common.Address, error)) (common.Address, error) {
	sender, err := fn(s.exchange.Domain(), s.exchange.Verifier())
	if err == nil {
		return sender, nil
	}
	if exchange.KindOf(err) != exchange.KindUnknown {
		return common.Address{}, err
	}
	return common.Address{}, invalidParams(err)
}

// validation turns an exchange rejection into a negative answer
func validation(err error) (*ValidationResult, error) {
	if err == nil {
		return &ValidationResult{Valid: true}, nil
	}
	if kind := exchange.KindOf(err); kind != exchange.KindUnknown {
		return &ValidationResult{Valid: false, Kind: kind.String(), Message: err.Error()}, nil
	}
	return nil, err
}

// ==============================
// exchange_* methods
// ==============================

func (s *Server) rpcHashOrder(_ context.Context, raw json.RawMessage) (any, error) {
	o, err := decodeOrder(raw)
	if err != nil {
		return nil, err
	}
	h, err := s.exchange.HashOrder(o)
	if err != nil {
		return nil, err
	}
	return HashResult{Hash: h.Hex()}, nil
}

func (s *Server) rpcHashToSign(_ context.Context, raw json.RawMessage) (any, error) {
	o, err := decodeOrder(raw)
	if err != nil {
		return nil, err
	}
	h, err := s.exchange.HashToSign(o)
	if err != nil {
		return nil, err
	}
	return HashResult{Hash: h.Hex()}, nil
}

func (s *Server) rpcValidateOrderParameters(ctx context.Context, raw json.RawMessage) (any, error) {
	o, err := decodeOrder(raw)
	if err != nil {
		return nil, err
	}
	return validation(s.exchange.ValidateOrderParameters(ctx, o))
}

func (s *Server) rpcValidateOrder(ctx context.Context, raw json.RawMessage) (any, error) {
	var p signedOrderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	signed := transaction.SignedOrder{Order: p.Order, Auth: p.Auth}
	o, auth, err := signed.Decode()
	if err != nil {
		return nil, invalidParams(err)
	}
	return validation(s.exchange.ValidateOrder(ctx, o, auth))
}

func (s *Server) rpcOrdersCanMatch(ctx context.Context, raw json.RawMessage) (any, error) {
	buy, sell, err := decodePair(raw)
	if err != nil {
		return nil, err
	}
	return validation(s.exchange.OrdersCanMatch(ctx, buy, sell))
}

func (s *Server) rpcCalculateMatchPrice(ctx context.Context, raw json.RawMessage) (any, error) {
	buy, sell, err := decodePair(raw)
	if err != nil {
		return nil, err
	}
	price, err := s.exchange.CalculateMatchPrice(ctx, buy, sell)
	if err != nil {
		return nil, err
	}
	return PriceResult{Price: price.String()}, nil
}

func (s *Server) rpcCalculateCurrentPrice(_ context.Context, raw json.RawMessage) (any, error) {
	o, err := decodeOrder(raw)
	if err != nil {
		return nil, err
	}
	if o.SaleKind == exchange.DutchAuction && o.Side == exchange.Sell && o.Extra.Cmp(o.BasePrice) > 0 {
		return nil, exchange.NewError(exchange.BadAuctionParams, "extra %s exceeds base price %s", o.Extra, o.BasePrice)
	}
	return PriceResult{Price: s.exchange.CalculateCurrentPrice(o).String()}, nil
}

func (s *Server) rpcAtomicMatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var p transaction.MatchPayload
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if _, err := decodeSender(p.Sender); err != nil {
		return nil, err
	}
	sender, err := s.authenticate(p.Authenticate)
	if err != nil {
		return nil, err
	}
	req, err := p.ToMatchRequest()
	if err != nil {
		return nil, invalidParams(err)
	}
	req.Sender = sender

	fx, err := s.exchange.AtomicMatch(ctx, req)
	if err != nil {
		return nil, err
	}

	s.record("orders_matched", fx)
	s.broadcastMatch(fx)
	return MatchResult{
		BuyHash:   fx.BuyHash.Hex(),
		SellHash:  fx.SellHash.Hex(),
		Price:     fx.Price.String(),
		Transfers: fx.Transfers,
	}, nil
}

func (s *Server) rpcCancelOrder(ctx context.Context, raw json.RawMessage) (any, error) {
	var p transaction.CancelPayload
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if _, err := decodeSender(p.Sender); err != nil {
		return nil, err
	}
	sender, err := s.authenticate(p.Authenticate)
	if err != nil {
		return nil, err
	}
	o, auth, err := p.Order.Decode()
	if err != nil {
		return nil, invalidParams(err)
	}

	hash, err := s.exchange.CancelOrder(ctx, sender, o, auth)
	if err != nil {
		return nil, err
	}

	s.record("order_cancelled", map[string]string{"hash": hash.Hex(), "maker": o.Maker.Hex()})
	s.broadcastCancel(hash, o.Maker)
	return HashResult{Hash: hash.Hex()}, nil
}

// rpcApproveOrder approves on the ledger and, when asked to, lists the
// order in the orderbook with its hash as an extra field
func (s *Server) rpcApproveOrder(ctx context.Context, raw json.RawMessage) (any, error) {
	var p transaction.ApprovePayload
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if _, err := decodeSender(p.Sender); err != nil {
		return nil, err
	}
	sender, err := s.authenticate(p.Authenticate)
	if err != nil {
		return nil, err
	}
	o, err := p.Order.ToOrder()
	if err != nil {
		return nil, invalidParams(err)
	}

	hash, err := s.exchange.ApproveOrder(ctx, sender, o, p.OrderbookInclusionDesired)
	if err != nil {
		return nil, err
	}
	s.record("order_approved", map[string]any{"hash": hash.Hex(), "orderbookInclusion": p.OrderbookInclusionDesired})

	if p.OrderbookInclusionDesired {
		fields := append(orderbook.OrderFields(o), orderbook.Field{Name: "hash", Value: hash.Hex()})
		if _, err := s.book.PostOrder(ctx, uuid.NewString(), o.Maker, fields); err != nil {
			s.logger.Warnw("approved_order_listing_failed", "hash", hash.Hex(), "err", err)
		}
	}
	return HashResult{Hash: hash.Hex()}, nil
}

// ==============================
// orderbook_* methods
// ==============================

func (s *Server) rpcGetOrder(ctx context.Context, raw json.RawMessage) (any, error) {
	var p ordersQueryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.book.GetOrder(ctx, p.Query)
}

func (s *Server) rpcGetOrders(ctx context.Context, raw json.RawMessage) (any, error) {
	var p ordersQueryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.book.GetOrders(ctx, p.Query, p.Page)
}

func (s *Server) rpcGetAsset(ctx context.Context, raw json.RawMessage) (any, error) {
	var p assetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.book.GetAsset(ctx, p.TokenAddress, p.TokenID)
}

func (s *Server) rpcGetAssets(ctx context.Context, raw json.RawMessage) (any, error) {
	var p assetsQueryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.book.GetAssets(ctx, p.Query, p.Page)
}

func (s *Server) rpcPostOrder(ctx context.Context, raw json.RawMessage) (any, error) {
	var p postOrderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	owner, err := decodeSender(p.Owner)
	if err != nil {
		return nil, err
	}

	fields := p.Fields
	if len(p.Order) > 0 {
		flat, err := orderbook.Flatten(p.Order)
		if err != nil {
			return nil, invalidParams(err)
		}
		fields = append(fields, flat...)
	}
	// Listings must still describe a decodable exchange order
	if _, err := orderbook.OrderFromFields(fields); err != nil {
		return nil, invalidParams(err)
	}

	id := p.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	return s.book.PostOrder(ctx, id, owner, fields)
}

func (s *Server) rpcPostAssetWhiteList(ctx context.Context, raw json.RawMessage) (any, error) {
	var p whitelistParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.book.PostAssetWhitelist(ctx, p.TokenAddress, p.TokenID, p.Email); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
