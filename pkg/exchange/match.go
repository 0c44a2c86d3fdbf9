package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// GuardedReplace merges desired into array where mask bits are set:
// out[i] = (^mask[i] & array[i]) | (mask[i] & desired[i]).
// All three slices must have the same length. Inputs are not modified.
func GuardedReplace(array, desired, mask []byte) ([]byte, error) {
	if len(array) != len(desired) {
		return nil, fmt.Errorf("array length %d differs from desired length %d", len(array), len(desired))
	}
	if len(array) != len(mask) {
		return nil, fmt.Errorf("array length %d differs from mask length %d", len(array), len(mask))
	}
	out := make([]byte, len(array))
	for i := range array {
		out[i] = (^mask[i] & array[i]) | (mask[i] & desired[i])
	}
	return out, nil
}

// MergeCalldata applies each side's replacement pattern against the other
// side's calldata and returns the merged payload when both agree
func MergeCalldata(buy, sell *Order) ([]byte, error) {
	buyData := buy.Calldata
	if len(buy.ReplacementPattern) > 0 {
		merged, err := GuardedReplace(buy.Calldata, sell.Calldata, buy.ReplacementPattern)
		if err != nil {
			return nil, wrapError(AssetMismatch, err, "buy replacement")
		}
		buyData = merged
	}
	sellData := sell.Calldata
	if len(sell.ReplacementPattern) > 0 {
		merged, err := GuardedReplace(sell.Calldata, buy.Calldata, sell.ReplacementPattern)
		if err != nil {
			return nil, wrapError(AssetMismatch, err, "sell replacement")
		}
		sellData = merged
	}
	if !bytes.Equal(buyData, sellData) {
		return nil, newError(AssetMismatch, "merged calldata differs")
	}
	return common.CopyBytes(buyData), nil
}

// checkPair runs the static pairwise conditions that need no collaborator
func checkPair(buy, sell *Order) error {
	if buy.Exchange != sell.Exchange {
		return newError(ExchangeMismatch, "buy exchange %s, sell exchange %s", buy.Exchange.Hex(), sell.Exchange.Hex())
	}
	if buy.PaymentToken != sell.PaymentToken {
		return newError(AssetMismatch, "payment token %s vs %s", buy.PaymentToken.Hex(), sell.PaymentToken.Hex())
	}
	if buy.FeeMethod != sell.FeeMethod {
		return newError(FeeMismatch, "fee method %s vs %s", buy.FeeMethod, sell.FeeMethod)
	}
	if sell.Taker != (common.Address{}) && sell.Taker != buy.Maker {
		return newError(TakerMismatch, "sell restricted to taker %s", sell.Taker.Hex())
	}
	if buy.Taker != (common.Address{}) && buy.Taker != sell.Maker {
		return newError(TakerMismatch, "buy restricted to taker %s", buy.Taker.Hex())
	}
	if buy.IsMaker() == sell.IsMaker() {
		if buy.IsMaker() {
			return newError(AmbiguousMaker, "both orders carry a fee recipient")
		}
		return newError(AmbiguousMaker, "neither order carries a fee recipient")
	}
	// Replacement patterns only open calldata bytes; the call target is fixed.
	if buy.Target != sell.Target {
		return newError(AssetMismatch, "target %s vs %s", buy.Target.Hex(), sell.Target.Hex())
	}
	if buy.HowToCall != sell.HowToCall {
		return newError(AssetMismatch, "howToCall %s vs %s", buy.HowToCall, sell.HowToCall)
	}
	return nil
}

// OrdersCanMatch reports (nil) whether buy and sell may settle against
// each other now. Signatures are not checked; see AtomicMatch.
func (e *Exchange) OrdersCanMatch(ctx context.Context, buy, sell *Order) error {
	_, _, err := e.ordersCanMatch(ctx, buy, sell, e.now())
	return err
}

// ordersCanMatch returns the merged calldata and both order hashes of a
// compatible pair
func (e *Exchange) ordersCanMatch(ctx context.Context, buy, sell *Order, now uint64) ([]byte, *matchHashes, error) {
	if buy.Side != Buy || sell.Side != Sell {
		return nil, nil, newError(SideMismatch, "buy side %s, sell side %s", buy.Side, sell.Side)
	}
	if err := e.validateParameters(ctx, buy, now); err != nil {
		return nil, nil, fmt.Errorf("buy order: %w", err)
	}
	if err := e.validateParameters(ctx, sell, now); err != nil {
		return nil, nil, fmt.Errorf("sell order: %w", err)
	}

	hashes, err := e.pairHashes(buy, sell)
	if err != nil {
		return nil, nil, err
	}
	if err := e.requireOpen(ctx, hashes.buy, "buy"); err != nil {
		return nil, nil, err
	}
	if err := e.requireOpen(ctx, hashes.sell, "sell"); err != nil {
		return nil, nil, err
	}

	if err := checkPair(buy, sell); err != nil {
		return nil, nil, err
	}
	calldata, err := MergeCalldata(buy, sell)
	if err != nil {
		return nil, nil, err
	}

	buyPrice := CurrentPrice(buy, now)
	sellPrice := CurrentPrice(sell, now)
	if buyPrice.Cmp(sellPrice) < 0 {
		return nil, nil, newError(PriceIncompatible, "buy price %s below sell price %s", buyPrice, sellPrice)
	}
	return calldata, hashes, nil
}

type matchHashes struct {
	buy, sell common.Hash
}

func (e *Exchange) pairHashes(buy, sell *Order) (*matchHashes, error) {
	buyHash, err := e.HashToSign(buy)
	if err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}
	sellHash, err := e.HashToSign(sell)
	if err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	return &matchHashes{buy: buyHash, sell: sellHash}, nil
}

func (e *Exchange) requireOpen(ctx context.Context, hash common.Hash, label string) error {
	state, err := e.orderState(ctx, hash)
	if err != nil {
		return err
	}
	if state.CancelledOrFinalized {
		return newError(AlreadyFinalized, "%s order %s cancelled or finalized", label, hash.Hex())
	}
	return nil
}

func (e *Exchange) orderState(ctx context.Context, hash common.Hash) (OrderState, error) {
	if e.ledger == nil {
		return OrderState{}, newError(CollaboratorUnavailable, "no ledger configured")
	}
	state, err := e.ledger.OrderState(ctx, hash)
	if err != nil {
		var xerr *Error
		if errors.As(err, &xerr) {
			return OrderState{}, err
		}
		return OrderState{}, wrapError(CollaboratorUnavailable, err, "order state")
	}
	return state, nil
}
