package exchange

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferReason labels a leg of the fee split
type TransferReason string

const (
	ReasonPrice            TransferReason = "price"
	ReasonMakerRelayerFee  TransferReason = "makerRelayerFee"
	ReasonTakerRelayerFee  TransferReason = "takerRelayerFee"
	ReasonMakerProtocolFee TransferReason = "makerProtocolFee"
	ReasonTakerProtocolFee TransferReason = "takerProtocolFee"
)

// Transfer moves Amount of Token from From to To
type Transfer struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
	Reason TransferReason `json:"reason"`
}

// TransferEffects is everything a SettlementExecutor needs to apply a match
type TransferEffects struct {
	BuyHash      common.Hash    `json:"buyHash"`
	SellHash     common.Hash    `json:"sellHash"`
	Maker        common.Address `json:"maker"`
	Taker        common.Address `json:"taker"`
	Price        *big.Int       `json:"price"`
	PaymentToken common.Address `json:"paymentToken"`
	Target       common.Address `json:"target"`
	HowToCall    HowToCall      `json:"howToCall"`
	Calldata     []byte         `json:"calldata"`
	Metadata     []byte         `json:"metadata,omitempty"`
	Transfers    []Transfer     `json:"transfers"`
}

// MatchRequest carries a buy/sell pair and their authorizations.
// Sender is the account submitting the match and must already be
// authenticated by the caller; an order whose maker is the sender is
// authorized by submission and needs no signature.
type MatchRequest struct {
	Sender   common.Address
	Buy      *Order
	BuyAuth  Authorization
	Sell     *Order
	SellAuth Authorization
	Metadata []byte
}

func bps(rate, price *big.Int) *big.Int {
	amount := new(big.Int).Mul(intOrZero(rate), price)
	return amount.Quo(amount, big.NewInt(InverseBasisPoint))
}

type transferList []Transfer

func (l *transferList) add(token, from, to common.Address, amount *big.Int, reason TransferReason) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	*l = append(*l, Transfer{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount), Reason: reason})
}

// FeeSplit computes the transfers settling buy against sell at price.
// The resting order (non-zero fee recipient) sets the fee terms and the
// counter-order must accept at least its taker fees.
func FeeSplit(buy, sell *Order, price *big.Int, protocol ProtocolConfig) ([]Transfer, error) {
	var out transferList
	token := buy.PaymentToken
	out.add(token, buy.Maker, sell.Maker, price, ReasonPrice)

	if sell.IsMaker() {
		if intOrZero(sell.TakerRelayerFee).Cmp(intOrZero(buy.TakerRelayerFee)) > 0 {
			return nil, newError(FeeMismatch, "sell taker relayer fee %s exceeds buy %s",
				intOrZero(sell.TakerRelayerFee), intOrZero(buy.TakerRelayerFee))
		}
		if sell.FeeMethod == SplitFee {
			if intOrZero(sell.TakerProtocolFee).Cmp(intOrZero(buy.TakerProtocolFee)) > 0 {
				return nil, newError(FeeMismatch, "sell taker protocol fee %s exceeds buy %s",
					intOrZero(sell.TakerProtocolFee), intOrZero(buy.TakerProtocolFee))
			}
			out.add(token, sell.Maker, sell.FeeRecipient, bps(sell.MakerRelayerFee, price), ReasonMakerRelayerFee)
			out.add(token, buy.Maker, sell.FeeRecipient, bps(sell.TakerRelayerFee, price), ReasonTakerRelayerFee)
			out.add(token, sell.Maker, protocol.ProtocolFeeRecipient, bps(sell.MakerProtocolFee, price), ReasonMakerProtocolFee)
			out.add(token, buy.Maker, protocol.ProtocolFeeRecipient, bps(sell.TakerProtocolFee, price), ReasonTakerProtocolFee)
		} else {
			out.add(protocol.ExchangeToken, sell.Maker, sell.FeeRecipient, intOrZero(sell.MakerRelayerFee), ReasonMakerRelayerFee)
			out.add(protocol.ExchangeToken, buy.Maker, sell.FeeRecipient, intOrZero(sell.TakerRelayerFee), ReasonTakerRelayerFee)
		}
		return out, nil
	}

	if intOrZero(buy.TakerRelayerFee).Cmp(intOrZero(sell.TakerRelayerFee)) > 0 {
		return nil, newError(FeeMismatch, "buy taker relayer fee %s exceeds sell %s",
			intOrZero(buy.TakerRelayerFee), intOrZero(sell.TakerRelayerFee))
	}
	if buy.FeeMethod == SplitFee {
		if token == NativeToken {
			return nil, newError(FeeMismatch, "split fees on a buy-side maker need a token payment")
		}
		if intOrZero(buy.TakerProtocolFee).Cmp(intOrZero(sell.TakerProtocolFee)) > 0 {
			return nil, newError(FeeMismatch, "buy taker protocol fee %s exceeds sell %s",
				intOrZero(buy.TakerProtocolFee), intOrZero(sell.TakerProtocolFee))
		}
		out.add(token, buy.Maker, buy.FeeRecipient, bps(buy.MakerRelayerFee, price), ReasonMakerRelayerFee)
		out.add(token, sell.Maker, buy.FeeRecipient, bps(buy.TakerRelayerFee, price), ReasonTakerRelayerFee)
		out.add(token, buy.Maker, protocol.ProtocolFeeRecipient, bps(buy.MakerProtocolFee, price), ReasonMakerProtocolFee)
		out.add(token, sell.Maker, protocol.ProtocolFeeRecipient, bps(buy.TakerProtocolFee, price), ReasonTakerProtocolFee)
	} else {
		out.add(protocol.ExchangeToken, buy.Maker, buy.FeeRecipient, intOrZero(buy.MakerRelayerFee), ReasonMakerRelayerFee)
		out.add(protocol.ExchangeToken, sell.Maker, buy.FeeRecipient, intOrZero(buy.TakerRelayerFee), ReasonTakerRelayerFee)
	}
	return out, nil
}

// AtomicMatch authorizes both orders, checks compatibility, computes the
// settlement effects and hands them to the ledger. The ledger either
// applies every transfer and finalizes both orders, or nothing.
func (e *Exchange) AtomicMatch(ctx context.Context, req MatchRequest) (*TransferEffects, error) {
	buy, sell := req.Buy, req.Sell
	if buy == nil || sell == nil {
		return nil, newError(SideMismatch, "match requires both a buy and a sell order")
	}
	now := e.now()

	if err := e.authorize(ctx, req.Sender, buy, req.BuyAuth, now); err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, req.Sender, sell, req.SellAuth, now); err != nil {
		return nil, err
	}

	calldata, hashes, err := e.ordersCanMatch(ctx, buy, sell, now)
	if err != nil {
		return nil, err
	}

	price := MatchPrice(buy, sell, now)
	transfers, err := FeeSplit(buy, sell, price, e.protocol)
	if err != nil {
		return nil, err
	}

	effects := &TransferEffects{
		BuyHash:      hashes.buy,
		SellHash:     hashes.sell,
		Price:        price,
		PaymentToken: buy.PaymentToken,
		Target:       sell.Target,
		HowToCall:    sell.HowToCall,
		Calldata:     calldata,
		Metadata:     req.Metadata,
		Transfers:    transfers,
	}
	if sell.IsMaker() {
		effects.Maker, effects.Taker = sell.Maker, buy.Maker
	} else {
		effects.Maker, effects.Taker = buy.Maker, sell.Maker
	}

	if err := e.ledger.Settle(ctx, effects); err != nil {
		var xerr *Error
		if !errors.As(err, &xerr) {
			err = wrapError(CollaboratorUnavailable, err, "settle")
		}
		e.logger.Warnw("settlement_failed",
			"buy_hash", hashes.buy.Hex(),
			"sell_hash", hashes.sell.Hex(),
			"err", err)
		return nil, err
	}

	e.logger.Infow("orders_matched",
		"buy_hash", hashes.buy.Hex(),
		"sell_hash", hashes.sell.Hex(),
		"maker", effects.Maker.Hex(),
		"taker", effects.Taker.Hex(),
		"price", price.String(),
		"transfers", len(transfers))
	return effects, nil
}

func (e *Exchange) authorize(ctx context.Context, sender common.Address, o *Order, auth Authorization, now uint64) error {
	if o.Maker == sender {
		return e.validateParameters(ctx, o, now)
	}
	_, err := e.requireValidOrder(ctx, o, auth, now)
	return err
}

// CancelOrder marks o cancelled. Only the maker may cancel, and the
// cancellation must carry the same authorization as a match would.
func (e *Exchange) CancelOrder(ctx context.Context, sender common.Address, o *Order, auth Authorization) (common.Hash, error) {
	if sender != o.Maker {
		return common.Hash{}, newError(Unauthorized, "sender %s is not maker %s", sender.Hex(), o.Maker.Hex())
	}
	hash, err := e.requireValidOrder(ctx, o, auth, e.now())
	if err != nil {
		return hash, err
	}
	if err := e.ledger.MarkCancelled(ctx, hash); err != nil {
		return hash, wrapError(CollaboratorUnavailable, err, "mark cancelled")
	}
	e.logger.Infow("order_cancelled", "hash", hash.Hex(), "maker", o.Maker.Hex())
	return hash, nil
}

// ApproveOrder records an on-ledger approval so o validates without a signature
func (e *Exchange) ApproveOrder(ctx context.Context, sender common.Address, o *Order, orderbookInclusionDesired bool) (common.Hash, error) {
	if sender != o.Maker {
		return common.Hash{}, newError(Unauthorized, "sender %s is not maker %s", sender.Hex(), o.Maker.Hex())
	}
	hash, err := e.HashToSign(o)
	if err != nil {
		return common.Hash{}, err
	}
	state, err := e.orderState(ctx, hash)
	if err != nil {
		return hash, err
	}
	if state.Approved {
		return hash, newError(AlreadyApproved, "order %s already approved", hash.Hex())
	}
	if err := e.ledger.MarkApproved(ctx, hash, orderbookInclusionDesired); err != nil {
		return hash, wrapError(CollaboratorUnavailable, err, "mark approved")
	}
	e.logger.Infow("order_approved",
		"hash", hash.Hex(),
		"maker", o.Maker.Hex(),
		"orderbook_inclusion", orderbookInclusionDesired)
	return hash, nil
}
