package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Role names which party's key an order signature is expected from
type Role uint8

const (
	RoleMaker Role = iota
	RoleTaker
)

func (r Role) String() string {
	if r == RoleTaker {
		return "taker"
	}
	return "maker"
}

// Authorization is a signature over HashToSign together with the role of
// the account that produced it
type Authorization struct {
	Signature []byte
	Role      Role
}

// ValidateOrderParameters checks the order's own fields at the current time.
// Checks run in a fixed order and the first failure is returned.
func (e *Exchange) ValidateOrderParameters(ctx context.Context, o *Order) error {
	return e.validateParameters(ctx, o, e.now())
}

func (e *Exchange) validateParameters(ctx context.Context, o *Order, now uint64) error {
	switch {
	case !o.FeeMethod.Valid():
		return newError(MalformedEnum, "unknown feeMethod %d", uint8(o.FeeMethod))
	case !o.Side.Valid():
		return newError(MalformedEnum, "unknown side %d", uint8(o.Side))
	case !o.SaleKind.Valid():
		return newError(MalformedEnum, "unknown saleKind %d", uint8(o.SaleKind))
	case !o.HowToCall.Valid():
		return newError(MalformedEnum, "unknown howToCall %d", uint8(o.HowToCall))
	}
	if err := checkIntegers(o); err != nil {
		return err
	}

	if o.ListingTime > now {
		return newError(NotYetListed, "listed at %d, now %d", o.ListingTime, now)
	}
	if o.ExpirationTime != 0 && now > o.ExpirationTime {
		return newError(Expired, "expired at %d, now %d", o.ExpirationTime, now)
	}

	if o.SaleKind == DutchAuction {
		extra := intOrZero(o.Extra)
		switch {
		case o.ExpirationTime == 0:
			return newError(BadAuctionParams, "dutch auction requires an expiration time")
		case o.ExpirationTime <= o.ListingTime:
			return newError(BadAuctionParams, "expiration %d not after listing %d", o.ExpirationTime, o.ListingTime)
		case extra.Sign() == 0:
			return newError(BadAuctionParams, "dutch auction requires a non-zero extra")
		case o.Side == Sell && extra.Cmp(intOrZero(o.BasePrice)) > 0:
			return newError(BadAuctionParams, "extra %s exceeds base price %s", extra, intOrZero(o.BasePrice))
		}
	}

	if o.Exchange != e.Address() {
		return newError(ExchangeMismatch, "order scoped to %s, exchange is %s", o.Exchange.Hex(), e.Address().Hex())
	}

	if o.FeeMethod == SplitFee {
		if intOrZero(o.MakerProtocolFee).Cmp(intOrZero(e.protocol.MinimumMakerProtocolFee)) < 0 {
			return newError(FeeBelowMinimum, "maker protocol fee %s below minimum %s",
				intOrZero(o.MakerProtocolFee), intOrZero(e.protocol.MinimumMakerProtocolFee))
		}
		if intOrZero(o.TakerProtocolFee).Cmp(intOrZero(e.protocol.MinimumTakerProtocolFee)) < 0 {
			return newError(FeeBelowMinimum, "taker protocol fee %s below minimum %s",
				intOrZero(o.TakerProtocolFee), intOrZero(e.protocol.MinimumTakerProtocolFee))
		}
	}

	if o.StaticTarget != (common.Address{}) {
		if e.static == nil {
			return newError(CollaboratorUnavailable, "no static checker configured for %s", o.StaticTarget.Hex())
		}
		ok, err := e.static.StaticCheck(ctx, o.StaticTarget, o.Calldata, o.StaticExtradata)
		if err != nil {
			return wrapError(CollaboratorUnavailable, err, "static check %s", o.StaticTarget.Hex())
		}
		if !ok {
			return newError(StaticCheckFailed, "static check %s rejected order", o.StaticTarget.Hex())
		}
	}
	return nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func checkIntegers(o *Order) error {
	for _, f := range []struct {
		name string
		v    *big.Int
	}{
		{"makerRelayerFee", o.MakerRelayerFee},
		{"takerRelayerFee", o.TakerRelayerFee},
		{"makerProtocolFee", o.MakerProtocolFee},
		{"takerProtocolFee", o.TakerProtocolFee},
		{"basePrice", o.BasePrice},
		{"extra", o.Extra},
		{"salt", o.Salt},
	} {
		if f.v == nil {
			continue
		}
		if f.v.Sign() < 0 || f.v.Cmp(maxUint256) > 0 {
			return newError(Encoding, "%s out of uint256 range: %s", f.name, f.v)
		}
	}
	return nil
}

// ValidateOrder checks parameters, ledger state and authorization.
// An order approved on the ledger needs no signature.
func (e *Exchange) ValidateOrder(ctx context.Context, o *Order, auth Authorization) error {
	_, err := e.requireValidOrder(ctx, o, auth, e.now())
	return err
}

func (e *Exchange) requireValidOrder(ctx context.Context, o *Order, auth Authorization, now uint64) (common.Hash, error) {
	hash, err := e.HashToSign(o)
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.validateParameters(ctx, o, now); err != nil {
		return hash, err
	}

	state, err := e.orderState(ctx, hash)
	if err != nil {
		return hash, err
	}
	if state.CancelledOrFinalized {
		return hash, newError(AlreadyFinalized, "order %s cancelled or finalized", hash.Hex())
	}
	if state.Approved {
		return hash, nil
	}

	signer, err := signerFor(o, auth.Role)
	if err != nil {
		return hash, err
	}
	if !e.verifier.Verify(signer, hash.Bytes(), auth.Signature) {
		return hash, newError(SignatureMismatch, "signature does not match %s %s", auth.Role, signer.Hex())
	}
	return hash, nil
}

func signerFor(o *Order, role Role) (common.Address, error) {
	switch role {
	case RoleMaker:
		return o.Maker, nil
	case RoleTaker:
		if o.Taker == (common.Address{}) {
			return common.Address{}, newError(SignatureMismatch, "taker signature on an order with no taker")
		}
		return o.Taker, nil
	default:
		return common.Address{}, newError(SignatureMismatch, "unknown signer role %d", uint8(role))
	}
}
