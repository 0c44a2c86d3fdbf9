package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// InverseBasisPoint is the denominator for fee rates (10000 = 100%)
const InverseBasisPoint = 10000

// FeeMethod selects how fees are charged on settlement
type FeeMethod uint8

const (
	ProtocolFee FeeMethod = 0 // flat exchange-token fees
	SplitFee    FeeMethod = 1 // basis-point fees in the payment token
)

func (f FeeMethod) Valid() bool { return f <= SplitFee }

func (f FeeMethod) String() string {
	switch f {
	case ProtocolFee:
		return "ProtocolFee"
	case SplitFee:
		return "SplitFee"
	default:
		return fmt.Sprintf("FeeMethod(%d)", uint8(f))
	}
}

// Side of the order
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) Valid() bool { return s <= Sell }

func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// SaleKind selects the pricing curve
type SaleKind uint8

const (
	FixedPrice   SaleKind = 0
	DutchAuction SaleKind = 1
)

func (k SaleKind) Valid() bool { return k <= DutchAuction }

func (k SaleKind) String() string {
	switch k {
	case FixedPrice:
		return "FixedPrice"
	case DutchAuction:
		return "DutchAuction"
	default:
		return fmt.Sprintf("SaleKind(%d)", uint8(k))
	}
}

// HowToCall selects how the target is invoked on settlement
type HowToCall uint8

const (
	Call         HowToCall = 0
	DelegateCall HowToCall = 1
)

func (h HowToCall) Valid() bool { return h <= DelegateCall }

func (h HowToCall) String() string {
	switch h {
	case Call:
		return "Call"
	case DelegateCall:
		return "DelegateCall"
	default:
		return fmt.Sprintf("HowToCall(%d)", uint8(h))
	}
}

// Order is a signed statement of intent to trade one asset for a payment.
// Enum fields hold raw values so malformed orders can be classified
// instead of failing to decode.
type Order struct {
	Exchange           common.Address
	Maker              common.Address
	Taker              common.Address // zero = any counterparty
	MakerRelayerFee    *big.Int
	TakerRelayerFee    *big.Int
	MakerProtocolFee   *big.Int
	TakerProtocolFee   *big.Int
	FeeRecipient       common.Address // zero = open taker order
	FeeMethod          FeeMethod
	Side               Side
	SaleKind           SaleKind
	Target             common.Address
	HowToCall          HowToCall
	Calldata           []byte
	ReplacementPattern []byte
	StaticTarget       common.Address // zero = no static check
	StaticExtradata    []byte
	PaymentToken       common.Address // zero = native asset
	BasePrice          *big.Int
	Extra              *big.Int
	ListingTime        uint64
	ExpirationTime     uint64 // 0 = never expires
	Salt               *big.Int
}

// NativeToken is the payment-token sentinel for the chain's native asset
var NativeToken = common.Address{}

// IsMaker reports whether the order is fee-committed (a resting maker order)
func (o *Order) IsMaker() bool {
	return o.FeeRecipient != (common.Address{})
}

// Copy returns a deep copy of the order
func (o *Order) Copy() *Order {
	cp := *o
	cp.MakerRelayerFee = copyInt(o.MakerRelayerFee)
	cp.TakerRelayerFee = copyInt(o.TakerRelayerFee)
	cp.MakerProtocolFee = copyInt(o.MakerProtocolFee)
	cp.TakerProtocolFee = copyInt(o.TakerProtocolFee)
	cp.BasePrice = copyInt(o.BasePrice)
	cp.Extra = copyInt(o.Extra)
	cp.Salt = copyInt(o.Salt)
	cp.Calldata = common.CopyBytes(o.Calldata)
	cp.ReplacementPattern = common.CopyBytes(o.ReplacementPattern)
	cp.StaticExtradata = common.CopyBytes(o.StaticExtradata)
	return &cp
}

func copyInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// intOrZero treats a nil integer field as zero
func intOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
