package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeMatch   TxType = "match"   // Atomic match of a buy/sell pair
	TxTypeCancel  TxType = "cancel"  // Cancel order (maker only)
	TxTypeApprove TxType = "approve" // Pre-approve order (maker only)
)

// Transaction is the serialized form of a state-changing exchange request
type Transaction struct {
	Type    TxType          `json:"type"`
	Match   *MatchPayload   `json:"match,omitempty"`
	Cancel  *CancelPayload  `json:"cancel,omitempty"`
	Approve *ApprovePayload `json:"approve,omitempty"`
}

// OrderPayload is the JSON form of an exchange order. Integers are decimal
// strings, enums are raw values, byte strings are 0x-hex.
type OrderPayload struct {
	Exchange           string        `json:"exchange"`
	Maker              string        `json:"maker"`
	Taker              string        `json:"taker"`
	MakerRelayerFee    string        `json:"makerRelayerFee"`
	TakerRelayerFee    string        `json:"takerRelayerFee"`
	MakerProtocolFee   string        `json:"makerProtocolFee"`
	TakerProtocolFee   string        `json:"takerProtocolFee"`
	FeeRecipient       string        `json:"feeRecipient"`
	FeeMethod          uint8         `json:"feeMethod"`          // 0=ProtocolFee, 1=SplitFee
	Side               uint8         `json:"side"`               // 0=Buy, 1=Sell
	SaleKind           uint8         `json:"saleKind"`           // 0=FixedPrice, 1=DutchAuction
	Target             string        `json:"target"`
	HowToCall          uint8         `json:"howToCall"`          // 0=Call, 1=DelegateCall
	Calldata           hexutil.Bytes `json:"calldata"`
	ReplacementPattern hexutil.Bytes `json:"replacementPattern"`
	StaticTarget       string        `json:"staticTarget"`
	StaticExtradata    hexutil.Bytes `json:"staticExtradata"`
	PaymentToken       string        `json:"paymentToken"`
	BasePrice          string        `json:"basePrice"`
	Extra              string        `json:"extra"`
	ListingTime        string        `json:"listingTime"`        // Unix seconds
	ExpirationTime     string        `json:"expirationTime"`     // Unix seconds (0 = never)
	Salt               string        `json:"salt"`
}

// AuthorizationPayload carries the signature of one order
type AuthorizationPayload struct {
	Signature string `json:"signature"`      // Hex-encoded signature (0x...)
	Role      string `json:"role,omitempty"` // "maker" (default) or "taker"
}

// SignedOrder is an order with its authorization
type SignedOrder struct {
	Order OrderPayload         `json:"order"`
	Auth  AuthorizationPayload `json:"auth"`
}

// MatchPayload contains atomic match data
type MatchPayload struct {
	Sender          string        `json:"sender"`
	SenderSignature string        `json:"senderSignature"` // See SigningHash
	Buy             SignedOrder   `json:"buy"`
	Sell            SignedOrder   `json:"sell"`
	Metadata        hexutil.Bytes `json:"metadata,omitempty"`
}

// CancelPayload contains order cancellation data
type CancelPayload struct {
	Sender          string      `json:"sender"`
	SenderSignature string      `json:"senderSignature"`
	Order           SignedOrder `json:"order"`
}

// ApprovePayload contains order approval data
type ApprovePayload struct {
	Sender                    string       `json:"sender"`
	SenderSignature           string       `json:"senderSignature"`
	Order                     OrderPayload `json:"order"`
	OrderbookInclusionDesired bool         `json:"orderbookInclusionDesired"`
}

func parseAddress(name, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s: %s", name, v)
	}
	return common.HexToAddress(v), nil
}

func parseInt(name, v string) (*big.Int, error) {
	if v == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", name, v)
	}
	return n, nil
}

func parseTime(name, v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, v)
	}
	return n, nil
}

// ToOrder converts OrderPayload to an exchange order. Empty fields decode
// as zero; out-of-range enum values are kept for validation to classify.
func (p *OrderPayload) ToOrder() (*exchange.Order, error) {
	o := &exchange.Order{
		FeeMethod:          exchange.FeeMethod(p.FeeMethod),
		Side:               exchange.Side(p.Side),
		SaleKind:           exchange.SaleKind(p.SaleKind),
		HowToCall:          exchange.HowToCall(p.HowToCall),
		Calldata:           common.CopyBytes(p.Calldata),
		ReplacementPattern: common.CopyBytes(p.ReplacementPattern),
		StaticExtradata:    common.CopyBytes(p.StaticExtradata),
	}

	var err error
	addrs := []struct {
		name string
		v    string
		dst  *common.Address
	}{
		{"exchange", p.Exchange, &o.Exchange},
		{"maker", p.Maker, &o.Maker},
		{"taker", p.Taker, &o.Taker},
		{"feeRecipient", p.FeeRecipient, &o.FeeRecipient},
		{"target", p.Target, &o.Target},
		{"staticTarget", p.StaticTarget, &o.StaticTarget},
		{"paymentToken", p.PaymentToken, &o.PaymentToken},
	}
	for _, a := range addrs {
		if *a.dst, err = parseAddress(a.name, a.v); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		name string
		v    string
		dst  **big.Int
	}{
		{"makerRelayerFee", p.MakerRelayerFee, &o.MakerRelayerFee},
		{"takerRelayerFee", p.TakerRelayerFee, &o.TakerRelayerFee},
		{"makerProtocolFee", p.MakerProtocolFee, &o.MakerProtocolFee},
		{"takerProtocolFee", p.TakerProtocolFee, &o.TakerProtocolFee},
		{"basePrice", p.BasePrice, &o.BasePrice},
		{"extra", p.Extra, &o.Extra},
		{"salt", p.Salt, &o.Salt},
	}
	for _, i := range ints {
		if *i.dst, err = parseInt(i.name, i.v); err != nil {
			return nil, err
		}
	}

	if o.ListingTime, err = parseTime("listingTime", p.ListingTime); err != nil {
		return nil, err
	}
	if o.ExpirationTime, err = parseTime("expirationTime", p.ExpirationTime); err != nil {
		return nil, err
	}
	return o, nil
}

func decimal(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// FromOrder converts an exchange order to OrderPayload
func FromOrder(o *exchange.Order) *OrderPayload {
	return &OrderPayload{
		Exchange:           o.Exchange.Hex(),
		Maker:              o.Maker.Hex(),
		Taker:              o.Taker.Hex(),
		MakerRelayerFee:    decimal(o.MakerRelayerFee),
		TakerRelayerFee:    decimal(o.TakerRelayerFee),
		MakerProtocolFee:   decimal(o.MakerProtocolFee),
		TakerProtocolFee:   decimal(o.TakerProtocolFee),
		FeeRecipient:       o.FeeRecipient.Hex(),
		FeeMethod:          uint8(o.FeeMethod),
		Side:               uint8(o.Side),
		SaleKind:           uint8(o.SaleKind),
		Target:             o.Target.Hex(),
		HowToCall:          uint8(o.HowToCall),
		Calldata:           common.CopyBytes(o.Calldata),
		ReplacementPattern: common.CopyBytes(o.ReplacementPattern),
		StaticTarget:       o.StaticTarget.Hex(),
		StaticExtradata:    common.CopyBytes(o.StaticExtradata),
		PaymentToken:       o.PaymentToken.Hex(),
		BasePrice:          decimal(o.BasePrice),
		Extra:              decimal(o.Extra),
		ListingTime:        strconv.FormatUint(o.ListingTime, 10),
		ExpirationTime:     strconv.FormatUint(o.ExpirationTime, 10),
		Salt:               decimal(o.Salt),
	}
}

// ToAuthorization decodes the signature and role
func (a *AuthorizationPayload) ToAuthorization() (exchange.Authorization, error) {
	var auth exchange.Authorization
	switch a.Role {
	case "", "maker":
		auth.Role = exchange.RoleMaker
	case "taker":
		auth.Role = exchange.RoleTaker
	default:
		return auth, fmt.Errorf("invalid role: %s", a.Role)
	}
	if a.Signature == "" {
		// Approved orders and orders owned by the authenticated sender need
		// no signature
		return auth, nil
	}
	sig, err := decodeSignature(a.Signature)
	if err != nil {
		return auth, err
	}
	auth.Signature = sig
	return auth, nil
}

// Decode converts SignedOrder to an order and its authorization
func (s *SignedOrder) Decode() (*exchange.Order, exchange.Authorization, error) {
	o, err := s.Order.ToOrder()
	if err != nil {
		return nil, exchange.Authorization{}, fmt.Errorf("invalid order format: %w", err)
	}
	auth, err := s.Auth.ToAuthorization()
	if err != nil {
		return nil, exchange.Authorization{}, fmt.Errorf("invalid authorization: %w", err)
	}
	return o, auth, nil
}

// ToMatchRequest converts MatchPayload to an exchange match request
func (m *MatchPayload) ToMatchRequest() (exchange.MatchRequest, error) {
	sender, err := parseAddress("sender", m.Sender)
	if err != nil {
		return exchange.MatchRequest{}, err
	}
	buy, buyAuth, err := m.Buy.Decode()
	if err != nil {
		return exchange.MatchRequest{}, fmt.Errorf("buy: %w", err)
	}
	sell, sellAuth, err := m.Sell.Decode()
	if err != nil {
		return exchange.MatchRequest{}, fmt.Errorf("sell: %w", err)
	}
	return exchange.MatchRequest{
		Sender:   sender,
		Buy:      buy,
		BuyAuth:  buyAuth,
		Sell:     sell,
		SellAuth: sellAuth,
		Metadata: common.CopyBytes(m.Metadata),
	}, nil
}

// Serialize converts Transaction to JSON bytes
func (tx *Transaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into Transaction
func Deserialize(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *Transaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}

	switch tx.Type {
	case TxTypeMatch:
		if tx.Match == nil {
			return fmt.Errorf("match type requires match payload")
		}
		if tx.Match.Sender == "" {
			return fmt.Errorf("missing match sender")
		}
		if tx.Match.SenderSignature == "" {
			return fmt.Errorf("missing match sender signature")
		}

	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel type requires cancel payload")
		}
		if tx.Cancel.Sender == "" {
			return fmt.Errorf("missing cancel sender")
		}
		if tx.Cancel.SenderSignature == "" {
			return fmt.Errorf("missing cancel sender signature")
		}

	case TxTypeApprove:
		if tx.Approve == nil {
			return fmt.Errorf("approve type requires approve payload")
		}
		if tx.Approve.Sender == "" {
			return fmt.Errorf("missing approve sender")
		}
		if tx.Approve.SenderSignature == "" {
			return fmt.Errorf("missing approve sender signature")
		}

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return nil
}

// ParseTransaction deserializes and validates a transaction
func ParseTransaction(data []byte) (*Transaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example format:
//   {
//     "type": "match",
//     "match": {
//       "sender": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "senderSignature": "0x...",
//       "buy":  {"order": {...}, "auth": {"signature": "0x...", "role": "maker"}},
//       "sell": {"order": {...}, "auth": {"signature": "0x..."}}
//     }
//   }
