package orderbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
)

// Flatten turns a nested JSON object into dotted name/value fields, sorted
// by name. Arrays use the element index as the path segment and null
// leaves are dropped.
//
//	{"metadata":{"asset":{"id":"7"}}} → metadata.asset.id = 7
func Flatten(data []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to decode order json: %w", err)
	}

	var fields []Field
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				walk(join(prefix, k), child)
			}
		case []any:
			for i, child := range t {
				walk(join(prefix, strconv.Itoa(i)), child)
			}
		case nil:
		case string:
			fields = append(fields, Field{Name: prefix, Value: t})
		case json.Number:
			fields = append(fields, Field{Name: prefix, Value: t.String()})
		case bool:
			fields = append(fields, Field{Name: prefix, Value: strconv.FormatBool(t)})
		}
	}
	walk("", root)

	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

type fieldSet map[string]string

func (fs fieldSet) address(name string) (common.Address, error) {
	v, ok := fs[name]
	if !ok || v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s: %s", name, v)
	}
	return common.HexToAddress(v), nil
}

// integer accepts decimal or 0x-prefixed hex; missing means zero
func (fs fieldSet) integer(name string) (*big.Int, error) {
	v, ok := fs[name]
	if !ok || v == "" {
		return new(big.Int), nil
	}
	n, ok := math.ParseBig256(v)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", name, v)
	}
	return n, nil
}

func (fs fieldSet) uint(name string) (uint64, error) {
	v, ok := fs[name]
	if !ok || v == "" {
		return 0, nil
	}
	n, ok := math.ParseUint64(v)
	if !ok {
		return 0, fmt.Errorf("invalid %s: %s", name, v)
	}
	return n, nil
}

func (fs fieldSet) bytes(name string) ([]byte, error) {
	v, ok := fs[name]
	if !ok || v == "" || v == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

// enum accepts the raw value or one of the names; out-of-range raw values
// pass through so validation can classify them
func (fs fieldSet) enum(name string, names ...string) (uint8, error) {
	v, ok := fs[name]
	if !ok || v == "" {
		return 0, nil
	}
	for i, n := range names {
		if strings.EqualFold(v, n) {
			return uint8(i), nil
		}
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, v)
	}
	return uint8(n), nil
}

// OrderFromFields builds an exchange order from flattened fields named
// after the order's JSON attributes (exchange, maker, basePrice, ...).
// Unknown fields such as metadata are ignored.
func OrderFromFields(fields []Field) (*exchange.Order, error) {
	fs := make(fieldSet, len(fields))
	for _, f := range fields {
		fs[f.Name] = f.Value
	}

	o := &exchange.Order{}
	var err error
	addrs := []struct {
		name string
		dst  *common.Address
	}{
		{"exchange", &o.Exchange},
		{"maker", &o.Maker},
		{"taker", &o.Taker},
		{"feeRecipient", &o.FeeRecipient},
		{"target", &o.Target},
		{"staticTarget", &o.StaticTarget},
		{"paymentToken", &o.PaymentToken},
	}
	for _, a := range addrs {
		if *a.dst, err = fs.address(a.name); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		name string
		dst  **big.Int
	}{
		{"makerRelayerFee", &o.MakerRelayerFee},
		{"takerRelayerFee", &o.TakerRelayerFee},
		{"makerProtocolFee", &o.MakerProtocolFee},
		{"takerProtocolFee", &o.TakerProtocolFee},
		{"basePrice", &o.BasePrice},
		{"extra", &o.Extra},
		{"salt", &o.Salt},
	}
	for _, i := range ints {
		if *i.dst, err = fs.integer(i.name); err != nil {
			return nil, err
		}
	}

	feeMethod, err := fs.enum("feeMethod", "ProtocolFee", "SplitFee")
	if err != nil {
		return nil, err
	}
	side, err := fs.enum("side", "Buy", "Sell")
	if err != nil {
		return nil, err
	}
	saleKind, err := fs.enum("saleKind", "FixedPrice", "DutchAuction")
	if err != nil {
		return nil, err
	}
	howToCall, err := fs.enum("howToCall", "Call", "DelegateCall")
	if err != nil {
		return nil, err
	}
	o.FeeMethod = exchange.FeeMethod(feeMethod)
	o.Side = exchange.Side(side)
	o.SaleKind = exchange.SaleKind(saleKind)
	o.HowToCall = exchange.HowToCall(howToCall)

	if o.Calldata, err = fs.bytes("calldata"); err != nil {
		return nil, err
	}
	if o.ReplacementPattern, err = fs.bytes("replacementPattern"); err != nil {
		return nil, err
	}
	if o.StaticExtradata, err = fs.bytes("staticExtradata"); err != nil {
		return nil, err
	}
	if o.ListingTime, err = fs.uint("listingTime"); err != nil {
		return nil, err
	}
	if o.ExpirationTime, err = fs.uint("expirationTime"); err != nil {
		return nil, err
	}
	return o, nil
}

// OrderFields is the inverse of OrderFromFields
func OrderFields(o *exchange.Order) []Field {
	dec := func(x *big.Int) string {
		if x == nil {
			return "0"
		}
		return x.String()
	}
	return []Field{
		{"basePrice", dec(o.BasePrice)},
		{"calldata", hexutil.Encode(o.Calldata)},
		{"exchange", o.Exchange.Hex()},
		{"expirationTime", strconv.FormatUint(o.ExpirationTime, 10)},
		{"extra", dec(o.Extra)},
		{"feeMethod", strconv.Itoa(int(o.FeeMethod))},
		{"feeRecipient", o.FeeRecipient.Hex()},
		{"howToCall", strconv.Itoa(int(o.HowToCall))},
		{"listingTime", strconv.FormatUint(o.ListingTime, 10)},
		{"maker", o.Maker.Hex()},
		{"makerProtocolFee", dec(o.MakerProtocolFee)},
		{"makerRelayerFee", dec(o.MakerRelayerFee)},
		{"paymentToken", o.PaymentToken.Hex()},
		{"replacementPattern", hexutil.Encode(o.ReplacementPattern)},
		{"saleKind", strconv.Itoa(int(o.SaleKind))},
		{"salt", dec(o.Salt)},
		{"side", strconv.Itoa(int(o.Side))},
		{"staticExtradata", hexutil.Encode(o.StaticExtradata)},
		{"staticTarget", o.StaticTarget.Hex()},
		{"taker", o.Taker.Hex()},
		{"takerProtocolFee", dec(o.TakerProtocolFee)},
		{"takerRelayerFee", dec(o.TakerRelayerFee)},
		{"target", o.Target.Hex()},
	}
}
