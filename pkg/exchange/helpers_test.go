package exchange

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/util"
)

const testNow = int64(1_700_000_000)

var (
	exchangeAddr      = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	relayerAddr       = common.HexToAddress("0x00000000000000000000000000000000000e0002")
	protocolRecipient = common.HexToAddress("0x00000000000000000000000000000000000e0003")
	proxyTarget       = common.HexToAddress("0x00000000000000000000000000000000000e0004")
	paymentToken      = common.HexToAddress("0x00000000000000000000000000000000000e0005")
	exchangeToken     = common.HexToAddress("0x00000000000000000000000000000000000e0006")
)

// memLedger is an in-memory Ledger that finalizes both orders on Settle
type memLedger struct {
	mu        sync.Mutex
	states    map[common.Hash]OrderState
	settled   []*TransferEffects
	stateErr  error
	settleErr error
}

func newMemLedger() *memLedger {
	return &memLedger{states: make(map[common.Hash]OrderState)}
}

func (l *memLedger) OrderState(_ context.Context, hash common.Hash) (OrderState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stateErr != nil {
		return OrderState{}, l.stateErr
	}
	return l.states[hash], nil
}

func (l *memLedger) MarkCancelled(_ context.Context, hash common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.states[hash]
	s.CancelledOrFinalized = true
	l.states[hash] = s
	return nil
}

func (l *memLedger) MarkApproved(_ context.Context, hash common.Hash, _ bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.states[hash]
	s.Approved = true
	l.states[hash] = s
	return nil
}

func (l *memLedger) Settle(_ context.Context, fx *TransferEffects) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settleErr != nil {
		return l.settleErr
	}
	for _, h := range []common.Hash{fx.BuyHash, fx.SellHash} {
		if l.states[h].CancelledOrFinalized {
			return NewError(AlreadyFinalized, "order %s already settled", h.Hex())
		}
	}
	for _, h := range []common.Hash{fx.BuyHash, fx.SellHash} {
		s := l.states[h]
		s.CancelledOrFinalized = true
		l.states[h] = s
	}
	l.settled = append(l.settled, fx)
	return nil
}

type staticFunc func(ctx context.Context, target common.Address, calldata, extradata []byte) (bool, error)

func (f staticFunc) StaticCheck(ctx context.Context, target common.Address, calldata, extradata []byte) (bool, error) {
	return f(ctx, target, calldata, extradata)
}

func testDomain() crypto.EIP712Domain {
	return crypto.DefaultDomain().WithContract(exchangeAddr)
}

func testProtocol() ProtocolConfig {
	return ProtocolConfig{
		Version:                 1,
		ProtocolFeeRecipient:    protocolRecipient,
		MinimumMakerProtocolFee: big.NewInt(0),
		MinimumTakerProtocolFee: big.NewInt(0),
		ExchangeToken:           exchangeToken,
	}
}

type fixture struct {
	ex     *Exchange
	ledger *memLedger
	clock  *util.ManualClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ledger := newMemLedger()
	clock := util.UnixClock(testNow)
	opts = append([]Option{WithClock(clock)}, opts...)
	return &fixture{
		ex:     New(testDomain(), testProtocol(), ledger, opts...),
		ledger: ledger,
		clock:  clock,
	}
}

func mustKey(t *testing.T) *crypto.Secp256k1Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return k
}

// sellOrder is a resting fixed-price sell leaving the buyer slot of its
// calldata open
func sellOrder(maker common.Address, price int64) *Order {
	return &Order{
		Exchange:           exchangeAddr,
		Maker:              maker,
		MakerRelayerFee:    big.NewInt(0),
		TakerRelayerFee:    big.NewInt(0),
		MakerProtocolFee:   big.NewInt(0),
		TakerProtocolFee:   big.NewInt(0),
		FeeRecipient:       relayerAddr,
		FeeMethod:          ProtocolFee,
		Side:               Sell,
		SaleKind:           FixedPrice,
		Target:             proxyTarget,
		HowToCall:          Call,
		Calldata:           []byte{0xaa, 0x00, 0x07},
		ReplacementPattern: []byte{0x00, 0xff, 0x00},
		PaymentToken:       paymentToken,
		BasePrice:          big.NewInt(price),
		Extra:              big.NewInt(0),
		ListingTime:        uint64(testNow - 10),
		Salt:               big.NewInt(1),
	}
}

// buyOrder is an open taker buy leaving the seller slot open
func buyOrder(maker common.Address, price int64) *Order {
	return &Order{
		Exchange:           exchangeAddr,
		Maker:              maker,
		MakerRelayerFee:    big.NewInt(0),
		TakerRelayerFee:    big.NewInt(0),
		MakerProtocolFee:   big.NewInt(0),
		TakerProtocolFee:   big.NewInt(0),
		FeeMethod:          ProtocolFee,
		Side:               Buy,
		SaleKind:           FixedPrice,
		Target:             proxyTarget,
		HowToCall:          Call,
		Calldata:           []byte{0x00, 0xbb, 0x07},
		ReplacementPattern: []byte{0xff, 0x00, 0x00},
		PaymentToken:       paymentToken,
		BasePrice:          big.NewInt(price),
		Extra:              big.NewInt(0),
		ListingTime:        uint64(testNow - 10),
		Salt:               big.NewInt(2),
	}
}

func sign(t *testing.T, ex *Exchange, s crypto.Signer, o *Order) []byte {
	t.Helper()
	h, err := ex.HashToSign(o)
	if err != nil {
		t.Fatalf("failed to hash order: %v", err)
	}
	sig, err := s.Sign(h.Bytes())
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	return sig
}

func makerAuth(t *testing.T, ex *Exchange, s crypto.Signer, o *Order) Authorization {
	return Authorization{Signature: sign(t, ex, s, o), Role: RoleMaker}
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("kind = %s, want %s (err: %v)", got, kind, err)
	}
}
