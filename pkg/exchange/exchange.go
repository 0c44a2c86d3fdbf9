package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/util"
)

// OrderState is the ledger's view of an order hash at read time
type OrderState struct {
	CancelledOrFinalized bool `json:"cancelledOrFinalized"`
	Approved             bool `json:"approved"`
}

// Ledger holds order flags and balances. Reads are snapshots; Settle must
// re-check finalization atomically with applying the transfers.
type Ledger interface {
	OrderState(ctx context.Context, hash common.Hash) (OrderState, error)
	MarkCancelled(ctx context.Context, hash common.Hash) error
	MarkApproved(ctx context.Context, hash common.Hash, orderbookInclusionDesired bool) error
	Settle(ctx context.Context, effects *TransferEffects) error
}

// StaticChecker runs the read-only validity call an order may request
type StaticChecker interface {
	StaticCheck(ctx context.Context, target common.Address, calldata, extradata []byte) (bool, error)
}

// ProtocolConfig is replaced as a whole; a newer record must carry a higher Version
type ProtocolConfig struct {
	Version                 uint64
	ProtocolFeeRecipient    common.Address
	MinimumMakerProtocolFee *big.Int
	MinimumTakerProtocolFee *big.Int
	ExchangeToken           common.Address
}

// Exchange evaluates orders for one exchange instance. It is immutable and
// safe for concurrent use; all mutable state lives behind the Ledger.
type Exchange struct {
	domain   crypto.EIP712Domain
	protocol ProtocolConfig
	ledger   Ledger
	verifier crypto.Verifier
	static   StaticChecker
	clock    util.Clock
	logger   *zap.SugaredLogger
}

type Option func(*Exchange)

func WithVerifier(v crypto.Verifier) Option { return func(e *Exchange) { e.verifier = v } }

func WithStaticChecker(s StaticChecker) Option { return func(e *Exchange) { e.static = s } }

func WithClock(c util.Clock) Option { return func(e *Exchange) { e.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Exchange) { e.logger = l } }

// New creates an exchange bound to domain.VerifyingContract
func New(domain crypto.EIP712Domain, protocol ProtocolConfig, ledger Ledger, opts ...Option) *Exchange {
	e := &Exchange{
		domain:   domain,
		protocol: protocol,
		ledger:   ledger,
		verifier: crypto.MultiVerifier{},
		clock:    util.RealClock{},
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Address is the exchange instance orders must be scoped to
func (e *Exchange) Address() common.Address { return e.domain.VerifyingContract }

func (e *Exchange) Domain() crypto.EIP712Domain { return e.domain }

// Verifier checks order signatures and, at the API edge, sender signatures
func (e *Exchange) Verifier() crypto.Verifier { return e.verifier }

func (e *Exchange) Protocol() ProtocolConfig { return e.protocol }

// WithProtocolConfig returns a copy of e using cfg
func (e *Exchange) WithProtocolConfig(cfg ProtocolConfig) (*Exchange, error) {
	if cfg.Version <= e.protocol.Version {
		return nil, fmt.Errorf("protocol config version %d not newer than %d", cfg.Version, e.protocol.Version)
	}
	cp := *e
	cp.protocol = cfg
	return &cp, nil
}

func (e *Exchange) HashOrder(o *Order) (common.Hash, error) { return HashOrder(o) }

func (e *Exchange) HashToSign(o *Order) (common.Hash, error) { return HashToSign(e.domain, o) }

// CalculateCurrentPrice resolves o's price at the exchange clock's time
func (e *Exchange) CalculateCurrentPrice(o *Order) *big.Int {
	return CurrentPrice(o, e.now())
}

// CalculateMatchPrice returns the settlement price of a compatible pair
func (e *Exchange) CalculateMatchPrice(ctx context.Context, buy, sell *Order) (*big.Int, error) {
	now := e.now()
	if _, _, err := e.ordersCanMatch(ctx, buy, sell, now); err != nil {
		return nil, err
	}
	return MatchPrice(buy, sell, now), nil
}

func (e *Exchange) now() uint64 {
	t := e.clock.Now().Unix()
	if t < 0 {
		return 0
	}
	return uint64(t)
}
