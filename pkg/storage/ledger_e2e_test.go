package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
	"github.com/uhyunpark/hyperwyvern/pkg/util"
)

func TestAtomicMatchAgainstPebbleLedger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exchangeAddr := common.HexToAddress("0x00000000000000000000000000000000000e0001")
	protocolRecipient := common.HexToAddress("0x00000000000000000000000000000000000e0003")
	domain := crypto.DefaultDomain().WithContract(exchangeAddr)
	now := time.Unix(1_700_000_000, 0)
	ex := exchange.New(domain, exchange.ProtocolConfig{
		Version:                 1,
		ProtocolFeeRecipient:    protocolRecipient,
		MinimumMakerProtocolFee: big.NewInt(0),
		MinimumTakerProtocolFee: big.NewInt(0),
	}, store, exchange.WithClock(util.NewManualClock(now)))

	seller, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	buyer, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	order := func(side exchange.Side, maker common.Address) *exchange.Order {
		return &exchange.Order{
			Exchange:         exchangeAddr,
			Maker:            maker,
			MakerRelayerFee:  big.NewInt(0),
			TakerRelayerFee:  big.NewInt(200),
			MakerProtocolFee: big.NewInt(0),
			TakerProtocolFee: big.NewInt(0),
			FeeMethod:        exchange.SplitFee,
			Side:             side,
			SaleKind:         exchange.FixedPrice,
			Target:           common.HexToAddress("0x7a"),
			Calldata:         []byte{0x01},
			PaymentToken:     token,
			BasePrice:        big.NewInt(5_000),
			Extra:            big.NewInt(0),
			ListingTime:      uint64(now.Unix() - 60),
			Salt:             big.NewInt(int64(side) + 1),
		}
	}
	sell := order(exchange.Sell, seller.Address())
	sell.FeeRecipient = relayer
	buy := order(exchange.Buy, buyer.Address())

	signFor := func(s crypto.Signer, o *exchange.Order) exchange.Authorization {
		h, err := ex.HashToSign(o)
		if err != nil {
			t.Fatalf("failed to hash: %v", err)
		}
		sig, err := s.Sign(h.Bytes())
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		return exchange.Authorization{Signature: sig, Role: exchange.RoleMaker}
	}

	req := exchange.MatchRequest{
		Sender:   relayer,
		Buy:      buy,
		BuyAuth:  signFor(buyer, buy),
		Sell:     sell,
		SellAuth: signFor(seller, sell),
	}

	// price 5000 + 2% taker relayer fee = 5100 needed
	store.Deposit(ctx, token, buyer.Address(), big.NewInt(5_099))
	if _, err := ex.AtomicMatch(ctx, req); exchange.KindOf(err) != exchange.InsufficientBalance {
		t.Fatalf("err = %v, want InsufficientBalance", err)
	}

	store.Deposit(ctx, token, buyer.Address(), big.NewInt(1))
	fx, err := ex.AtomicMatch(ctx, req)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if fx.Price.Int64() != 5_000 {
		t.Errorf("price = %s, want 5000", fx.Price)
	}
	if got := balanceOf(t, store, seller.Address()); got != 5_000 {
		t.Errorf("seller = %d, want 5000", got)
	}
	if got := balanceOf(t, store, relayer); got != 100 {
		t.Errorf("relayer = %d, want 100", got)
	}
	if got := balanceOf(t, store, buyer.Address()); got != 0 {
		t.Errorf("buyer = %d, want 0", got)
	}

	_, err = ex.AtomicMatch(ctx, req)
	if exchange.KindOf(err) != exchange.AlreadyFinalized {
		t.Fatalf("replay err = %v, want AlreadyFinalized", err)
	}
}
