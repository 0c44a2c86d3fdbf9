package exchange

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAtomicMatchFixedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerKey, buyerKey := mustKey(t), mustKey(t)
	sell := sellOrder(sellerKey.Address(), 100)
	buy := buyOrder(buyerKey.Address(), 100)

	req := MatchRequest{
		Sender:   relayerAddr,
		Buy:      buy,
		BuyAuth:  makerAuth(t, f.ex, buyerKey, buy),
		Sell:     sell,
		SellAuth: makerAuth(t, f.ex, sellerKey, sell),
		Metadata: []byte("listing-42"),
	}
	fx, err := f.ex.AtomicMatch(ctx, req)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}

	if fx.Price.Int64() != 100 {
		t.Errorf("price = %s, want 100", fx.Price)
	}
	if fx.Maker != sellerKey.Address() || fx.Taker != buyerKey.Address() {
		t.Errorf("maker/taker = %s/%s, want seller/buyer", fx.Maker.Hex(), fx.Taker.Hex())
	}
	if !bytes.Equal(fx.Calldata, []byte{0xaa, 0xbb, 0x07}) {
		t.Errorf("calldata = %x, want aabb07", fx.Calldata)
	}
	if fx.Target != proxyTarget || string(fx.Metadata) != "listing-42" {
		t.Errorf("target/metadata = %s/%q", fx.Target.Hex(), fx.Metadata)
	}
	if len(fx.Transfers) != 1 {
		t.Fatalf("transfers = %d, want 1 (fees are zero)", len(fx.Transfers))
	}
	tr := fx.Transfers[0]
	if tr.From != buy.Maker || tr.To != sell.Maker || tr.Amount.Int64() != 100 || tr.Token != paymentToken {
		t.Errorf("price transfer = %+v", tr)
	}

	for _, h := range []common.Hash{fx.BuyHash, fx.SellHash} {
		state, _ := f.ledger.OrderState(ctx, h)
		if !state.CancelledOrFinalized {
			t.Errorf("order %s not finalized", h.Hex())
		}
	}

	// at-most-once
	_, err = f.ex.AtomicMatch(ctx, req)
	wantKind(t, err, AlreadyFinalized)
	if len(f.ledger.settled) != 1 {
		t.Errorf("settlements = %d, want 1", len(f.ledger.settled))
	}
}

func TestAtomicMatchSenderSkipsOwnSignature(t *testing.T) {
	f := newFixture(t)
	sellerKey := mustKey(t)
	buyer := common.HexToAddress("0xb0b")
	sell := sellOrder(sellerKey.Address(), 100)
	buy := buyOrder(buyer, 100)

	fx, err := f.ex.AtomicMatch(context.Background(), MatchRequest{
		Sender:   buyer,
		Buy:      buy,
		Sell:     sell,
		SellAuth: makerAuth(t, f.ex, sellerKey, sell),
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if fx.Taker != buyer {
		t.Errorf("taker = %s, want %s", fx.Taker.Hex(), buyer.Hex())
	}
}

func TestAtomicMatchRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	sellerKey, imposter := mustKey(t), mustKey(t)
	buyer := common.HexToAddress("0xb0b")
	sell := sellOrder(sellerKey.Address(), 100)

	_, err := f.ex.AtomicMatch(context.Background(), MatchRequest{
		Sender:   buyer,
		Buy:      buyOrder(buyer, 100),
		Sell:     sell,
		SellAuth: makerAuth(t, f.ex, imposter, sell),
	})
	wantKind(t, err, SignatureMismatch)
	if len(f.ledger.settled) != 0 {
		t.Error("rejected match reached the ledger")
	}
}

func TestAtomicMatchLedgerFailure(t *testing.T) {
	f := newFixture(t)
	buyer := common.HexToAddress("0xb0b")
	sellerKey := mustKey(t)
	sell := sellOrder(sellerKey.Address(), 100)

	f.ledger.settleErr = errors.New("timeout")
	_, err := f.ex.AtomicMatch(context.Background(), MatchRequest{
		Sender: buyer, Buy: buyOrder(buyer, 100),
		Sell: sell, SellAuth: makerAuth(t, f.ex, sellerKey, sell),
	})
	wantKind(t, err, CollaboratorUnavailable)

	f.ledger.settleErr = NewError(InsufficientBalance, "buyer short")
	_, err = f.ex.AtomicMatch(context.Background(), MatchRequest{
		Sender: buyer, Buy: buyOrder(buyer, 100),
		Sell: sell, SellAuth: makerAuth(t, f.ex, sellerKey, sell),
	})
	wantKind(t, err, InsufficientBalance)
}

func amounts(transfers []Transfer) map[TransferReason]Transfer {
	out := make(map[TransferReason]Transfer, len(transfers))
	for _, tr := range transfers {
		out[tr.Reason] = tr
	}
	return out
}

func TestFeeSplitSellMakerSplitFee(t *testing.T) {
	seller, buyer := common.HexToAddress("0x01"), common.HexToAddress("0x02")
	sell := sellOrder(seller, 10_000)
	sell.FeeMethod = SplitFee
	sell.MakerRelayerFee = big.NewInt(250)
	sell.TakerRelayerFee = big.NewInt(100)
	sell.MakerProtocolFee = big.NewInt(50)
	sell.TakerProtocolFee = big.NewInt(20)
	buy := buyOrder(buyer, 10_000)
	buy.FeeMethod = SplitFee
	buy.TakerRelayerFee = big.NewInt(100)
	buy.TakerProtocolFee = big.NewInt(20)

	transfers, err := FeeSplit(buy, sell, big.NewInt(10_000), testProtocol())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := amounts(transfers)
	want := map[TransferReason]Transfer{
		ReasonPrice:            {From: buyer, To: seller, Amount: big.NewInt(10_000)},
		ReasonMakerRelayerFee:  {From: seller, To: relayerAddr, Amount: big.NewInt(250)},
		ReasonTakerRelayerFee:  {From: buyer, To: relayerAddr, Amount: big.NewInt(100)},
		ReasonMakerProtocolFee: {From: seller, To: protocolRecipient, Amount: big.NewInt(50)},
		ReasonTakerProtocolFee: {From: buyer, To: protocolRecipient, Amount: big.NewInt(20)},
	}
	if len(got) != len(want) {
		t.Fatalf("transfers = %d, want %d", len(got), len(want))
	}
	for reason, w := range want {
		g := got[reason]
		if g.From != w.From || g.To != w.To || g.Amount.Cmp(w.Amount) != 0 || g.Token != paymentToken {
			t.Errorf("%s = %+v, want %+v", reason, g, w)
		}
	}

	// buyer must accept at least the seller's taker fees
	buy.TakerRelayerFee = big.NewInt(99)
	_, err = FeeSplit(buy, sell, big.NewInt(10_000), testProtocol())
	wantKind(t, err, FeeMismatch)

	buy.TakerRelayerFee = big.NewInt(100)
	buy.TakerProtocolFee = big.NewInt(19)
	_, err = FeeSplit(buy, sell, big.NewInt(10_000), testProtocol())
	wantKind(t, err, FeeMismatch)
}

func TestFeeSplitProtocolFeeUsesExchangeToken(t *testing.T) {
	seller, buyer := common.HexToAddress("0x01"), common.HexToAddress("0x02")
	sell := sellOrder(seller, 500)
	sell.MakerRelayerFee = big.NewInt(7)
	sell.TakerRelayerFee = big.NewInt(3)
	buy := buyOrder(buyer, 500)
	buy.TakerRelayerFee = big.NewInt(3)

	transfers, err := FeeSplit(buy, sell, big.NewInt(500), testProtocol())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := amounts(transfers)
	if tr := got[ReasonMakerRelayerFee]; tr.Token != exchangeToken || tr.Amount.Int64() != 7 || tr.From != seller {
		t.Errorf("maker relayer fee = %+v", tr)
	}
	if tr := got[ReasonTakerRelayerFee]; tr.Token != exchangeToken || tr.Amount.Int64() != 3 || tr.From != buyer {
		t.Errorf("taker relayer fee = %+v", tr)
	}
}

func TestFeeSplitBuyMaker(t *testing.T) {
	seller, buyer := common.HexToAddress("0x01"), common.HexToAddress("0x02")
	buy := buyOrder(buyer, 20_000)
	buy.FeeRecipient = relayerAddr
	buy.FeeMethod = SplitFee
	buy.MakerRelayerFee = big.NewInt(100)
	buy.TakerRelayerFee = big.NewInt(50)
	sell := sellOrder(seller, 20_000)
	sell.FeeRecipient = common.Address{}
	sell.FeeMethod = SplitFee
	sell.TakerRelayerFee = big.NewInt(50)

	transfers, err := FeeSplit(buy, sell, big.NewInt(20_000), testProtocol())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := amounts(transfers)
	if tr := got[ReasonMakerRelayerFee]; tr.From != buyer || tr.To != relayerAddr || tr.Amount.Int64() != 200 {
		t.Errorf("maker relayer fee = %+v", tr)
	}
	if tr := got[ReasonTakerRelayerFee]; tr.From != seller || tr.To != relayerAddr || tr.Amount.Int64() != 100 {
		t.Errorf("taker relayer fee = %+v", tr)
	}
	if _, ok := got[ReasonMakerProtocolFee]; ok {
		t.Error("zero protocol fee should be skipped")
	}

	native := buy.Copy()
	native.PaymentToken = NativeToken
	nativeSell := sell.Copy()
	nativeSell.PaymentToken = NativeToken
	_, err = FeeSplit(native, nativeSell, big.NewInt(20_000), testProtocol())
	wantKind(t, err, FeeMismatch)
}
