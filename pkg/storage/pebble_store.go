package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
)

// PebbleStore is the settlement ledger: order flags, token balances and
// settled matches. Writes that must be observed together go through one batch.
type PebbleStore struct {
	db *pebble.DB

	// serializes read-check-write sequences (Settle, flag updates)
	mu sync.Mutex
}

// record is the persisted form of exchange.OrderState
type record struct {
	CancelledOrFinalized bool `json:"cancelledOrFinalized"`
	Approved             bool `json:"approved"`
	OrderbookInclusion   bool `json:"orderbookInclusion,omitempty"`
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a store on an in-memory filesystem
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// DB exposes the underlying database for indexes sharing it
func (s *PebbleStore) DB() *pebble.DB { return s.db }

func (s *PebbleStore) loadRecord(hash common.Hash) (record, error) {
	var rec record
	data, closer, err := s.db.Get(orderStateKey(hash))
	if err == pebble.ErrNotFound {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get order state: %w", err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal order state: %w", err)
	}
	return rec, nil
}

func setRecord(w pebble.Writer, hash common.Hash, rec record, opts *pebble.WriteOptions) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order state: %w", err)
	}
	if err := w.Set(orderStateKey(hash), data, opts); err != nil {
		return fmt.Errorf("failed to save order state: %w", err)
	}
	return nil
}

// OrderState loads the flags for an order hash; unknown hashes are open
func (s *PebbleStore) OrderState(ctx context.Context, hash common.Hash) (exchange.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderState{}, err
	}
	rec, err := s.loadRecord(hash)
	if err != nil {
		return exchange.OrderState{}, err
	}
	return exchange.OrderState{CancelledOrFinalized: rec.CancelledOrFinalized, Approved: rec.Approved}, nil
}

// OrderbookInclusion reports whether an approved order asked to be listed
func (s *PebbleStore) OrderbookInclusion(hash common.Hash) (bool, error) {
	rec, err := s.loadRecord(hash)
	if err != nil {
		return false, err
	}
	return rec.Approved && rec.OrderbookInclusion, nil
}

func (s *PebbleStore) update(ctx context.Context, hash common.Hash, fn func(*record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(hash)
	if err != nil {
		return err
	}
	fn(&rec)
	return setRecord(s.db, hash, rec, pebble.Sync)
}

func (s *PebbleStore) MarkCancelled(ctx context.Context, hash common.Hash) error {
	return s.update(ctx, hash, func(r *record) { r.CancelledOrFinalized = true })
}

func (s *PebbleStore) MarkApproved(ctx context.Context, hash common.Hash, orderbookInclusionDesired bool) error {
	return s.update(ctx, hash, func(r *record) {
		r.Approved = true
		r.OrderbookInclusion = orderbookInclusionDesired
	})
}

func (s *PebbleStore) loadBalance(token, account common.Address) (*big.Int, error) {
	data, closer, err := s.db.Get(balanceKey(token, account))
	if err == pebble.ErrNotFound {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	defer closer.Close()
	return decodeAmount(data), nil
}

// Balance returns account's balance of token (zero address = native asset)
func (s *PebbleStore) Balance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.loadBalance(token, account)
}

// Balances returns every non-zero balance held in token
func (s *PebbleStore) Balances(token common.Address) (map[common.Address]*big.Int, error) {
	prefix := balancePrefix(token)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]*big.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		account := string(iter.Key()[len(prefix):])
		if !common.IsHexAddress(account) {
			continue // Skip foreign keys
		}
		if amount := decodeAmount(iter.Value()); amount.Sign() > 0 {
			out[common.HexToAddress(account)] = amount
		}
	}
	return out, nil
}

// Deposit credits amount of token to account
func (s *PebbleStore) Deposit(ctx context.Context, token, account common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, err := s.loadBalance(token, account)
	if err != nil {
		return err
	}
	val, err := encodeAmount(bal.Add(bal, amount))
	if err != nil {
		return err
	}
	if err := s.db.Set(balanceKey(token, account), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

type balanceSlot struct {
	token, account common.Address
}

// Settle applies a match atomically: both orders must still be open, every
// debit must be covered, and all balance moves plus both finalization
// flags commit in a single batch. On any error nothing is written.
func (s *PebbleStore) Settle(ctx context.Context, fx *exchange.TransferEffects) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buyRec, err := s.loadRecord(fx.BuyHash)
	if err != nil {
		return err
	}
	sellRec, err := s.loadRecord(fx.SellHash)
	if err != nil {
		return err
	}
	if buyRec.CancelledOrFinalized {
		return exchange.NewError(exchange.AlreadyFinalized, "buy order %s already cancelled or finalized", fx.BuyHash.Hex())
	}
	if sellRec.CancelledOrFinalized {
		return exchange.NewError(exchange.AlreadyFinalized, "sell order %s already cancelled or finalized", fx.SellHash.Hex())
	}

	balances := make(map[balanceSlot]*big.Int)
	var order []balanceSlot
	get := func(slot balanceSlot) (*big.Int, error) {
		if b, ok := balances[slot]; ok {
			return b, nil
		}
		b, err := s.loadBalance(slot.token, slot.account)
		if err != nil {
			return nil, err
		}
		balances[slot] = b
		order = append(order, slot)
		return b, nil
	}

	for _, tr := range fx.Transfers {
		if tr.Amount == nil || tr.Amount.Sign() <= 0 {
			continue
		}
		from, err := get(balanceSlot{tr.Token, tr.From})
		if err != nil {
			return err
		}
		if from.Cmp(tr.Amount) < 0 {
			return exchange.NewError(exchange.InsufficientBalance, "%s holds %s of %s, needs %s for %s",
				tr.From.Hex(), from, tr.Token.Hex(), tr.Amount, tr.Reason)
		}
		from.Sub(from, tr.Amount)
		to, err := get(balanceSlot{tr.Token, tr.To})
		if err != nil {
			return err
		}
		to.Add(to, tr.Amount)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, slot := range order {
		val, err := encodeAmount(balances[slot])
		if err != nil {
			return err
		}
		if err := batch.Set(balanceKey(slot.token, slot.account), val, nil); err != nil {
			return fmt.Errorf("failed to stage balance: %w", err)
		}
	}
	buyRec.CancelledOrFinalized = true
	sellRec.CancelledOrFinalized = true
	if err := setRecord(batch, fx.BuyHash, buyRec, nil); err != nil {
		return err
	}
	if err := setRecord(batch, fx.SellHash, sellRec, nil); err != nil {
		return err
	}

	data, err := json.Marshal(fx)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}
	if err := batch.Set(settlementKey(fx.BuyHash, fx.SellHash), data, nil); err != nil {
		return fmt.Errorf("failed to stage settlement: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// Settlement loads a settled match, nil if the pair never settled
func (s *PebbleStore) Settlement(buyHash, sellHash common.Hash) (*exchange.TransferEffects, error) {
	data, closer, err := s.db.Get(settlementKey(buyHash, sellHash))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	defer closer.Close()

	var fx exchange.TransferEffects
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return &fx, nil
}

var _ exchange.Ledger = (*PebbleStore)(nil)
