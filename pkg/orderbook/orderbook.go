package orderbook

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperwyvern/pkg/util"
)

// General constraints to limit data size
const (
	OrderIDMaxLength        = 36
	FieldNameMaxLength      = 200
	FieldValueMaxLength     = 400
	OrderMaxFields          = 54
	OrderMaxParams          = 54
	MaxTokenIDs             = 54
	DefaultLimit     uint64 = 8
)

// Field names the asset queries resolve against
const (
	FieldAssetID      = "metadata.asset.id"
	FieldAssetAddress = "metadata.asset.address"
)

var (
	ErrOrderIDMissing       = errors.New("order id missing")
	ErrOrderIDTooLong       = errors.New("order id too long")
	ErrOrderIDExists        = errors.New("order id already exists")
	ErrOrderNotFound        = errors.New("order not found")
	ErrTooManyFields        = errors.New("order has too many fields")
	ErrInvalidFieldName     = errors.New("invalid order field name")
	ErrInvalidFieldValue    = errors.New("invalid order field value")
	ErrOrderLimitExceeded   = errors.New("order limit exceeded")
	ErrTooManyParams        = errors.New("too many query params")
	ErrTooManyTokenIDs      = errors.New("too many token ids")
	ErrAssetNotFound        = errors.New("asset not found")
	ErrWhitelistLimit       = errors.New("asset whitelist limit exceeded")
	ErrWhitelistNotFound    = errors.New("asset whitelist entry not found")
	ErrWhitelistEmailNeeded = errors.New("whitelist email missing")
	ErrTokenIDTooLong       = errors.New("token id too long")
)

// Field is one flattened name/value pair of a posted order
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Order is an orderbook listing: an opaque set of fields owned by an account
type Order struct {
	Index       uint64         `json:"index"`
	OrderID     string         `json:"orderId"`
	Owner       common.Address `json:"owner"`
	Fields      []Field        `json:"fields"`
	CreatedDate int64          `json:"createdDate"`
}

// Field returns the value of the first field named name
func (o *Order) Field(name string) (string, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Query selects orders. Every Params pair must match; TokenIDs match any of
// the listed ids. Zero Owner matches every owner, zero Limit means DefaultLimit.
type Query struct {
	Limit    uint64         `json:"limit,omitempty"`
	Offset   uint64         `json:"offset,omitempty"`
	Owner    common.Address `json:"owner,omitempty"`
	TokenIDs []string       `json:"tokenIds,omitempty"`
	Params   []Field        `json:"params,omitempty"`
}

// AssetQuery selects assets by contract address and token ids
type AssetQuery struct {
	Owner                common.Address `json:"owner,omitempty"`
	AssetContractAddress string         `json:"assetContractAddress,omitempty"`
	TokenIDs             []string       `json:"tokenIds,omitempty"`
	Limit                uint64         `json:"limit,omitempty"`
	Offset               uint64         `json:"offset,omitempty"`
}

// ToQuery matches assets through the contract address field
func (q AssetQuery) ToQuery() Query {
	return Query{
		Limit:    q.Limit,
		Offset:   q.Offset,
		Owner:    q.Owner,
		TokenIDs: q.TokenIDs,
		Params:   []Field{{Name: FieldAssetAddress, Value: q.AssetContractAddress}},
	}
}

// Asset is the field view of an order listing an asset
type Asset struct {
	Fields []Field `json:"fields"`
}

// Limits caps how many live orders and whitelist entries the book holds
type Limits struct {
	Orders    uint64
	Whitelist uint64
}

func DefaultLimits() Limits {
	return Limits{Orders: 10_000, Whitelist: 10_000}
}

// Book is the orderbook index. Orders and whitelist entries are stored in
// Pebble alongside the settlement ledger; writes are serialized.
type Book struct {
	db     *pebble.DB
	mu     sync.RWMutex
	limits Limits
	clock  util.Clock
	logger *zap.SugaredLogger
}

type Option func(*Book)

func WithLimits(l Limits) Option { return func(b *Book) { b.limits = l } }

func WithClock(c util.Clock) Option { return func(b *Book) { b.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(b *Book) { b.logger = l } }

func New(db *pebble.DB, opts ...Option) *Book {
	b := &Book{
		db:     db,
		limits: DefaultLimits(),
		clock:  util.RealClock{},
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) Limits() Limits {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limits
}

// SetLimits replaces the capacity limits; existing entries are kept
func (b *Book) SetLimits(l Limits) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits = l
	b.logger.Infow("orderbook_limits_changed", "orders", l.Orders, "whitelist", l.Whitelist)
}

func (b *Book) counter(name string) (uint64, error) {
	data, closer, err := b.db.Get(metaKey(name))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", name, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt counter %s", name)
	}
	return binary.BigEndian.Uint64(data), nil
}

func validateFields(fields []Field) error {
	if len(fields) > OrderMaxFields {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFields, len(fields), OrderMaxFields)
	}
	for _, f := range fields {
		// sep delimits name and value in index keys
		if f.Name == "" || len(f.Name) > FieldNameMaxLength || strings.IndexByte(f.Name, sep) >= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidFieldName, f.Name)
		}
		if len(f.Value) > FieldValueMaxLength {
			return fmt.Errorf("%w: %s is %d bytes", ErrInvalidFieldValue, f.Name, len(f.Value))
		}
		if strings.IndexByte(f.Value, sep) >= 0 {
			return fmt.Errorf("%w: %s contains a NUL byte", ErrInvalidFieldValue, f.Name)
		}
	}
	return nil
}

// PostOrder lists an order under a caller-chosen unique id
func (b *Book) PostOrder(ctx context.Context, orderID string, owner common.Address, fields []Field) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, ErrOrderIDMissing
	}
	if len(orderID) > OrderIDMaxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrOrderIDTooLong, len(orderID), OrderIDMaxLength)
	}
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := b.counter(metaNextOrderIndex)
	if err != nil {
		return nil, err
	}
	removed, err := b.counter(metaRemovedOrders)
	if err != nil {
		return nil, err
	}
	if next-removed >= b.limits.Orders {
		return nil, fmt.Errorf("%w: %d live orders", ErrOrderLimitExceeded, next-removed)
	}
	if _, err := b.lookupIndex(orderID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderIDExists, orderID)
	} else if !errors.Is(err, ErrOrderNotFound) {
		return nil, err
	}

	order := &Order{
		Index:       next + 1,
		OrderID:     orderID,
		Owner:       owner,
		Fields:      append([]Field(nil), fields...),
		CreatedDate: b.clock.Now().Unix(),
	}
	data, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(orderKey(order.Index), data, nil); err != nil {
		return nil, fmt.Errorf("failed to stage order: %w", err)
	}
	if err := batch.Set(orderIDKey(orderID), indexBytes(order.Index), nil); err != nil {
		return nil, fmt.Errorf("failed to stage order id: %w", err)
	}
	for _, f := range fields {
		if err := batch.Set(fieldKey(f.Name, f.Value, order.Index), nil, nil); err != nil {
			return nil, fmt.Errorf("failed to stage field index: %w", err)
		}
	}
	if err := batch.Set(metaKey(metaNextOrderIndex), indexBytes(order.Index), nil); err != nil {
		return nil, fmt.Errorf("failed to stage order index: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	b.logger.Infow("order_posted", "orderId", orderID, "index", order.Index, "owner", owner.Hex(), "fields", len(fields))
	return order, nil
}

func (b *Book) lookupIndex(orderID string) (uint64, error) {
	data, closer, err := b.db.Get(orderIDKey(orderID))
	if err == pebble.ErrNotFound {
		return 0, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get order id: %w", err)
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(data), nil
}

func (b *Book) loadOrder(index uint64) (*Order, error) {
	data, closer, err := b.db.Get(orderKey(index))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("%w: index %d", ErrOrderNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &o, nil
}

// RemoveOrder delists an order and drops its field index entries
func (b *Book) RemoveOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.lookupIndex(orderID)
	if err != nil {
		return err
	}
	order, err := b.loadOrder(index)
	if err != nil {
		return err
	}
	removed, err := b.counter(metaRemovedOrders)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(orderKey(index), nil); err != nil {
		return fmt.Errorf("failed to stage order removal: %w", err)
	}
	if err := batch.Delete(orderIDKey(orderID), nil); err != nil {
		return fmt.Errorf("failed to stage order id removal: %w", err)
	}
	for _, f := range order.Fields {
		if err := batch.Delete(fieldKey(f.Name, f.Value, index), nil); err != nil {
			return fmt.Errorf("failed to stage field removal: %w", err)
		}
	}
	if err := batch.Set(metaKey(metaRemovedOrders), indexBytes(removed+1), nil); err != nil {
		return fmt.Errorf("failed to stage removed count: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit order removal: %w", err)
	}

	b.logger.Infow("order_removed", "orderId", orderID, "index", index)
	return nil
}

// OrderByID loads one listing by its id
func (b *Book) OrderByID(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	index, err := b.lookupIndex(orderID)
	if err != nil {
		return nil, err
	}
	return b.loadOrder(index)
}

// scan collects the trailing 8-byte indexes of every key under prefix
func (b *Book) scan(prefix []byte) (map[uint64]struct{}, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[uint64]struct{})
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+8 {
			continue // Longer value sharing the prefix
		}
		out[binary.BigEndian.Uint64(key[len(prefix):])] = struct{}{}
	}
	return out, nil
}

// intersect narrows acc to the members of set; a nil acc means unfiltered
func intersect(acc, set map[uint64]struct{}) map[uint64]struct{} {
	if acc == nil {
		return set
	}
	for idx := range acc {
		if _, ok := set[idx]; !ok {
			delete(acc, idx)
		}
	}
	return acc
}

func (b *Book) candidates(q Query) (map[uint64]struct{}, error) {
	if len(q.Params) > OrderMaxParams {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyParams, len(q.Params), OrderMaxParams)
	}
	if len(q.TokenIDs) > MaxTokenIDs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTokenIDs, len(q.TokenIDs), MaxTokenIDs)
	}

	var acc map[uint64]struct{}
	for _, p := range q.Params {
		set, err := b.scan(fieldPrefix(p.Name, p.Value))
		if err != nil {
			return nil, err
		}
		acc = intersect(acc, set)
		if len(acc) == 0 {
			return acc, nil
		}
	}

	if len(q.TokenIDs) > 0 {
		union := make(map[uint64]struct{})
		for _, id := range q.TokenIDs {
			set, err := b.scan(fieldPrefix(FieldAssetID, id))
			if err != nil {
				return nil, err
			}
			for idx := range set {
				union[idx] = struct{}{}
			}
		}
		acc = intersect(acc, union)
	}

	if acc == nil {
		return b.scan([]byte(prefixOrder))
	}
	return acc, nil
}

// GetOrders returns one page of matching orders in posting order. Page is
// 1-based and advances by the query limit on top of its offset.
func (b *Book) GetOrders(ctx context.Context, q Query, page uint64) ([]*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, err := b.candidates(q)
	if err != nil {
		return nil, err
	}
	indices := make([]uint64, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if page == 0 {
		page = 1
	}
	skip := q.Offset + (page-1)*limit

	orders := make([]*Order, 0, limit)
	for _, idx := range indices {
		o, err := b.loadOrder(idx)
		if errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.Owner != (common.Address{}) && o.Owner != q.Owner {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		orders = append(orders, o)
		if uint64(len(orders)) == limit {
			break
		}
	}
	return orders, nil
}

// GetOrder returns the first order matching q
func (b *Book) GetOrder(ctx context.Context, q Query) (*Order, error) {
	orders, err := b.GetOrders(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return orders[0], nil
}

// GetAssets returns one page of assets listed under the query's contract
func (b *Book) GetAssets(ctx context.Context, q AssetQuery, page uint64) ([]Asset, error) {
	orders, err := b.GetOrders(ctx, q.ToQuery(), page)
	if err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(orders))
	for _, o := range orders {
		assets = append(assets, Asset{Fields: o.Fields})
	}
	return assets, nil
}

// GetAsset returns the first listing of (contract, tokenID); an empty
// tokenID matches any token of the contract
func (b *Book) GetAsset(ctx context.Context, contract, tokenID string) (*Asset, error) {
	q := AssetQuery{AssetContractAddress: contract, Limit: DefaultLimit}
	if tokenID != "" {
		q.TokenIDs = []string{tokenID}
	}
	assets, err := b.GetAssets(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrAssetNotFound, contract, tokenID)
	}
	return &assets[0], nil
}

// normalizeAddress checksums hex addresses so whitelist keys are case-insensitive
func normalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// PostAssetWhitelist restricts an asset to buyers holding email.
// Posting again for the same asset replaces the email.
func (b *Book) PostAssetWhitelist(ctx context.Context, tokenAddress, tokenID, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if email == "" {
		return ErrWhitelistEmailNeeded
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := whitelistKey(normalizeAddress(tokenAddress), tokenID)
	entries, err := b.counter(metaWhitelistEntries)
	if err != nil {
		return err
	}
	_, exists, err := b.whitelistEmail(key)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if !exists {
		if entries >= b.limits.Whitelist {
			return fmt.Errorf("%w: %d entries", ErrWhitelistLimit, entries)
		}
		if err := batch.Set(metaKey(metaWhitelistEntries), indexBytes(entries+1), nil); err != nil {
			return fmt.Errorf("failed to stage whitelist count: %w", err)
		}
	}
	if err := batch.Set(key, []byte(email), nil); err != nil {
		return fmt.Errorf("failed to stage whitelist entry: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit whitelist entry: %w", err)
	}

	b.logger.Infow("asset_whitelist_posted", "tokenAddress", tokenAddress, "tokenId", tokenID)
	return nil
}

// RemoveAssetWhitelist lifts the restriction on an asset
func (b *Book) RemoveAssetWhitelist(ctx context.Context, tokenAddress, tokenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := whitelistKey(normalizeAddress(tokenAddress), tokenID)
	_, exists, err := b.whitelistEmail(key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s", ErrWhitelistNotFound, tokenAddress, tokenID)
	}
	entries, err := b.counter(metaWhitelistEntries)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(key, nil); err != nil {
		return fmt.Errorf("failed to stage whitelist removal: %w", err)
	}
	if entries > 0 {
		entries--
	}
	if err := batch.Set(metaKey(metaWhitelistEntries), indexBytes(entries), nil); err != nil {
		return fmt.Errorf("failed to stage whitelist count: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit whitelist removal: %w", err)
	}

	b.logger.Infow("asset_whitelist_removed", "tokenAddress", tokenAddress, "tokenId", tokenID)
	return nil
}

func (b *Book) whitelistEmail(key []byte) (string, bool, error) {
	data, closer, err := b.db.Get(key)
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get whitelist entry: %w", err)
	}
	defer closer.Close()
	return string(data), true, nil
}

// WhitelistEmail returns the email an asset is restricted to, if any
func (b *Book) WhitelistEmail(ctx context.Context, tokenAddress, tokenID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.whitelistEmail(whitelistKey(normalizeAddress(tokenAddress), tokenID))
}

func (b *Book) IsWhitelisted(ctx context.Context, tokenAddress, tokenID string) (bool, error) {
	_, ok, err := b.WhitelistEmail(ctx, tokenAddress, tokenID)
	return ok, err
}
