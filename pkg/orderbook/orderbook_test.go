package orderbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperwyvern/pkg/util"
)

var (
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	contract = "0x00000000000000000000000000000000000000c1"
)

func newTestBook(t *testing.T, opts ...Option) *Book {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	opts = append([]Option{WithClock(util.UnixClock(1_700_000_000))}, opts...)
	return New(db, opts...)
}

func assetFields(address, id string, extra ...Field) []Field {
	return append([]Field{
		{Name: FieldAssetAddress, Value: address},
		{Name: FieldAssetID, Value: id},
	}, extra...)
}

func post(t *testing.T, b *Book, id string, owner common.Address, fields []Field) *Order {
	t.Helper()
	o, err := b.PostOrder(context.Background(), id, owner, fields)
	if err != nil {
		t.Fatalf("failed to post %s: %v", id, err)
	}
	return o
}

func ids(orders []*Order) string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.OrderID
	}
	return strings.Join(out, ",")
}

func TestPostOrderValidation(t *testing.T) {
	tooMany := make([]Field, OrderMaxFields+1)
	for i := range tooMany {
		tooMany[i] = Field{Name: fmt.Sprintf("f%d", i), Value: "v"}
	}

	tests := []struct {
		name    string
		id      string
		fields  []Field
		wantErr error
	}{
		{"ok", "order-1", assetFields(contract, "1"), nil},
		{"no fields", "order-2", nil, nil},
		{"missing id", "", nil, ErrOrderIDMissing},
		{"id at limit", strings.Repeat("a", OrderIDMaxLength), nil, nil},
		{"id too long", strings.Repeat("a", OrderIDMaxLength+1), nil, ErrOrderIDTooLong},
		{"too many fields", "order-3", tooMany, ErrTooManyFields},
		{"field name too long", "order-4", []Field{{Name: strings.Repeat("n", FieldNameMaxLength+1), Value: "v"}}, ErrInvalidFieldName},
		{"empty field name", "order-5", []Field{{Name: "", Value: "v"}}, ErrInvalidFieldName},
		{"field value too long", "order-6", []Field{{Name: "n", Value: strings.Repeat("v", FieldValueMaxLength+1)}}, ErrInvalidFieldValue},
		{"separator in field name", "order-7", []Field{{Name: "side\x001", Value: "v"}}, ErrInvalidFieldName},
		{"separator in field value", "order-8", []Field{{Name: "side", Value: "1\x00x"}}, ErrInvalidFieldValue},
	}

	b := newTestBook(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.PostOrder(context.Background(), tt.id, alice, tt.fields)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostOrderDuplicateAndIndex(t *testing.T) {
	b := newTestBook(t)
	first := post(t, b, "a", alice, nil)
	second := post(t, b, "b", alice, nil)
	if first.Index != 1 || second.Index != 2 {
		t.Errorf("indexes = %d,%d, want 1,2", first.Index, second.Index)
	}
	if first.CreatedDate != 1_700_000_000 {
		t.Errorf("createdDate = %d", first.CreatedDate)
	}

	_, err := b.PostOrder(context.Background(), "a", bob, nil)
	if !errors.Is(err, ErrOrderIDExists) {
		t.Errorf("duplicate err = %v, want ErrOrderIDExists", err)
	}
}

func TestOrderLimit(t *testing.T) {
	b := newTestBook(t, WithLimits(Limits{Orders: 2, Whitelist: 1}))
	ctx := context.Background()
	post(t, b, "a", alice, nil)
	post(t, b, "b", alice, nil)

	if _, err := b.PostOrder(ctx, "c", alice, nil); !errors.Is(err, ErrOrderLimitExceeded) {
		t.Fatalf("err = %v, want ErrOrderLimitExceeded", err)
	}
	if err := b.RemoveOrder(ctx, "a"); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	c := post(t, b, "c", alice, nil)
	if c.Index != 3 {
		t.Errorf("index after removal = %d, want 3", c.Index)
	}
}

func TestGetOrdersQuery(t *testing.T) {
	b := newTestBook(t)
	ctx := context.Background()
	other := "0x00000000000000000000000000000000000000c2"
	red := Field{Name: "metadata.color", Value: "red"}
	blue := Field{Name: "metadata.color", Value: "blue"}

	post(t, b, "o1", alice, assetFields(contract, "1", red))
	post(t, b, "o2", bob, assetFields(contract, "2", blue))
	post(t, b, "o3", alice, assetFields(contract, "3", red))
	post(t, b, "o4", bob, assetFields(other, "1", red))

	tests := []struct {
		name string
		q    Query
		page uint64
		want string
	}{
		{"everything", Query{}, 1, "o1,o2,o3,o4"},
		{"single param", Query{Params: []Field{red}}, 1, "o1,o3,o4"},
		{"params intersect", Query{Params: []Field{red, {Name: FieldAssetAddress, Value: contract}}}, 1, "o1,o3"},
		{"unknown param", Query{Params: []Field{{Name: "metadata.color", Value: "green"}}}, 1, ""},
		{"token ids union", Query{TokenIDs: []string{"1", "2"}}, 1, "o1,o2,o4"},
		{"token ids with params", Query{TokenIDs: []string{"1", "2"}, Params: []Field{red}}, 1, "o1,o4"},
		{"owner", Query{Owner: bob}, 1, "o2,o4"},
		{"limit", Query{Limit: 2}, 1, "o1,o2"},
		{"page two", Query{Limit: 2}, 2, "o3,o4"},
		{"offset", Query{Limit: 2, Offset: 1}, 1, "o2,o3"},
		{"past end", Query{Offset: 10}, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.GetOrders(ctx, tt.q, tt.page)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if ids(got) != tt.want {
				t.Errorf("orders = %q, want %q", ids(got), tt.want)
			}
		})
	}
}

func TestGetOrdersDefaultLimit(t *testing.T) {
	b := newTestBook(t)
	for i := 0; i < 10; i++ {
		post(t, b, fmt.Sprintf("o%d", i), alice, nil)
	}
	got, err := b.GetOrders(context.Background(), Query{}, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if uint64(len(got)) != DefaultLimit {
		t.Errorf("len = %d, want %d", len(got), DefaultLimit)
	}
}

func TestGetOrdersTooManyParams(t *testing.T) {
	b := newTestBook(t)
	params := make([]Field, OrderMaxParams+1)
	if _, err := b.GetOrders(context.Background(), Query{Params: params}, 1); !errors.Is(err, ErrTooManyParams) {
		t.Errorf("err = %v, want ErrTooManyParams", err)
	}
	tokens := make([]string, MaxTokenIDs+1)
	if _, err := b.GetOrders(context.Background(), Query{TokenIDs: tokens}, 1); !errors.Is(err, ErrTooManyTokenIDs) {
		t.Errorf("err = %v, want ErrTooManyTokenIDs", err)
	}
}

func TestRemoveOrderDropsIndex(t *testing.T) {
	b := newTestBook(t)
	ctx := context.Background()
	post(t, b, "o1", alice, assetFields(contract, "1"))
	post(t, b, "o2", alice, assetFields(contract, "1"))

	if err := b.RemoveOrder(ctx, "o1"); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	got, _ := b.GetOrders(ctx, Query{TokenIDs: []string{"1"}}, 1)
	if ids(got) != "o2" {
		t.Errorf("orders after removal = %q, want o2", ids(got))
	}
	if _, err := b.OrderByID(ctx, "o1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("removed order lookup err = %v", err)
	}
	if err := b.RemoveOrder(ctx, "o1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second remove err = %v, want ErrOrderNotFound", err)
	}
}

func TestGetOrderAndAssets(t *testing.T) {
	b := newTestBook(t)
	ctx := context.Background()

	if _, err := b.GetOrder(ctx, Query{}); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("empty book err = %v", err)
	}

	post(t, b, "o1", alice, assetFields(contract, "1", Field{Name: "metadata.name", Value: "first"}))
	post(t, b, "o2", alice, assetFields(contract, "2", Field{Name: "metadata.name", Value: "second"}))

	o, err := b.GetOrder(ctx, Query{TokenIDs: []string{"2"}})
	if err != nil || o.OrderID != "o2" {
		t.Fatalf("GetOrder = %v, %v", o, err)
	}

	assets, err := b.GetAssets(ctx, AssetQuery{AssetContractAddress: contract}, 1)
	if err != nil || len(assets) != 2 {
		t.Fatalf("GetAssets = %v, %v", assets, err)
	}

	a, err := b.GetAsset(ctx, contract, "2")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if name := fieldValue(a.Fields, "metadata.name"); name != "second" {
		t.Errorf("asset name = %q, want second", name)
	}
	if _, err := b.GetAsset(ctx, contract, "9"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("missing asset err = %v", err)
	}
}

func fieldValue(fields []Field, name string) string {
	for _, f := range fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestAssetWhitelist(t *testing.T) {
	b := newTestBook(t, WithLimits(Limits{Orders: 10, Whitelist: 1}))
	ctx := context.Background()

	if ok, _ := b.IsWhitelisted(ctx, contract, "1"); ok {
		t.Fatal("fresh asset is whitelisted")
	}
	if err := b.PostAssetWhitelist(ctx, contract, "1", "a@example.com"); err != nil {
		t.Fatalf("failed to whitelist: %v", err)
	}
	// replacing the email does not count against the limit
	if err := b.PostAssetWhitelist(ctx, strings.ToUpper(contract[2:]), "1", "b@example.com"); err != nil {
		t.Fatalf("failed to replace entry: %v", err)
	}
	email, ok, err := b.WhitelistEmail(ctx, contract, "1")
	if err != nil || !ok || email != "b@example.com" {
		t.Errorf("entry = %q,%v,%v", email, ok, err)
	}
	if err := b.PostAssetWhitelist(ctx, contract, "2", "c@example.com"); !errors.Is(err, ErrWhitelistLimit) {
		t.Errorf("err = %v, want ErrWhitelistLimit", err)
	}
	if err := b.PostAssetWhitelist(ctx, contract, "2", ""); !errors.Is(err, ErrWhitelistEmailNeeded) {
		t.Errorf("err = %v, want ErrWhitelistEmailNeeded", err)
	}

	if err := b.RemoveAssetWhitelist(ctx, contract, "1"); err != nil {
		t.Fatalf("failed to remove entry: %v", err)
	}
	if ok, _ := b.IsWhitelisted(ctx, contract, "1"); ok {
		t.Error("removed entry still whitelisted")
	}
	if err := b.RemoveAssetWhitelist(ctx, contract, "1"); !errors.Is(err, ErrWhitelistNotFound) {
		t.Errorf("err = %v, want ErrWhitelistNotFound", err)
	}
	if err := b.PostAssetWhitelist(ctx, contract, "2", "c@example.com"); err != nil {
		t.Errorf("slot not freed by removal: %v", err)
	}
}
