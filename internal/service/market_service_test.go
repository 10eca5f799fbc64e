package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsanano/marketplace/internal/model"
	"fsanano/marketplace/internal/repository"
)

func newTestService(t *testing.T) (*MarketService, *repository.Store) {
	t.Helper()
	store, err := repository.Open(t.TempDir(), repository.Options{})
	require.NoError(t, err)
	clock := func() time.Time { return time.UnixMilli(1720000000000) }
	return NewMarketService(store, WithClock(clock)), store
}

func balanceOf(t *testing.T, svc *MarketService, user string) string {
	t.Helper()
	b, err := svc.Balance(context.Background(), user)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func TestRegister_CreditsStartingBalance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	exists, err := store.Accounts.Exists("alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, svc.Register(ctx, "alice", "pw123456789", model.RoleClient))

	exists, err = store.Accounts.Exists("alice")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "100.00", balanceOf(t, svc, "alice"))

	err = svc.Register(ctx, "alice", "pw123456789", model.RoleSeller)
	assert.ErrorIs(t, err, repository.ErrDuplicateUser)
	assert.Equal(t, "100.00", balanceOf(t, svc, "alice"))
}

func TestRegister_RejectsBadUsernames(t *testing.T) {
	svc, _ := newTestService(t)
	for _, name := range []string{"", "a:b", "a_b", "a,b", "a b", ".bob", "a..b", "-bob", "a.b"} {
		err := svc.Register(context.Background(), name, "pw", model.RoleClient)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Register(context.Background(), "bob", "secret", model.RoleSeller))

	acc, err := svc.Login("bob", "secret", model.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSeller, acc.Role)

	_, err = svc.Login("bob", "secret", model.RoleClient)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login("bob", "wrong", model.RoleSeller)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPurchase(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "pw", model.RoleClient))
	require.NoError(t, svc.Register(ctx, "bob", "pw", model.RoleSeller))

	widget := model.Product{Name: "Widget", Price: decimal.RequireFromString("30.00"), ImageRef: model.NoImage}
	remaining, err := svc.Purchase(ctx, "alice", "bob", widget)
	require.NoError(t, err)
	assert.Equal(t, "70.00", remaining.StringFixed(2))
	assert.Equal(t, "70.00", balanceOf(t, svc, "alice"))
	assert.Equal(t, "130.00", balanceOf(t, svc, "bob"))

	txs, err := store.Ledger.Transactions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Purchase: Widget", txs[0].Note)
	assert.Equal(t, int64(1720000000000), txs[0].Timestamp)
}

func TestPurchase_InsufficientFundsChangesNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "pw", model.RoleClient))
	require.NoError(t, svc.Register(ctx, "bob", "pw", model.RoleSeller))

	yacht := model.Product{Name: "Yacht", Price: decimal.RequireFromString("1000.00")}
	remaining, err := svc.Purchase(ctx, "alice", "bob", yacht)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	assert.Equal(t, "100.00", remaining.StringFixed(2))
	assert.Equal(t, "100.00", balanceOf(t, svc, "alice"))
	assert.Equal(t, "100.00", balanceOf(t, svc, "bob"))

	txs, err := store.Ledger.Transactions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTopUp(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "pw", model.RoleClient))

	tests := []struct {
		input string
		err   error
	}{
		{"0", ErrNonPositiveAmount},
		{"-5", ErrNonPositiveAmount},
		{"abc", ErrInvalidInput},
		{"", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := svc.TopUp(ctx, "alice", tt.input)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, "100.00", balanceOf(t, svc, "alice"))
	txs, err := store.Ledger.Transactions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txs)

	balance, err := svc.TopUp(ctx, "alice", "25.50")
	require.NoError(t, err)
	assert.Equal(t, "125.50", balance.StringFixed(2))

	history, err := svc.History(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"From SYSTEM: $25.50 - Top-up"}, history)
}

func TestListing_CollapsesDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	widget, err := ParseProductInput("Widget", "30")
	require.NoError(t, err)
	require.NoError(t, svc.AddProduct("bob", widget))
	require.NoError(t, svc.AddProduct("bob", widget))

	listing, err := svc.Listing("bob")
	require.NoError(t, err)
	assert.Len(t, listing, 1)

	all, err := svc.Products("bob")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSearch_CaseInsensitiveAcrossSellers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "bob", "pw", model.RoleSeller))
	require.NoError(t, svc.Register(ctx, "dave", "pw", model.RoleSeller))

	for seller, name := range map[string]string{"bob": "Blue Widget", "dave": "widget stand"} {
		p, err := ParseProductInput(name, "10")
		require.NoError(t, err)
		require.NoError(t, svc.AddProduct(seller, p))
	}

	hits, err := svc.Search("WIDGET")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "bob: Blue Widget,10.00,none", hits[0].String())
	assert.Equal(t, "dave: widget stand,10.00,none", hits[1].String())

	hits, err = svc.Search("gadget")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestParseProductInput(t *testing.T) {
	_, err := ParseProductInput("Widget", "cheap")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseProductInput("Wid,get", "1")
	assert.ErrorIs(t, err, ErrInvalidProductName)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseProductInput("Widget", "0")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	p, err := ParseProductInput(" Widget ", "30")
	require.NoError(t, err)
	assert.Equal(t, "Widget,30.00,none", p.Line())
}

func TestAddProduct_RequiresUploadedImage(t *testing.T) {
	svc, store := newTestService(t)
	p, err := ParseProductInput("Widget", "30")
	require.NoError(t, err)

	p.ImageRef = svc.NewImageName("bob")
	assert.Equal(t, "bob_1720000000000.png", p.ImageRef)
	assert.ErrorIs(t, svc.AddProduct("bob", p), ErrImageMissing)

	_, err = store.Blobs.Put(p.ImageRef, bytes.NewReader([]byte("png")))
	require.NoError(t, err)
	require.NoError(t, svc.AddProduct("bob", p))

	listing, err := svc.Listing("bob")
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.True(t, listing[0].HasImage())
}

func TestTopUp_RejectsOversizedAndExponentAmounts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "pw", model.RoleClient))

	for _, input := range []string{"1e1100000", "1e-1000000", "0.001", "1e2", "1234567890123", "+5", "5."} {
		t.Run(input, func(t *testing.T) {
			_, err := svc.TopUp(ctx, "alice", input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// the balances collection stays readable for everyone
	assert.Equal(t, "100.00", balanceOf(t, svc, "alice"))
	require.NoError(t, svc.Register(ctx, "carol", "pw", model.RoleClient))
	assert.Equal(t, "100.00", balanceOf(t, svc, "carol"))
	txs, err := store.Ledger.Transactions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txs)

	balance, err := svc.TopUp(ctx, "alice", "999999999999.99")
	require.NoError(t, err)
	assert.Equal(t, "1000000000099.99", balance.StringFixed(2))
}

func TestParseProductInput_RejectsOversizedAndExponentPrices(t *testing.T) {
	for _, price := range []string{"1e1100000", "1e-1000000", "0.001"} {
		_, err := ParseProductInput("Widget", price)
		assert.ErrorIs(t, err, ErrInvalidInput, price)
	}
}

func TestRegister_SellerImageNamesAreValidBlobNames(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"bob", "b-o-b", "B0b", "x"} {
		require.NoError(t, svc.Register(ctx, name, "pw", model.RoleSeller))
		image := svc.NewImageName(name)
		require.NoError(t, repository.ValidateBlobName(image), image)
		_, err := store.Blobs.Put(image, bytes.NewReader([]byte("png")))
		require.NoError(t, err)
	}
}

func TestListing_KeepsLinesThatDifferOnlyInFormatting(t *testing.T) {
	dir := t.TempDir()
	store, err := repository.Open(dir, repository.Options{})
	require.NoError(t, err)
	svc := NewMarketService(store)

	catalog := "Widget,30,none\nWidget,30.00,none\nWidget,30.00,none\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products", "bob.txt"), []byte(catalog), 0o644))

	listing, err := svc.Listing("bob")
	require.NoError(t, err)
	require.Len(t, listing, 2)
	assert.Equal(t, "Widget,30,none", listing[0].StoredLine())
	assert.Equal(t, "Widget,30.00,none", listing[1].StoredLine())
}
