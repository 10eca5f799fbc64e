package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fsanano/marketplace/internal/model"
	"fsanano/marketplace/internal/repository"
)

var (
	// ErrInvalidInput covers unparsable or out-of-range client input.
	ErrInvalidInput       = errors.New("invalid input")
	ErrNonPositiveAmount  = errors.New("amount must be positive")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrImageMissing       = errors.New("image was not uploaded")

	ErrInvalidProductName = fmt.Errorf("%w: product name", ErrInvalidInput)
)

// usernames double as file names, blob name prefixes and separators in the persisted layout
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,31}$`)

// amounts are plain decimals with at most two places and no exponent
var amountPattern = regexp.MustCompile(`^-?\d{1,12}(\.\d{1,2})?$`)

// DefaultStartingBalance is credited to every new account.
var DefaultStartingBalance = decimal.RequireFromString("100.00")

type MarketService struct {
	store           *repository.Store
	startingBalance decimal.Decimal
	now             func() time.Time
}

type Option func(*MarketService)

func WithStartingBalance(amount decimal.Decimal) Option {
	return func(s *MarketService) { s.startingBalance = amount }
}

func WithClock(now func() time.Time) Option {
	return func(s *MarketService) { s.now = now }
}

func NewMarketService(store *repository.Store, opts ...Option) *MarketService {
	s := &MarketService{
		store:           store,
		startingBalance: DefaultStartingBalance,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MarketService) StartingBalance() decimal.Decimal {
	return s.startingBalance
}

// Register creates the account and credits the starting balance.
func (s *MarketService) Register(ctx context.Context, username, password string, role model.Role) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username %q", ErrInvalidInput, username)
	}
	if password == "" || strings.Contains(password, ":") {
		return fmt.Errorf("%w: password", ErrInvalidInput)
	}

	if err := s.store.Accounts.Create(model.Account{Username: username, Password: password, Role: role}); err != nil {
		return err
	}
	if _, err := s.store.Ledger.Adjust(ctx, username, s.startingBalance); err != nil {
		return fmt.Errorf("failed to credit starting balance: %w", err)
	}
	return nil
}

func (s *MarketService) Login(username, password string, role model.Role) (*model.Account, error) {
	acc, err := s.store.Accounts.FindAccount(role, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if acc.Password != password {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

func (s *MarketService) Sellers() ([]string, error) {
	return s.store.Accounts.Usernames(model.RoleSeller)
}

// Listing returns the seller's catalog with identical stored lines collapsed.
func (s *MarketService) Listing(seller string) ([]model.Product, error) {
	products, err := s.store.Catalogs.Products(seller)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(products))
	out := products[:0]
	for _, p := range products {
		line := p.StoredLine()
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, p)
	}
	return out, nil
}

func (s *MarketService) Products(seller string) ([]model.Product, error) {
	return s.store.Catalogs.Products(seller)
}

// Purchase moves price from buyer to seller and records it. The debit, credit and
// log append are separate steps; only the debit checks funds. On
// ErrInsufficientFunds the returned balance is the buyer's unchanged balance.
func (s *MarketService) Purchase(ctx context.Context, buyer, seller string, product model.Product) (decimal.Decimal, error) {
	// 1. Check and debit the buyer
	remaining, err := s.store.Ledger.Debit(ctx, buyer, product.Price)
	if err != nil {
		return remaining, err
	}

	// 2. Credit the seller
	if _, err := s.store.Ledger.Adjust(ctx, seller, product.Price); err != nil {
		return remaining, err
	}

	// 3. Record the transaction
	tx := model.Transaction{
		From:      buyer,
		To:        seller,
		Amount:    product.Price,
		Note:      "Purchase: " + product.Name,
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.store.Ledger.AppendTransaction(ctx, tx); err != nil {
		return remaining, err
	}
	return remaining, nil
}

// ParseAmount parses a client-entered decimal that must be positive.
func ParseAmount(input string) (decimal.Decimal, error) {
	input = strings.TrimSpace(input)
	if !amountPattern.MatchString(input) {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrInvalidInput, input)
	}
	amount, err := decimal.NewFromString(input)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrInvalidInput, input)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}
	return amount, nil
}

func (s *MarketService) TopUp(ctx context.Context, username string, input string) (decimal.Decimal, error) {
	amount, err := ParseAmount(input)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := s.store.Ledger.Adjust(ctx, username, amount)
	if err != nil {
		return decimal.Zero, err
	}
	tx := model.Transaction{
		From:      model.SystemAccount,
		To:        username,
		Amount:    amount,
		Note:      "Top-up",
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.store.Ledger.AppendTransaction(ctx, tx); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *MarketService) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	return s.store.Ledger.Balance(ctx, username)
}

// History renders username's transactions relative to them, oldest first.
func (s *MarketService) History(ctx context.Context, username string) ([]string, error) {
	txs, err := s.store.Ledger.Transactions(ctx, username)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		lines = append(lines, tx.Describe(username))
	}
	return lines, nil
}

type SearchHit struct {
	Seller  string
	Product model.Product
}

func (h SearchHit) String() string {
	return h.Seller + ": " + h.Product.StoredLine()
}

// Search matches query case-insensitively against product names of every seller.
func (s *MarketService) Search(query string) ([]SearchHit, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	sellers, err := s.Sellers()
	if err != nil {
		return nil, err
	}
	var hits []SearchHit
	for _, seller := range sellers {
		products, err := s.store.Catalogs.Products(seller)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			if strings.Contains(strings.ToLower(p.Name), needle) {
				hits = append(hits, SearchHit{Seller: seller, Product: p})
			}
		}
	}
	return hits, nil
}

// ParseProductInput validates a new listing's name and price.
func ParseProductInput(name, price string) (model.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, ",|\r\n") {
		return model.Product{}, fmt.Errorf("%w %q", ErrInvalidProductName, name)
	}
	amount, err := ParseAmount(price)
	if err != nil {
		return model.Product{}, err
	}
	return model.Product{Name: name, Price: amount, ImageRef: model.NoImage}, nil
}

// NewImageName picks the blob name a seller's upload is stored under.
func (s *MarketService) NewImageName(seller string) string {
	return fmt.Sprintf("%s_%d.png", seller, s.now().UnixMilli())
}

// AddProduct lists product for seller. A product with an image is only listed once the blob exists.
func (s *MarketService) AddProduct(seller string, product model.Product) error {
	if product.HasImage() && !s.store.Blobs.Exists(product.ImageRef) {
		return ErrImageMissing
	}
	return s.store.Catalogs.Add(seller, product)
}

func (s *MarketService) DeleteProduct(seller, name string) (int, error) {
	return s.store.Catalogs.RemoveByName(seller, strings.TrimSpace(name))
}

func (s *MarketService) ChatHistory(key model.ThreadKey) ([]string, error) {
	return s.store.Chats.Read(key)
}

func (s *MarketService) PostChat(key model.ThreadKey, line model.ChatLine) error {
	return s.store.Chats.Append(key, line)
}

func (s *MarketService) SellerThreads(seller string) ([]model.ThreadKey, error) {
	return s.store.Chats.ThreadsForSeller(seller)
}

func (s *MarketService) DeleteAccount(ctx context.Context, username string) error {
	return s.store.DeleteAccountCascade(ctx, username)
}
