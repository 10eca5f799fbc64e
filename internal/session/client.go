package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fsanano/marketplace/internal/model"
	"fsanano/marketplace/internal/repository"
	"fsanano/marketplace/internal/service"
)

// pick parses a 1-based menu selection against n items.
func pick(input string, n int) (idx int, valid bool, err error) {
	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, false, err
	}
	return i - 1, i >= 1 && i <= n, nil
}

func numbered(items []string) []string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return lines
}

func (s *session) shop(ctx context.Context) (outcome, error) {
	sellers, err := s.svc.Sellers()
	if err != nil {
		s.fail("list sellers", err)
		return stay, nil
	}
	s.conn.println("AVAILABLE_SELLERS")
	s.conn.println(numbered(sellers)...)
	s.conn.println("END_SELLERS")

	input, err := s.ask("Select a seller to view products (Enter number):")
	if err != nil {
		return stay, err
	}
	idx, ok, err := pick(input, len(sellers))
	if err != nil {
		s.conn.println("Please enter valid numbers.")
		return stay, nil
	}
	if !ok {
		s.conn.println("Invalid seller selection.")
		return stay, nil
	}
	seller := sellers[idx]

	products, err := s.svc.Listing(seller)
	if err != nil {
		s.fail("list products", err)
		return stay, nil
	}
	s.conn.println("SELLER_PRODUCTS")
	for i, p := range products {
		s.conn.println(fmt.Sprintf("%d. %s", i+1, p.StoredLine()))
	}
	for _, p := range products {
		if p.HasImage() {
			s.conn.println(imagePushPrefix + p.ImageRef)
		}
	}
	s.conn.println("END_PRODUCTS")

	input, err = s.ask("Enter product number to purchase (or 0 to cancel):")
	if err != nil {
		return stay, err
	}
	if strings.TrimSpace(input) == "0" {
		s.conn.println("Purchase cancelled.")
		return stay, nil
	}
	idx, ok, err = pick(input, len(products))
	if err != nil {
		s.conn.println("Please enter valid numbers.")
		return stay, nil
	}
	if !ok {
		s.conn.println("Invalid product selection.")
		return stay, nil
	}
	product := products[idx]

	confirm, err := s.ask(fmt.Sprintf("Confirm purchase of '%s' for $%s? (yes/no)", product.Name, product.Price.StringFixed(2)))
	if err != nil {
		return stay, err
	}
	if !strings.EqualFold(strings.TrimSpace(confirm), "yes") {
		s.conn.println("Purchase cancelled.")
		return stay, nil
	}

	remaining, err := s.svc.Purchase(ctx, s.username(), seller, product)
	switch {
	case err == nil:
		s.logger.Info("purchase", "buyer", s.username(), "seller", seller, "product", product.Name, "price", product.Price.StringFixed(2))
		s.conn.println("Payment successful! Remaining balance: $" + remaining.StringFixed(2))
	case errors.Is(err, repository.ErrInsufficientFunds):
		s.conn.println("Payment failed: Insufficient funds. Your balance: $" + remaining.StringFixed(2))
	default:
		s.fail("purchase", err)
	}
	return stay, nil
}

func (s *session) search(context.Context) (outcome, error) {
	query, err := s.ask("Enter product name to search:")
	if err != nil {
		return stay, err
	}
	hits, err := s.svc.Search(query)
	if err != nil {
		s.fail("search", err)
		return stay, nil
	}
	if len(hits) == 0 {
		s.conn.println("NOT AVAILABLE")
		return stay, nil
	}
	s.conn.println("=== SEARCH RESULTS ===")
	for _, hit := range hits {
		s.conn.println(hit.String())
	}
	s.conn.println("END_RESULTS")
	return stay, nil
}

func (s *session) topUp(ctx context.Context) (outcome, error) {
	input, err := s.ask("Enter amount to top up:")
	if err != nil {
		return stay, err
	}
	balance, err := s.svc.TopUp(ctx, s.username(), input)
	switch {
	case err == nil:
		s.conn.println("Top up successful. New balance: $" + balance.StringFixed(2))
	case errors.Is(err, service.ErrNonPositiveAmount):
		s.conn.println("Amount must be positive.")
	case errors.Is(err, service.ErrInvalidInput):
		s.conn.println("Invalid amount.")
	default:
		s.fail("top up", err)
	}
	return stay, nil
}

func (s *session) clientChat(ctx context.Context) (outcome, error) {
	sellers, err := s.svc.Sellers()
	if err != nil {
		s.fail("list sellers", err)
		return stay, nil
	}
	s.conn.println("=== AVAILABLE SELLERS ===")
	s.conn.println(numbered(sellers)...)
	s.conn.println("===END OF SELLERS LIST===")

	input, err := s.ask("Enter the number of the seller you want to chat with:")
	if err != nil {
		return stay, err
	}
	idx, ok, err := pick(input, len(sellers))
	if err != nil || !ok {
		s.conn.println("Invalid selection.")
		return stay, nil
	}
	key := model.ThreadKey{Seller: sellers[idx], Client: s.username()}
	return stay, s.chatLoop(ctx, key)
}
