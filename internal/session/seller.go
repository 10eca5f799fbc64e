package session

import (
	"context"
	"errors"
	"strings"

	"fsanano/marketplace/internal/service"
)

func (s *session) addProduct(context.Context) (outcome, error) {
	name, err := s.ask("Enter product name:")
	if err != nil {
		return stay, err
	}
	price, err := s.ask("Enter price:")
	if err != nil {
		return stay, err
	}
	product, err := service.ParseProductInput(name, price)
	switch {
	case errors.Is(err, service.ErrInvalidProductName):
		s.conn.println("Invalid product name.")
		return stay, nil
	case err != nil:
		s.conn.println("Invalid price input.")
		return stay, nil
	}

	upload, err := s.ask("Will you upload a product image? (yes/no):")
	if err != nil {
		return stay, err
	}
	if strings.EqualFold(strings.TrimSpace(upload), "yes") {
		product.ImageRef = s.svc.NewImageName(s.username())
		s.logger.Debug("requesting image upload", "image", product.ImageRef)
		// The client pushes the blob over the sidecar, then acknowledges here.
		ack, err := s.ask(imageRequestPrefix + product.ImageRef)
		if err != nil {
			return stay, err
		}
		if strings.TrimSpace(ack) != imageUploadedAck {
			s.conn.println("Image upload failed.")
			return stay, nil
		}
		s.conn.println("Image registered as: " + product.ImageRef)
	}

	switch err := s.svc.AddProduct(s.username(), product); {
	case err == nil:
		s.logger.Info("product added", "seller", s.username(), "product", product.Name)
		s.conn.println("Product added successfully.")
	case errors.Is(err, service.ErrImageMissing):
		s.conn.println("Image upload failed.")
	default:
		s.fail("add product", err)
	}
	return stay, nil
}

func (s *session) deleteProduct(context.Context) (outcome, error) {
	name, err := s.ask("Enter product name to delete:")
	if err != nil {
		return stay, err
	}
	removed, err := s.svc.DeleteProduct(s.username(), name)
	if err != nil {
		s.fail("delete product", err)
		return stay, nil
	}
	if removed == 0 {
		s.conn.println("Product not found.")
		return stay, nil
	}
	s.logger.Info("product deleted", "seller", s.username(), "product", strings.TrimSpace(name), "lines", removed)
	s.conn.println("Product deleted.")
	return stay, nil
}

func (s *session) viewProducts(context.Context) (outcome, error) {
	products, err := s.svc.Products(s.username())
	if err != nil {
		s.fail("view products", err)
		return stay, nil
	}
	s.conn.println("=== PRODUCT LIST ===")
	for _, p := range products {
		s.conn.println(p.StoredLine())
	}
	s.conn.println("===END OF PRODUCTS===")
	return stay, nil
}

func (s *session) sellerChat(ctx context.Context) (outcome, error) {
	threads, err := s.svc.SellerThreads(s.username())
	if err != nil {
		s.fail("list chats", err)
		return stay, nil
	}
	if len(threads) == 0 {
		s.conn.println("No active chat sessions found.")
		return stay, nil
	}

	clients := make([]string, len(threads))
	for i, key := range threads {
		clients[i] = key.Client
	}
	s.conn.println("=== ACTIVE CLIENT CHATS ===")
	s.conn.println(numbered(clients)...)

	input, err := s.ask("Enter the number of the chat to view:")
	if err != nil {
		return stay, err
	}
	idx, ok, err := pick(input, len(threads))
	if err != nil {
		s.conn.println("Invalid selection.")
		return stay, nil
	}
	if !ok {
		s.conn.println("Invalid chat selection.")
		return stay, nil
	}
	return stay, s.chatLoop(ctx, threads[idx])
}
