package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fsanano/marketplace/internal/model"
)

const productsDir = "products"

// CatalogRepository stores one name,price,imageRef file per seller, each under its own lock.
type CatalogRepository struct {
	dir   string
	locks *keyedLocks
}

func NewCatalogRepository(dataDir string) *CatalogRepository {
	return &CatalogRepository{
		dir:   filepath.Join(dataDir, productsDir),
		locks: newKeyedLocks(),
	}
}

func (r *CatalogRepository) file(seller string) *lineFile {
	return &lineFile{path: filepath.Join(r.dir, seller+".txt")}
}

// Products returns the seller's catalog in stored order. A seller without a
// catalog has an empty one. Unparsable lines are skipped.
func (r *CatalogRepository) Products(seller string) ([]model.Product, error) {
	lock := r.locks.get(seller)
	lock.Lock()
	defer lock.Unlock()

	lines, err := r.file(seller).readLocked()
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog of %s: %w", seller, err)
	}
	products := make([]model.Product, 0, len(lines))
	for _, line := range lines {
		p, err := model.ParseProduct(line)
		if err != nil {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (r *CatalogRepository) Add(seller string, product model.Product) error {
	lock := r.locks.get(seller)
	lock.Lock()
	defer lock.Unlock()

	if err := appendLine(r.file(seller).path, product.Line()); err != nil {
		return fmt.Errorf("failed to add product: %w", err)
	}
	return nil
}

// RemoveByName deletes every line of the seller's catalog whose name field equals
// name, whatever its price or image, and returns how many were removed.
func (r *CatalogRepository) RemoveByName(seller, name string) (int, error) {
	lock := r.locks.get(seller)
	lock.Lock()
	defer lock.Unlock()

	f := r.file(seller)
	lines, err := f.readLocked()
	if err != nil {
		return 0, fmt.Errorf("failed to delete product: %w", err)
	}
	var kept []string
	for _, line := range lines {
		if !strings.HasPrefix(line, name+",") {
			kept = append(kept, line)
		}
	}
	removed := len(lines) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := f.rewriteLocked(kept); err != nil {
		return 0, fmt.Errorf("failed to delete product: %w", err)
	}
	return removed, nil
}

// Delete removes the seller's whole catalog.
func (r *CatalogRepository) Delete(seller string) error {
	lock := r.locks.get(seller)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(r.file(seller).path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete catalog of %s: %w", seller, err)
	}
	return nil
}
