package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store groups the collections of one data directory. Each collection has its
// own lock and no operation holds two of them at once.
type Store struct {
	Accounts *AccountRepository
	Ledger   Ledger
	Catalogs *CatalogRepository
	Chats    *ChatRepository
	Blobs    *BlobStore
}

type Options struct {
	// Ledger replaces the file ledger, e.g. with a PostgresLedger.
	Ledger      Ledger
	Compression Compression
}

// Open prepares dataDir and returns the store over it.
func Open(dataDir string, opts Options) (*Store, error) {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, productsDir), filepath.Join(dataDir, chatsDir), filepath.Join(dataDir, imagesDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	for _, name := range []string{clientsFile, sellersFile, balancesFile, transactionsFile} {
		f, err := os.OpenFile(filepath.Join(dataDir, name), os.O_CREATE|os.O_RDONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		f.Close()
	}

	ledger := opts.Ledger
	if ledger == nil {
		ledger = NewFileLedger(dataDir)
	}
	return &Store{
		Accounts: NewAccountRepository(dataDir),
		Ledger:   ledger,
		Catalogs: NewCatalogRepository(dataDir),
		Chats:    NewChatRepository(dataDir),
		Blobs:    NewBlobStore(dataDir, opts.Compression),
	}, nil
}

// DeleteAccountCascade removes the account from both role collections, then its
// balance, catalog and chat threads. The steps are independent: a failure part way
// leaves the earlier steps applied.
func (s *Store) DeleteAccountCascade(ctx context.Context, username string) error {
	if err := s.Accounts.Remove(username); err != nil {
		return err
	}
	if err := s.Ledger.RemoveBalance(ctx, username); err != nil {
		return err
	}
	if err := s.Catalogs.Delete(username); err != nil {
		return err
	}
	return s.Chats.DeleteFor(username)
}
