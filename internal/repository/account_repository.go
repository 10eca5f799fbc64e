package repository

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"fsanano/marketplace/internal/model"
)

const (
	clientsFile = "clients.txt"
	sellersFile = "sellers.txt"
)

// AccountRepository keeps the username:password collections, one per role.
type AccountRepository struct {
	clients *lineFile
	sellers *lineFile

	// registerMu makes the cross-role uniqueness check and the append one step.
	// It is taken before a collection lock, never after.
	registerMu sync.Mutex
}

func NewAccountRepository(dataDir string) *AccountRepository {
	return &AccountRepository{
		clients: newLineFile(filepath.Join(dataDir, clientsFile)),
		sellers: newLineFile(filepath.Join(dataDir, sellersFile)),
	}
}

func (r *AccountRepository) collection(role model.Role) *lineFile {
	if role == model.RoleSeller {
		return r.sellers
	}
	return r.clients
}

func parseCredential(line string) (username, password string, ok bool) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// FindAccount returns the stored account for username in the role's collection.
func (r *AccountRepository) FindAccount(role model.Role, username string) (*model.Account, error) {
	lines, err := r.collection(role).read()
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		user, pass, ok := parseCredential(line)
		if ok && user == username {
			return &model.Account{Username: user, Password: pass, Role: role}, nil
		}
	}
	return nil, ErrNotFound
}

// Exists checks both role collections.
func (r *AccountRepository) Exists(username string) (bool, error) {
	for _, role := range []model.Role{model.RoleClient, model.RoleSeller} {
		_, err := r.FindAccount(role, username)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// Create appends the account, failing with ErrDuplicateUser when the username
// is taken in either role.
func (r *AccountRepository) Create(account model.Account) error {
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	exists, err := r.Exists(account.Username)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateUser
	}
	if err := r.collection(account.Role).append(account.Username + ":" + account.Password); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Usernames lists the accounts of a role in registration order.
func (r *AccountRepository) Usernames(role model.Role) ([]string, error) {
	lines, err := r.collection(role).read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		user, _, ok := parseCredential(line)
		if ok {
			names = append(names, user)
		}
	}
	return names, nil
}

// Remove drops username from both collections. Each collection is rewritten on its own.
func (r *AccountRepository) Remove(username string) error {
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	for _, f := range []*lineFile{r.clients, r.sellers} {
		if err := removeMatching(f, func(line string) bool {
			return strings.HasPrefix(line, username+":")
		}); err != nil {
			return fmt.Errorf("failed to remove account %s: %w", username, err)
		}
	}
	return nil
}

// removeMatching rewrites f without the lines match selects and reports how many went.
func removeMatching(f *lineFile, match func(string) bool) error {
	_, err := removeMatchingCount(f, match)
	return err
}

func removeMatchingCount(f *lineFile, match func(string) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLocked()
	if err != nil {
		return 0, err
	}
	var kept []string
	for _, line := range lines {
		if !match(line) {
			kept = append(kept, line)
		}
	}
	removed := len(lines) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, f.rewriteLocked(kept)
}
