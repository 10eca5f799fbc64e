package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fsanano/marketplace/internal/model"
)

const chatsDir = "chats"

// ChatRepository keeps one append-only log per client/seller pair.
type ChatRepository struct {
	dir   string
	locks *keyedLocks
}

func NewChatRepository(dataDir string) *ChatRepository {
	return &ChatRepository{
		dir:   filepath.Join(dataDir, chatsDir),
		locks: newKeyedLocks(),
	}
}

func (r *ChatRepository) path(key model.ThreadKey) string {
	return filepath.Join(r.dir, key.FileName())
}

// Read replays the thread in append order; a thread never written is empty.
func (r *ChatRepository) Read(key model.ThreadKey) ([]string, error) {
	lock := r.locks.get(key.FileName())
	lock.Lock()
	defer lock.Unlock()

	lines, err := readLines(r.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read chat %s: %w", key.FileName(), err)
	}
	return lines, nil
}

func (r *ChatRepository) Append(key model.ThreadKey, line model.ChatLine) error {
	lock := r.locks.get(key.FileName())
	lock.Lock()
	defer lock.Unlock()

	if err := appendLine(r.path(key), line.String()); err != nil {
		return fmt.Errorf("failed to append chat %s: %w", key.FileName(), err)
	}
	return nil
}

func (r *ChatRepository) fileNames() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ThreadsForSeller lists the threads a seller takes part in, ordered by client name.
func (r *ChatRepository) ThreadsForSeller(seller string) ([]model.ThreadKey, error) {
	names, err := r.fileNames()
	if err != nil {
		return nil, err
	}
	var keys []model.ThreadKey
	for _, name := range names {
		if key, ok := model.ParseThreadFile(seller, name); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// DeleteFor removes every thread where username is the seller or the client.
func (r *ChatRepository) DeleteFor(username string) error {
	names, err := r.fileNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, "_chat.txt") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(name, "_chat.txt"), "_")
		if len(parts) != 2 || (parts[0] != username && parts[1] != username) {
			continue
		}
		lock := r.locks.get(name)
		lock.Lock()
		err := os.Remove(filepath.Join(r.dir, name))
		lock.Unlock()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete chat %s: %w", name, err)
		}
	}
	return nil
}
