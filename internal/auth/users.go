package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/escrow/internal/models"
)

var (
	ErrUserExists   = errors.New("username already taken")
	ErrAddressTaken = errors.New("address already registered")
	ErrUserNotFound = errors.New("user not found")
)

// MemoryUsers is a UserStore for deployments without Postgres
type MemoryUsers struct {
	mu        sync.RWMutex
	users     map[string]*models.User
	addresses map[common.Address]string
	nextID    int
}

// NewMemoryUsers creates an empty user store
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:     make(map[string]*models.User),
		addresses: make(map[common.Address]string),
		nextID:    1,
	}
}

// CreateUser inserts a new user
func (m *MemoryUsers) CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return nil, ErrUserExists
	}
	if _, ok := m.addresses[address]; ok {
		return nil, ErrAddressTaken
	}
	user := &models.User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Address:      address,
		CreatedAt:    time.Now().UTC(),
	}
	m.nextID++
	m.users[username] = user
	m.addresses[address] = username
	copied := *user
	return &copied, nil
}

// GetUserByUsername retrieves a user by username
func (m *MemoryUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}
