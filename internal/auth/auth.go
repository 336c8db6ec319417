package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xtrntr/escrow/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is how long issued tokens stay valid
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidSignature   = errors.New("signature does not match address")
	ErrReservedAddress    = errors.New("address is reserved")
)

// UserStore persists registered users
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Identity is what a valid token proves about its bearer
type Identity struct {
	UserID   int
	Username string
	Address  common.Address
}

// AuthService handles user authentication
type AuthService struct {
	Users  UserStore
	secret []byte
	ttl    time.Duration

	mu       sync.RWMutex
	reserved map[common.Address]struct{}
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(users UserStore, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{
		Users:    users,
		secret:   []byte(secret),
		ttl:      ttl,
		reserved: make(map[common.Address]struct{}),
	}
}

// Reserve stops addresses from being registered, e.g. the exchange's custody account
func (s *AuthService) Reserve(addresses ...common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addresses {
		s.reserved[a] = struct{}{}
	}
}

func (s *AuthService) isReserved(address common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reserved[address]
	return ok
}

// RegistrationMessage is the text an account signs to bind itself to username
func RegistrationMessage(username string) string {
	return "Register escrow account " + username
}

// registrationHash is the personal_sign digest of the registration message
func registrationHash(username string) []byte {
	msg := RegistrationMessage(username)
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// SignRegistration signs the registration message for username with key
func SignRegistration(key *ecdsa.PrivateKey, username string) ([]byte, error) {
	return crypto.Sign(registrationHash(username), key)
}

// verifyRegistration checks signature was made over the registration message by address.
// Both 0/1 and 27/28 recovery ids are accepted.
func verifyRegistration(username string, address common.Address, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(registrationHash(username), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != address {
		return ErrInvalidSignature
	}
	return nil
}

// Register creates a new user with hashed password, bound to the account address they act as.
// signature must be the address's signature over RegistrationMessage(username).
func (s *AuthService) Register(ctx context.Context, username, password string, address common.Address, signature []byte) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("address cannot be the zero address")
	}
	if s.isReserved(address) {
		return nil, ErrReservedAddress
	}
	if err := verifyRegistration(username, address, signature); err != nil {
		return nil, err
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.Users.CreateUser(ctx, username, string(hashedPassword), address)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"address":  user.Address.Hex(),
		"exp":      time.Now().Add(s.ttl).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// GetUserFromToken validates tokenString and returns the identity it carries
func (s *AuthService) GetUserFromToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)
	address, ok := claims["address"].(string)
	if !ok || !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: missing address", ErrInvalidToken)
	}
	return &Identity{
		UserID:   int(userID),
		Username: username,
		Address:  common.HexToAddress(address),
	}, nil
}
