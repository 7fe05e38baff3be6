// Package devbackend is a self-contained implementation of the login, link
// and tracking endpoints for local development and tests.
package devbackend

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/backend"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
	DefaultMessageTTL = 10 * time.Minute
)

// Config configures the server
type Config struct {
	// Secret signs issued tokens. A random secret is generated when empty.
	Secret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// MessageTTL bounds how old a signed challenge may be
	MessageTTL time.Duration

	// AlreadyConnectedStatus answers duplicate tracking with 200 and a
	// status field instead of a 400 field error
	AlreadyConnectedStatus bool

	Logger zerolog.Logger
	Now    func() time.Time
}

// Server holds users, wallet links and tracked connections in memory
type Server struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	nextID  int64
	users   map[string]*backend.User
	byID    map[int64]*backend.User
	links   map[string]int64
	tracked map[string]time.Time
	used    map[string]time.Time
}

// New creates a server
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.MessageTTL == 0 {
		cfg.MessageTTL = DefaultMessageTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "devbackend").Logger(),
		users:   make(map[string]*backend.User),
		byID:    make(map[int64]*backend.User),
		links:   make(map[string]int64),
		tracked: make(map[string]time.Time),
		used:    make(map[string]time.Time),
	}, nil
}

// userFor returns the account owning address, creating it on first login
func (s *Server) userFor(address string) backend.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(address)
	if u, ok := s.users[key]; ok {
		return *u
	}

	s.nextID++
	u := &backend.User{
		ID:            s.nextID,
		Username:      "wallet_" + key[2:10],
		WalletAddress: address,
	}
	s.users[key] = u
	s.byID[u.ID] = u
	return *u
}

func (s *Server) user(id int64) (backend.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return backend.User{}, false
	}
	return *u, true
}

// consume marks a signed message used. It reports false for a replay.
func (s *Server) consume(message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	for m, at := range s.used {
		if now.Sub(at) > s.cfg.MessageTTL {
			delete(s.used, m)
		}
	}
	if _, seen := s.used[message]; seen {
		return false
	}
	s.used[message] = now
	return true
}

// link associates address with the user. It reports false when the
// association exists already.
func (s *Server) link(userID int64, address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(address)
	if owner, ok := s.links[key]; ok && owner == userID {
		return false
	}
	s.links[key] = userID
	return true
}

// track records a connection. It reports false for a duplicate.
func (s *Server) track(walletType, address string, chainID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%d", strings.ToLower(address), walletType, chainID)
	if _, ok := s.tracked[key]; ok {
		return false
	}
	s.tracked[key] = s.cfg.Now()
	return true
}

// Tracked returns how many distinct connections have been recorded
func (s *Server) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}
