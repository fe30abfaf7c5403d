package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/browserbridge/bridge/internal/keystore"
)

const (
	// KeyPrefix is the fixed prefix carried by every API key secret.
	KeyPrefix = "bby_"
	keyBytes  = 32

	executorTokenPrefix = "ext_"
)

// KeyInfo is the redacted view of a stored key returned by List. The full
// secret is only ever visible at generation time.
type KeyInfo struct {
	Name         string     `json:"name"`
	Created      time.Time  `json:"created"`
	LastUsed     *time.Time `json:"lastUsed"`
	MaskedPrefix string     `json:"prefix"`
}

// Service validates API keys against the key store through a read-through
// cache, and owns the single process-lifetime executor token.
type Service struct {
	store *keystore.Store

	mu    sync.Mutex
	cache map[string]*keystore.ApiKey // secret -> entry, nil until first load
	dirty map[string]time.Time        // secret -> pending lastUsed write

	executorToken string
}

// NewService wraps the key store. The executor token is generated once here
// and never persisted.
func NewService(store *keystore.Store) *Service {
	return &Service{
		store:         store,
		dirty:         make(map[string]time.Time),
		executorToken: executorTokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// Generate creates and persists a new API key, returning the full secret.
// nil allowedCommands / allowedIPs means unrestricted.
func (s *Service) Generate(name string, allowedCommands, allowedIPs []string) (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate key: %w", err)
	}
	secret := KeyPrefix + hex.EncodeToString(buf)

	key := keystore.ApiKey{
		Secret:          secret,
		Name:            name,
		Created:         time.Now().UTC(),
		AllowedIPs:      allowedIPs,
		AllowedCommands: allowedCommands,
	}
	if err := s.store.Insert(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache = nil // invalidate
	s.mu.Unlock()
	return secret, nil
}

// Validate reports whether the secret names a stored key whose IP allowlist
// admits remoteIP. A successful validation marks the key's lastUsed in the
// cache only; the store is updated by the next Flush.
func (s *Service) Validate(secret, remoteIP string) bool {
	if !strings.HasPrefix(secret, KeyPrefix) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		log.Printf("[Auth] key cache load failed: %v", err)
		return false
	}

	entry, ok := s.cache[secret]
	if !ok {
		return false
	}
	if entry.AllowedIPs != nil && !contains(entry.AllowedIPs, remoteIP) {
		return false
	}

	now := time.Now().UTC()
	entry.LastUsed = &now
	s.dirty[secret] = now
	return true
}

// PermissionsFor returns the key's allowed-command set, or nil when the key
// is unknown or unrestricted.
func (s *Service) PermissionsFor(secret string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		log.Printf("[Auth] key cache load failed: %v", err)
		return nil
	}
	entry, ok := s.cache[secret]
	if !ok {
		return nil
	}
	return entry.AllowedCommands
}

// Revoke removes the single key matching the prefix. Propagates
// keystore.ErrNotFound and keystore.ErrAmbiguous.
func (s *Service) Revoke(prefix string) (keystore.ApiKey, error) {
	deleted, err := s.store.DeleteByPrefix(prefix)
	if err != nil {
		return keystore.ApiKey{}, err
	}
	s.mu.Lock()
	s.cache = nil
	delete(s.dirty, deleted.Secret)
	s.mu.Unlock()
	return deleted, nil
}

// List returns the redacted key table.
func (s *Service) List() ([]KeyInfo, error) {
	keys, err := s.store.All()
	if err != nil {
		return nil, err
	}
	infos := make([]KeyInfo, 0, len(keys))
	for _, key := range keys {
		infos = append(infos, KeyInfo{
			Name:         key.Name,
			Created:      key.Created,
			LastUsed:     key.LastUsed,
			MaskedPrefix: maskSecret(key.Secret),
		})
	}
	return infos, nil
}

// OpenAccess reports whether the store holds no keys at all, in which case
// auth and allowlist checks are bypassed entirely.
func (s *Service) OpenAccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		log.Printf("[Auth] key cache load failed: %v", err)
		return false
	}
	return len(s.cache) == 0
}

// Flush writes coalesced lastUsed updates to the store and refreshes the
// cache. Losing these timestamps in a crash is acceptable; key validity
// never depends on them.
func (s *Service) Flush() error {
	s.mu.Lock()
	pending := s.dirty
	s.dirty = make(map[string]time.Time)
	s.cache = nil // pick up out-of-process changes on next read
	s.mu.Unlock()

	for secret, stamp := range pending {
		if err := s.store.UpdateLastUsed(secret, stamp); err != nil {
			return err
		}
	}
	return nil
}

// FlushLoop flushes on the given interval until stop is closed, then flushes
// one final time.
func (s *Service) FlushLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				log.Printf("[Auth] key flush failed: %v", err)
			}
		case <-stop:
			if err := s.Flush(); err != nil {
				log.Printf("[Auth] final key flush failed: %v", err)
			}
			return
		}
	}
}

// ExecutorToken returns the process-lifetime executor secret.
func (s *Service) ExecutorToken() string {
	return s.executorToken
}

// ValidateExecutorToken compares in constant time.
func (s *Service) ValidateExecutorToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.executorToken)) == 1
}

// loadLocked populates the cache from the store if invalidated. Caller holds mu.
func (s *Service) loadLocked() error {
	if s.cache != nil {
		return nil
	}
	keys, err := s.store.All()
	if err != nil {
		return err
	}
	cache := make(map[string]*keystore.ApiKey, len(keys))
	for i := range keys {
		cache[keys[i].Secret] = &keys[i]
	}
	s.cache = cache
	return nil
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8] + "..."
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
