package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/petportre/orders-service/internal/config"
	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
)

// A token is never handed out this close to its expiry.
const tokenSafetyMargin = 60 * time.Second

var errTokenExpiring = errors.New("issued token expires within the safety margin")

var tokenPaths = []string{"jwt", "accessToken", "access_token", "token", "data.accessToken", "data.token"}

type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t Token) usableAt(now time.Time) bool {
	return t.Value != "" && now.Add(tokenSafetyMargin).Before(t.ExpiresAt)
}

// TokenStore keeps the current carrier token. Get reports ok=false when empty.
type TokenStore interface {
	Get(ctx context.Context) (Token, bool, error)
	Set(ctx context.Context, t Token) error
	Delete(ctx context.Context) error
}

type MemoryTokenStore struct {
	mu  sync.Mutex
	tok Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Get(context.Context) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, m.tok.Value != "", nil
}

func (m *MemoryTokenStore) Set(_ context.Context, t Token) error {
	m.mu.Lock()
	m.tok = t
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Delete(context.Context) error {
	m.mu.Lock()
	m.tok = Token{}
	m.mu.Unlock()
	return nil
}

const redisTokenKey = "carrier:token"

// RedisTokenStore shares the token between service instances.
type RedisTokenStore struct {
	client *redis.Client
	key    string
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, key: redisTokenKey}
}

func (r *RedisTokenStore) Get(ctx context.Context) (Token, bool, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("redis get token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return Token{}, false, fmt.Errorf("decode cached token: %w", err)
	}
	return t, true, nil
}

func (r *RedisTokenStore) Set(ctx context.Context, t Token) error {
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := r.client.Set(ctx, r.key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (r *RedisTokenStore) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	return nil
}

// TokenSource hands out carrier bearer tokens. It is built once per process
// and shared by every carrier call.
type TokenSource struct {
	cfg   config.CarrierConfig
	http  *http.Client
	store TokenStore
	group singleflight.Group
	now   func() time.Time
}

func NewTokenSource(cfg config.CarrierConfig, hc *http.Client, store TokenStore) *TokenSource {
	if hc == nil {
		hc = &http.Client{}
	}
	if store == nil {
		store = NewMemoryTokenStore()
	}
	return &TokenSource{cfg: cfg, http: hc, store: store, now: time.Now}
}

// Token returns a cached token or fetches a new one. Concurrent callers on a
// cold cache share one fetch.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if t, ok := s.cached(ctx); ok {
		return t.Value, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		if t, ok := s.cached(ctx); ok {
			return t, nil
		}
		t, err := s.fetch(ctx)
		if err != nil {
			return Token{}, err
		}
		if err := s.store.Set(ctx, t); err != nil {
			logger.Warn("carrier token not cached", "err", err)
		}
		return t, nil
	})
	if err != nil {
		return "", err
	}
	return v.(Token).Value, nil
}

// Invalidate drops the cached token, e.g. after the carrier answered 401.
func (s *TokenSource) Invalidate(ctx context.Context) {
	if err := s.store.Delete(ctx); err != nil {
		logger.Warn("carrier token invalidate failed", "err", err)
	}
}

func (s *TokenSource) cached(ctx context.Context) (Token, bool) {
	t, ok, err := s.store.Get(ctx)
	if err != nil {
		logger.Warn("carrier token store read failed", "err", err)
		return Token{}, false
	}
	if !ok || !t.usableAt(s.now()) {
		return Token{}, false
	}
	return t, true
}

func (s *TokenSource) strategies() []attempt {
	headers := map[string]string{
		"x-ibm-client-id":     s.cfg.ClientID,
		"x-ibm-client-secret": s.cfg.ClientSecret,
	}
	list := []attempt{
		{method: http.MethodPost, url: s.cfg.TokenURL, headers: headers},
		{method: http.MethodGet, url: s.cfg.TokenURL, headers: headers},
	}
	if s.cfg.CustomerNumber != "" {
		list = append(list, attempt{
			method:  http.MethodPost,
			url:     s.cfg.TokenURL,
			headers: headers,
			body: map[string]any{
				"customerNumber": s.cfg.CustomerNumber,
				"password":       s.cfg.Password,
				"identityType":   1,
			},
		})
	}
	return list
}

func (s *TokenSource) fetch(ctx context.Context) (Token, error) {
	unavailable := &domain.CarrierUnavailableError{Op: "token"}
	if s.cfg.TokenURL == "" {
		return Token{}, unavailable
	}

	for _, a := range s.strategies() {
		resp, err := send(ctx, s.http, s.cfg.Timeout, a)
		if err != nil {
			unavailable.Attempts = append(unavailable.Attempts, failure(a, resp, err))
			continue
		}
		unavailable.LastBody = diag(resp.body)
		if value := scalarAt(resp.body, tokenPaths...); resp.ok() && value != "" {
			t := Token{Value: value, ExpiresAt: s.expiry(value)}
			if !t.usableAt(s.now()) {
				unavailable.Attempts = append(unavailable.Attempts, failure(a, resp, errTokenExpiring))
				continue
			}
			logger.Debug("carrier token issued", "method", a.method, "expires_at", t.ExpiresAt)
			return t, nil
		}
		unavailable.Attempts = append(unavailable.Attempts, failure(a, resp, nil))
	}
	return Token{}, unavailable
}

// expiry reads the exp claim when the token is a JWT; otherwise the token is
// assumed to live for the configured TTL.
func (s *TokenSource) expiry(value string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return s.now().Add(ttl)
}
