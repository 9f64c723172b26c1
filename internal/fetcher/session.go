package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/market"
)

// ErrSessionRejected marks a quote call refused for authentication. The
// adapter does not log in again until the process restarts.
var ErrSessionRejected = errors.New("fetcher: session rejected by broker")

// SessionOptions parameterise the token-authenticated broker adapter.
type SessionOptions struct {
	BaseURL    string
	LoginPath  string
	QuotesPath string
	ClientCode string
	Password   string
	APIKey     string
	Timeout    time.Duration
	Symbols    SymbolMap
}

// Session talks to a broker quote API behind a login token. The token is
// owned by this instance and obtained once by Login.
type Session struct {
	opts   SessionOptions
	client *http.Client
	logger zerolog.Logger

	once     sync.Once
	loginErr error
	mu       sync.RWMutex
	token    string
}

// NewSession builds the adapter without performing I/O.
func NewSession(opts SessionOptions, logger zerolog.Logger) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/auth/login"
	}
	if opts.QuotesPath == "" {
		opts.QuotesPath = "/market/quotes"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Session{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "session_adapter").Logger(),
	}
}

// Name implements Adapter.
func (s *Session) Name() string { return "session" }

// Configured reports whether credentials are present.
func (s *Session) Configured() bool {
	return s.opts.BaseURL != "" && s.opts.ClientCode != "" && s.opts.Password != ""
}

// Login authenticates at most once per process. Later calls return the
// first outcome.
func (s *Session) Login(ctx context.Context) error {
	s.once.Do(func() {
		if !s.Configured() {
			s.loginErr = ErrNotConfigured
			return
		}
		token, err := s.login(ctx)
		if err != nil {
			s.loginErr = err
			s.logger.Error().Err(err).Msg("broker login failed")
			return
		}
		s.mu.Lock()
		s.token = token
		s.mu.Unlock()
		s.logger.Info().Msg("broker session established")
	})
	return s.loginErr
}

type sessionEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type sessionQuote struct {
	Symbol        string   `json:"symbol"`
	Open          *float64 `json:"open"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	LTP           *float64 `json:"ltp"`
	NetChange     *float64 `json:"netChange"`
	PercentChange *float64 `json:"percentChange"`
	Volume        *int64   `json:"tradeVolume"`
	FeedTime      string   `json:"exchFeedTime"`
}

func (s *Session) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"clientcode": s.opts.ClientCode,
		"password":   s.opts.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+s.opts.LoginPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("session login request: %w", err)
	}
	s.headers(req)

	var env sessionEnvelope
	if err := doJSON(s.client, req, "session", &env); err != nil {
		return "", err
	}
	if !env.Status {
		return "", fmt.Errorf("session login refused: %s", env.Message)
	}
	var data struct {
		JWTToken string `json:"jwtToken"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.JWTToken == "" {
		return "", errors.New("session login: missing token")
	}
	return data.JWTToken, nil
}

// Fetch implements Adapter. Without a token it fails immediately.
func (s *Session) Fetch(ctx context.Context, symbols []string) ([]market.Quote, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return nil, ErrNotConfigured
	}

	tickers := make([]string, len(symbols))
	for i, sym := range symbols {
		tickers[i] = s.opts.Symbols.To(sym)
	}
	body, err := json.Marshal(map[string]any{"mode": "FULL", "symbols": tickers})
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+s.opts.QuotesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("session quote request: %w", err)
	}
	s.headers(req)
	req.Header.Set("Authorization", "Bearer "+token)

	var env sessionEnvelope
	if err := doJSON(s.client, req, "session", &env); err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrSessionRejected, err)
		}
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("session quotes: %s", env.Message)
	}
	var data struct {
		Fetched []sessionQuote `json:"fetched"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}

	quotes := make([]market.Quote, 0, len(data.Fetched))
	for _, raw := range data.Fetched {
		if raw.LTP == nil {
			continue
		}
		closePx, ok := market.PriceFromFloat(*raw.LTP)
		if !ok {
			continue
		}
		q := market.Quote{Symbol: s.opts.Symbols.From(raw.Symbol), Close: closePx, Source: s.Name()}
		q.Open, _ = pick([]*float64{raw.Open}, 0)
		q.High, _ = pick([]*float64{raw.High}, 0)
		q.Low, _ = pick([]*float64{raw.Low}, 0)
		q.Change, _ = pick([]*float64{raw.NetChange}, 0)
		q.ChangePercent, _ = pick([]*float64{raw.PercentChange}, 0)
		if raw.Volume != nil {
			q.Volume = *raw.Volume
		}
		if ts, err := time.Parse("02-Jan-2006 15:04:05", raw.FeedTime); err == nil {
			q.Timestamp = ts
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (s *Session) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("X-API-Key", s.opts.APIKey)
	}
}
