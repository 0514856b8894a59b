package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"RTPSentinel/internal/model"
)

// HTTPSupplier fetches rounds from a supplier's REST API.
type HTTPSupplier struct {
	BaseURL  string
	APIKey   string
	Client   *http.Client
	validate *validator.Validate
}

// NewHTTPSupplier creates a supplier with optional proxy support.
func NewHTTPSupplier(baseURL, apiKey, proxyURL string) *HTTPSupplier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPSupplier{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *HTTPSupplier) Name() string { return "http" }

// rawRound is the wire shape of one round. Amounts are pointers so a missing
// field is distinguishable from zero.
type rawRound struct {
	BetAmount *float64  `json:"bet_amount" validate:"required,gte=0"`
	Payout    *float64  `json:"payout" validate:"required,gte=0"`
	GameID    string    `json:"game_id" validate:"required"`
	ClientID  string    `json:"client_id" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type roundsResponse struct {
	Rounds *[]json.RawMessage `json:"rounds"`
}

func (s *HTTPSupplier) FetchBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	q := url.Values{}
	q.Set("company", req.Company)
	q.Set("game", req.GameID)
	q.Set("client", req.ClientID)
	q.Set("bet", strconv.FormatFloat(req.BetAmount, 'f', -1, 64))
	q.Set("spins", strconv.Itoa(req.Spins))
	endpoint := fmt.Sprintf("%s/api/v1/rounds?%s", s.BaseURL, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Batch{}, err
	}
	if s.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Batch{}, fmt.Errorf("fetch rounds: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Batch{}, fmt.Errorf("fetch rounds: status %d, body: %s", resp.StatusCode, string(body))
	}

	var payload roundsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if payload.Rounds == nil {
		return Batch{}, ErrMalformedBatch
	}
	return s.decodeRounds(*payload.Rounds), nil
}

// decodeRounds converts wire records, skipping the ones that fail to decode or
// validate.
func (s *HTTPSupplier) decodeRounds(records []json.RawMessage) Batch {
	var b Batch
	for i, raw := range records {
		var rr rawRound
		if err := json.Unmarshal(raw, &rr); err != nil {
			b.Skipped++
			b.Warnings = append(b.Warnings, fmt.Sprintf("record %d: decode: %v", i, err))
			continue
		}
		if err := s.validate.Struct(rr); err != nil {
			b.Skipped++
			b.Warnings = append(b.Warnings, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		b.Rounds = append(b.Rounds, model.GameRound{
			BetAmount: *rr.BetAmount,
			Payout:    *rr.Payout,
			GameID:    rr.GameID,
			ClientID:  rr.ClientID,
			Timestamp: rr.Timestamp,
		})
	}
	return b
}
