package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// RestProvider talks to a carrier's JSON-over-HTTP provisioning API. Carriers
// onboarded so far expose the same shape (search/reserve/activate/release
// endpoints with bearer auth), so one adapter covers them with per-carrier
// base URL and credentials from configuration.
type RestProvider struct {
	name       string
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewRestProvider(logger *slog.Logger, name, baseURL, apiKey string, httpClient *http.Client) *RestProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RestProvider{
		name:       name,
		logger:     logger.With("provider", name),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

func (p *RestProvider) Name() string { return p.name }

type restSearchRequest struct {
	CountryCode string   `json:"country_code"`
	AreaCode    string   `json:"area_code,omitempty"`
	City        string   `json:"city,omitempty"`
	Limit       int      `json:"limit"`
	Features    []string `json:"features,omitempty"`
}

type restNumber struct {
	Number      string   `json:"number"`
	CountryCode string   `json:"country_code"`
	AreaCode    string   `json:"area_code"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
	MonthlyRate float64  `json:"monthly_rate"`
	SetupFee    float64  `json:"setup_fee"`
	Features    []string `json:"features"`
}

type restReserveRequest struct {
	Number   string `json:"number"`
	CallerID string `json:"caller_id"`
}

type restReserveResponse struct {
	ReservationToken string `json:"reservation_token"`
}

type restErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *RestProvider) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, error) {
	reqBody := restSearchRequest{
		CountryCode: criteria.CountryCode,
		AreaCode:    criteria.AreaCode,
		City:        criteria.City,
		Limit:       criteria.EffectiveLimit(),
	}
	for _, f := range criteria.Features {
		reqBody.Features = append(reqBody.Features, string(f))
	}

	var numbers []restNumber
	if err := p.do(ctx, http.MethodPost, "/v1/numbers/search", reqBody, &numbers); err != nil {
		return nil, err
	}

	out := make([]domain.AvailableNumber, 0, len(numbers))
	for _, n := range numbers {
		features := make([]domain.NumberFeature, 0, len(n.Features))
		for _, f := range n.Features {
			features = append(features, domain.NumberFeature(f))
		}
		out = append(out, domain.AvailableNumber{
			Number:       n.Number,
			CountryCode:  n.CountryCode,
			AreaCode:     n.AreaCode,
			City:         n.City,
			Region:       n.Region,
			MonthlyRate:  n.MonthlyRate,
			SetupFee:     n.SetupFee,
			Features:     features,
			ProviderName: p.name,
		})
	}
	return out, nil
}

func (p *RestProvider) Reserve(ctx context.Context, number, callerID string) (string, error) {
	var resp restReserveResponse
	err := p.do(ctx, http.MethodPost, "/v1/reservations", restReserveRequest{Number: number, CallerID: callerID}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ReservationToken == "" {
		return "", fmt.Errorf("provider %s: empty reservation token: %w", p.name, domain.ErrProviderUnavailable)
	}
	return resp.ReservationToken, nil
}

func (p *RestProvider) Activate(ctx context.Context, token string) error {
	err := p.do(ctx, http.MethodPost, "/v1/reservations/"+token+"/activate", nil, nil)
	// A token the carrier has already finalized reads as gone; treat that as
	// the idempotent no-op the contract requires.
	if isFinalizedTokenErr(err) {
		return nil
	}
	return err
}

func (p *RestProvider) Release(ctx context.Context, token string) error {
	err := p.do(ctx, http.MethodDelete, "/v1/reservations/"+token, nil, nil)
	if isFinalizedTokenErr(err) {
		return nil
	}
	return err
}

func (p *RestProvider) HealthCheck(ctx context.Context) error {
	return p.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

func isFinalizedTokenErr(err error) bool {
	var gone *goneError
	return errors.As(err, &gone)
}

// goneError marks 404/410 responses on finalize endpoints.
type goneError struct{ inner error }

func (e *goneError) Error() string { return e.inner.Error() }
func (e *goneError) Unwrap() error { return e.inner }

// do executes one request against the carrier API and maps its status codes
// onto the core error taxonomy.
func (p *RestProvider) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("provider %s: marshal request: %w", p.name, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("provider %s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.WarnContext(ctx, "carrier request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("provider %s: %w: %v", p.name, domain.ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("provider %s: %w: read response: %v", p.name, domain.ErrProviderUnavailable, err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		if respBody == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("provider %s: %w: decode response: %v", p.name, domain.ErrProviderUnavailable, err)
		}
		return nil
	}

	var carrierErr restErrorResponse
	_ = json.Unmarshal(raw, &carrierErr)
	detail := carrierErr.Message
	if detail == "" && len(raw) > 0 && len(raw) < 200 {
		detail = string(raw)
	}
	p.logger.WarnContext(ctx, "carrier returned error", "method", method, "path", path,
		"status_code", httpResp.StatusCode, "carrier_code", carrierErr.Code, "message", detail)

	switch httpResp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return &goneError{fmt.Errorf("provider %s: %w: %s", p.name, domain.ErrNotFound, detail)}
	case http.StatusConflict:
		return fmt.Errorf("provider %s: %w: %s", p.name, domain.ErrAlreadyReserved, detail)
	default:
		return fmt.Errorf("provider %s: %w: status %d: %s", p.name, domain.ErrProviderUnavailable, httpResp.StatusCode, detail)
	}
}
