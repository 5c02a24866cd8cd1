package httpapi

import (
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// SearchRequest is the DTO for POST /numbers/search.
type SearchRequest struct {
	CountryCode string   `json:"country_code" validate:"required"`
	AreaCode    string   `json:"area_code,omitempty" validate:"omitempty,numeric"`
	City        string   `json:"city,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Features    []string `json:"features,omitempty" validate:"dive,oneof=voice sms mms fax"`
	MinPrice    float64  `json:"min_monthly_rate,omitempty" validate:"gte=0"`
	MaxPrice    float64  `json:"max_monthly_rate,omitempty" validate:"gte=0"`
	Limit       int      `json:"limit,omitempty" validate:"gte=0,lte=100"`
}

func (r SearchRequest) toCriteria() domain.SearchCriteria {
	c := domain.SearchCriteria{
		CountryCode: r.CountryCode,
		AreaCode:    r.AreaCode,
		City:        r.City,
		Pattern:     r.Pattern,
		Limit:       r.Limit,
	}
	for _, f := range r.Features {
		c.Features = append(c.Features, domain.NumberFeature(f))
	}
	if r.MinPrice > 0 || r.MaxPrice > 0 {
		c.PriceRange = &domain.PriceRange{
			MinMonthlyRate: r.MinPrice,
			MaxMonthlyRate: r.MaxPrice,
		}
	}
	return c
}

// SearchResponse carries the merged inventory plus the degraded flag, so
// clients can tell an empty market from a dark one.
type SearchResponse struct {
	Numbers  []domain.AvailableNumber `json:"numbers"`
	Degraded bool                     `json:"degraded"`
}

// ReserveRequest is the DTO for POST /reservations.
type ReserveRequest struct {
	Number   string `json:"number" validate:"required"`
	CallerID string `json:"caller_id" validate:"required"`
}

// ReservationResponse is the reservation view returned to clients. The
// provider token stays internal.
type ReservationResponse struct {
	ID           string                  `json:"id"`
	Number       string                  `json:"number"`
	CallerID     string                  `json:"caller_id"`
	ProviderName string                  `json:"provider_name"`
	State        domain.ReservationState `json:"state"`
	CreatedAt    time.Time               `json:"created_at"`
	ExpiresAt    time.Time               `json:"expires_at"`
}

func toReservationResponse(r *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:           r.ID,
		Number:       r.Number,
		CallerID:     r.CallerID,
		ProviderName: r.ProviderName,
		State:        r.State,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}

// ProviderHealthResponse is the DTO for GET /providers/health.
type ProviderHealthResponse struct {
	Providers map[string]domain.ProviderHealth `json:"providers"`
}

type errorResponse struct {
	Error string `json:"error"`
}
