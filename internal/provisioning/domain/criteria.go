package domain

import (
	"strings"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// PriceRange bounds the monthly rate of returned numbers. A zero or negative
// bound is ignored.
type PriceRange struct {
	MinMonthlyRate float64 `json:"min_monthly_rate"`
	MaxMonthlyRate float64 `json:"max_monthly_rate"`
}

// SearchCriteria describes a number inventory query fanned out to providers.
type SearchCriteria struct {
	CountryCode string          `json:"country_code"`
	AreaCode    string          `json:"area_code,omitempty"`
	City        string          `json:"city,omitempty"`
	Pattern     string          `json:"pattern,omitempty"`
	Features    []NumberFeature `json:"features,omitempty"`
	PriceRange  *PriceRange     `json:"price_range,omitempty"`
	Limit       int             `json:"limit,omitempty"`
}

// Validate checks the criteria shape; all failures wrap ErrValidation.
func (c SearchCriteria) Validate() error {
	cc := strings.TrimPrefix(c.CountryCode, "+")
	if cc == "" {
		return NewValidationError("country_code is required")
	}
	if len(cc) > 3 || !allDigits(cc) {
		return NewValidationError("country_code %q must be 1-3 digits", c.CountryCode)
	}
	if c.AreaCode != "" && !allDigits(c.AreaCode) {
		return NewValidationError("area_code %q must be digits", c.AreaCode)
	}
	if c.Limit < 0 {
		return NewValidationError("limit must not be negative")
	}
	for _, r := range c.Pattern {
		switch {
		case r >= '0' && r <= '9':
		case r == '*' || r == 'X' || r == 'x' || r == '+':
		default:
			return NewValidationError("pattern %q contains unsupported character %q", c.Pattern, r)
		}
	}
	for _, f := range c.Features {
		switch f {
		case FeatureVoice, FeatureSMS, FeatureMMS, FeatureFax:
		default:
			return NewValidationError("unknown feature %q", f)
		}
	}
	if c.PriceRange != nil && c.PriceRange.MaxMonthlyRate > 0 &&
		c.PriceRange.MinMonthlyRate > c.PriceRange.MaxMonthlyRate {
		return NewValidationError("price_range min exceeds max")
	}
	return nil
}

// EffectiveLimit applies the default and hard cap to the requested limit.
func (c SearchCriteria) EffectiveLimit() int {
	if c.Limit <= 0 {
		return DefaultSearchLimit
	}
	if c.Limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return c.Limit
}

// Matches applies the post-merge filters (pattern, features, price) to a
// candidate number. Country, area and city narrowing is the provider's job at
// query time; re-checking here would reject providers that legitimately
// interpret city names more loosely.
func (c SearchCriteria) Matches(n AvailableNumber) bool {
	if c.Pattern != "" && !MatchNumberPattern(c.Pattern, n.Number) {
		return false
	}
	if !n.HasFeatures(c.Features) {
		return false
	}
	if c.PriceRange != nil {
		if c.PriceRange.MinMonthlyRate > 0 && n.MonthlyRate < c.PriceRange.MinMonthlyRate {
			return false
		}
		if c.PriceRange.MaxMonthlyRate > 0 && n.MonthlyRate > c.PriceRange.MaxMonthlyRate {
			return false
		}
	}
	return true
}

// MatchNumberPattern matches a glob-style number pattern against an E.164
// number. '*', 'X' and 'x' each match exactly one digit; digits match
// themselves; the match is anchored over the full number with any leading '+'
// ignored on both sides.
func MatchNumberPattern(pattern, number string) bool {
	p := strings.TrimPrefix(pattern, "+")
	num := strings.TrimPrefix(number, "+")
	if len(p) != len(num) {
		return false
	}
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', 'X', 'x':
			if num[i] < '0' || num[i] > '9' {
				return false
			}
		default:
			if p[i] != num[i] {
				return false
			}
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
