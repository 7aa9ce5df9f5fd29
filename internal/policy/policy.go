// Package policy resolves a shop's return policy. Every field has a platform
// default that applies whenever the shop has not configured it.
package policy

import (
	"context"
	"slices"
	"sync"
)

const (
	ReasonDamaged       = "damaged"
	ReasonWrongItem     = "wrong_item"
	ReasonQualityIssues = "quality_issues"
)

const (
	DefaultReturnWindowHours     = 24
	DefaultAllowReturns          = true
	DefaultPerishableWindowHours = 6
)

func DefaultReasons() []string {
	return []string{ReasonDamaged, ReasonWrongItem, ReasonQualityIssues}
}

type ReturnPolicy struct {
	ReturnWindowHours     int      `json:"returnWindowHours"`
	AllowReturns          bool     `json:"allowReturns"`
	PerishableWindowHours int      `json:"perishableWindow"`
	AllowedReasons        []string `json:"allowedReasons"`
}

func Default() ReturnPolicy {
	return ReturnPolicy{
		ReturnWindowHours:     DefaultReturnWindowHours,
		AllowReturns:          DefaultAllowReturns,
		PerishableWindowHours: DefaultPerishableWindowHours,
		AllowedReasons:        DefaultReasons(),
	}
}

func (p ReturnPolicy) Allows(reason string) bool {
	return slices.Contains(p.AllowedReasons, reason)
}

// Stored is a shop's policy as persisted: nil means "not configured".
type Stored struct {
	ReturnWindowHours     *int     `json:"returnWindowHours,omitempty" bson:"returnWindowHours,omitempty"`
	AllowReturns          *bool    `json:"allowReturns,omitempty" bson:"allowReturns,omitempty"`
	PerishableWindowHours *int     `json:"perishableWindow,omitempty" bson:"perishableWindow,omitempty"`
	AllowedReasons        []string `json:"allowedReasons,omitempty" bson:"allowedReasons,omitempty"`
}

func (s Stored) Resolve() ReturnPolicy {
	p := Default()
	if s.ReturnWindowHours != nil && *s.ReturnWindowHours > 0 {
		p.ReturnWindowHours = *s.ReturnWindowHours
	}
	if s.AllowReturns != nil {
		p.AllowReturns = *s.AllowReturns
	}
	if s.PerishableWindowHours != nil && *s.PerishableWindowHours > 0 {
		p.PerishableWindowHours = *s.PerishableWindowHours
	}
	if len(s.AllowedReasons) > 0 {
		p.AllowedReasons = slices.Clone(s.AllowedReasons)
	}
	return p
}

// Source returns the effective policy of a shop. Unknown shops get the
// defaults, not an error.
type Source interface {
	ReturnPolicy(ctx context.Context, shopID string) (ReturnPolicy, error)
}

// StaticSource keeps policies in memory; it backs the memory driver and tests.
type StaticSource struct {
	mu       sync.RWMutex
	policies map[string]Stored
}

func NewStaticSource() *StaticSource {
	return &StaticSource{policies: make(map[string]Stored)}
}

func (s *StaticSource) Set(shopID string, st Stored) {
	s.mu.Lock()
	s.policies[shopID] = st
	s.mu.Unlock()
}

func (s *StaticSource) ReturnPolicy(_ context.Context, shopID string) (ReturnPolicy, error) {
	s.mu.RLock()
	st := s.policies[shopID]
	s.mu.RUnlock()
	return st.Resolve(), nil
}
