package domain

import "time"

// TokenStatus is the lifecycle state of a tracked token.
type TokenStatus string

const (
	// StatusActive means the token is under monitoring.
	StatusActive TokenStatus = "active"
	// StatusHot means the token met all promotion criteria. Terminal.
	StatusHot TokenStatus = "hot"
	// StatusArchived means the monitoring deadline passed without promotion. Terminal.
	StatusArchived TokenStatus = "archived"
)

// Valid reports whether s is a known lifecycle state.
func (s TokenStatus) Valid() bool {
	switch s {
	case StatusActive, StatusHot, StatusArchived:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s TokenStatus) Terminal() bool {
	return s == StatusHot || s == StatusArchived
}

// Token represents a monitored token.
// Corresponds to the tokens table in PostgreSQL.
type Token struct {
	Address             string // PRIMARY KEY, opaque on-chain address
	StartMarketCap      float64
	CurrentMarketCap    float64
	Liquidity           float64
	CumulativeBuyVolume float64
	CumulativeNetVolume float64 // may be negative
	Status              TokenStatus
	DeadlineAt          time.Time // archive after this if still active
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
