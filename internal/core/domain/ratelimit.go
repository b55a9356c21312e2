package domain

import "time"

type RateLimitConfig struct {
	TokensPerMinute   int
	RequestsPerMinute int
	Window            time.Duration
	SafetyMargin      float64
	// MaxWait bounds how long Admit waits for capacity. Zero never waits;
	// a negative value means one window.
	MaxWait time.Duration
}

type RequestRecord struct {
	Timestamp time.Time
	Tokens    int
}

// RateLimitWindow is derived from the live records, never stored.
type RateLimitWindow struct {
	TokensUsed   int
	RequestsUsed int
}

type RateLimitStatus struct {
	TokensUsed         int     `json:"tokens_used"`
	RequestsUsed       int     `json:"requests_used"`
	TokenBudget        float64 `json:"token_budget"`
	RequestBudget      float64 `json:"request_budget"`
	UtilizationPercent float64 `json:"utilization_percent"`
	IsNearLimit        bool    `json:"is_near_limit"`
}

// Admission describes a successful admit call.
type Admission struct {
	Tokens   int
	Waited   time.Duration
	Attempts int
}
