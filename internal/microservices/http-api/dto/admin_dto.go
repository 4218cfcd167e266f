package dto

import (
	"beatrelay/internal/journal"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// DispatchRequest is one behavior block to route as if it came off the wire
type DispatchRequest struct {
	Key     string `json:"key" binding:"required"`
	Payload string `json:"payload" binding:"required"`
}

type DispatchResponse struct {
	Status  string `json:"status"`
	Key     string `json:"key"`
	Pending int    `json:"pending"`
}

type TargetsResponse struct {
	Targets []string `json:"targets"`
	Count   int      `json:"count"`
}

type JournalResponse struct {
	Records []journal.DispatchRecord `json:"records"`
	Count   int                      `json:"count"`
	Limit   int                      `json:"limit"`
}

type JournalSummaryResponse struct {
	Outcomes []journal.OutcomeCount `json:"outcomes"`
}
