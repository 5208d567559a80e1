package models

import "time"

// TaskResponse represents the response when creating a task
type TaskResponse struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"` // "queued", "processing", "completed", "failed"
	ImageCount    int    `json:"imageCount"`
	PointsCharged int    `json:"pointsCharged"`
}

// StatusResponse represents the response when checking task status
type StatusResponse struct {
	TaskID      string       `json:"taskId"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	Report      *EssayReport `json:"report,omitempty"`
	Error       string       `json:"error,omitempty"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	Timing      *Timing      `json:"timing,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// LoginRequest identifies a user by phone or mini-program open id
type LoginRequest struct {
	Phone  string `json:"phone"`
	OpenID string `json:"openId"`
}

// LoginResponse carries the bearer token for later calls
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// RedeemRequest redeems a beta code
type RedeemRequest struct {
	Code string `json:"code"`
}

// GenerateCodesRequest asks for a batch of beta codes
type GenerateCodesRequest struct {
	Count      int `json:"count"`
	Points     int `json:"points"`
	ExpireDays int `json:"expireDays"`
}

// GenerateCodesResponse lists the codes just created
type GenerateCodesResponse struct {
	Count    int       `json:"count"`
	ExpireAt time.Time `json:"expireAt"`
	Codes    []string  `json:"codes"`
}

// AdjustPointsRequest changes a user's balance by hand
type AdjustPointsRequest struct {
	Phone  string `json:"phone"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// BalanceResponse reports the current balance
type BalanceResponse struct {
	Balance int `json:"balance"`
}

// HistoryResponse lists a user's recent tasks without their reports
type HistoryResponse struct {
	Tasks []StatusResponse `json:"tasks"`
}

// SyncGradeResponse is returned by the inline grading endpoint
type SyncGradeResponse struct {
	TaskID      string       `json:"taskId"`
	Status      string       `json:"status"`
	Report      *EssayReport `json:"report"`
	DownloadURL string       `json:"downloadUrl"`
	Timing      *Timing      `json:"timing"`
}

// RedeemResponse reports the points credited by a beta code
type RedeemResponse struct {
	Points  int `json:"points"`
	Balance int `json:"balance"`
}

// TransactionsResponse lists ledger entries, newest first
type TransactionsResponse struct {
	Transactions []PointsTransaction `json:"transactions"`
}
