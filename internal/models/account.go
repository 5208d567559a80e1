package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TransactionType classifies a points ledger entry
type TransactionType string

const (
	TransactionTopup        TransactionType = "topup"
	TransactionSpend        TransactionType = "spend"
	TransactionRedeem       TransactionType = "redeem"
	TransactionAdjust       TransactionType = "adjust"
	TransactionSystemAdjust TransactionType = "system_adjust"
	TransactionRefund       TransactionType = "refund"
)

// User is an account holding a points balance
type User struct {
	ID            int64      `json:"id"`
	Phone         string     `json:"phone,omitempty"`
	OpenID        string     `json:"openId,omitempty"`
	PointsBalance int        `json:"pointsBalance"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// PointsTransaction is one entry of the points ledger
type PointsTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	Type        TransactionType `json:"type"`
	Amount      int             `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// BetaCode is a single-use voucher redeemable for points
type BetaCode struct {
	Code         string    `json:"code"`
	PointsValue  int       `json:"pointsValue"`
	IsUsed       bool      `json:"isUsed"`
	UsedByUserID *int64    `json:"usedByUserId,omitempty"`
	ExpireAt     time.Time `json:"expireAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Claims is the JWT payload issued at login
type Claims struct {
	UserID int64  `json:"userId"`
	Phone  string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}
