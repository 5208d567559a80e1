package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/utils"

	log "github.com/sirupsen/logrus"
)

const (
	maxGenerateCount  = 200
	defaultExpireDays = 30
	betaCodeBytes     = 8
)

// AccountRepository is the transactional storage behind points accounting.
// Every balance change locks the user row and writes a ledger entry in the
// same transaction.
type AccountRepository interface {
	UpsertUser(ctx context.Context, phone, openID string) (*models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	ApplyPoints(ctx context.Context, userID int64, amount int, txType models.TransactionType, description string) (int, error)
	AdjustByPhone(ctx context.Context, phone string, amount int, reason string) (int, error)
	RedeemCode(ctx context.Context, userID int64, code string, now time.Time) (points int, balance int, err error)
	InsertBetaCodes(ctx context.Context, codes []models.BetaCode) error
	ListTransactions(ctx context.Context, userID int64, limit int) ([]models.PointsTransaction, error)
}

// PointsService implements accounts, charging and beta code redemption
type PointsService struct {
	repo AccountRepository
}

// NewPointsService creates a new points service
func NewPointsService(repo AccountRepository) *PointsService {
	return &PointsService{repo: repo}
}

// Login finds or creates the user identified by phone or open id
func (s *PointsService) Login(ctx context.Context, phone, openID string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	openID = strings.TrimSpace(openID)
	if phone == "" && openID == "" {
		return nil, &models.InvalidInputError{Message: "phone or openId is required"}
	}
	user, err := s.repo.UpsertUser(ctx, phone, openID)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return user, nil
}

// User returns the account for userID
func (s *PointsService) User(ctx context.Context, userID int64) (*models.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// Balance returns the current points balance
func (s *PointsService) Balance(ctx context.Context, userID int64) (int, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.PointsBalance, nil
}

// Charge deducts amount points, failing with InsufficientPointsError when the
// balance would go negative
func (s *PointsService) Charge(ctx context.Context, userID int64, amount int, description string) (int, error) {
	if amount <= 0 {
		return s.Balance(ctx, userID)
	}
	balance, err := s.repo.ApplyPoints(ctx, userID, -amount, models.TransactionSpend, description)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"user_id": userID, "amount": amount, "balance": balance}).Info("[POINTS] charged")
	return balance, nil
}

// Refund gives back points taken by Charge
func (s *PointsService) Refund(ctx context.Context, userID int64, amount int, description string) (int, error) {
	if amount <= 0 {
		return s.Balance(ctx, userID)
	}
	balance, err := s.repo.ApplyPoints(ctx, userID, amount, models.TransactionRefund, description)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"user_id": userID, "amount": amount, "balance": balance}).Info("[POINTS] refunded")
	return balance, nil
}

// Redeem credits a beta code to the user. The code must exist, be unused and unexpired.
func (s *PointsService) Redeem(ctx context.Context, userID int64, code string) (points int, balance int, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, 0, &models.InvalidInputError{Message: "code is required"}
	}
	points, balance, err = s.repo.RedeemCode(ctx, userID, code, time.Now().UTC())
	if err != nil {
		return 0, 0, err
	}
	log.WithFields(log.Fields{"user_id": userID, "points": points}).Info("[POINTS] beta code redeemed")
	return points, balance, nil
}

// GenerateBetaCodes creates count unique codes worth points each
func (s *PointsService) GenerateBetaCodes(ctx context.Context, count, points, expireDays int) ([]string, time.Time, error) {
	if count <= 0 || count > maxGenerateCount || points <= 0 {
		return nil, time.Time{}, &models.InvalidInputError{
			Message: fmt.Sprintf("count must be 1-%d, points must be > 0", maxGenerateCount),
		}
	}
	if expireDays <= 0 {
		expireDays = defaultExpireDays
	}

	now := time.Now().UTC()
	expireAt := now.AddDate(0, 0, expireDays)

	seen := make(map[string]bool, count)
	codes := make([]models.BetaCode, 0, count)
	for len(codes) < count {
		code, err := utils.RandomHex(betaCodeBytes)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to generate code: %w", err)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, models.BetaCode{Code: code, PointsValue: points, ExpireAt: expireAt, CreatedAt: now})
	}

	if err := s.repo.InsertBetaCodes(ctx, codes); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to store codes: %w", err)
	}

	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.Code
	}
	return out, expireAt, nil
}

// AdjustPoints changes a user's balance by hand and records a system_adjust entry
func (s *PointsService) AdjustPoints(ctx context.Context, phone string, amount int, reason string) (int, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || amount == 0 {
		return 0, &models.InvalidInputError{Message: "phone and non-zero numeric amount are required"}
	}
	if strings.TrimSpace(reason) == "" {
		reason = "SYSTEM_ADJUST"
	}
	return s.repo.AdjustByPhone(ctx, phone, amount, reason)
}

// Transactions lists the newest ledger entries for a user
func (s *PointsService) Transactions(ctx context.Context, userID int64, limit int) ([]models.PointsTransaction, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	return s.repo.ListTransactions(ctx, userID, limit)
}
