package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"essay-grader/internal/models"
)

// MemoryAccountStore keeps accounts in memory with the same rules as the
// postgres repository. A single mutex stands in for row locks.
type MemoryAccountStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
	codes  map[string]*models.BetaCode
	ledger []models.PointsTransaction
}

var _ AccountRepository = (*MemoryAccountStore)(nil)

// NewMemoryAccountStore creates an empty account store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{users: map[int64]*models.User{}, codes: map[string]*models.BetaCode{}}
}

// OpenIDTakenMessage is returned when a phone login carries an open id that
// already belongs to another account
const OpenIDTakenMessage = "openId is linked to another account"

// UpsertUser finds the user by phone, else open id, creating it on first login.
// A phone login that carries an open id links it to the account.
func (m *MemoryAccountStore) UpsertUser(_ context.Context, phone, openID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var match, owner *models.User
	for _, u := range m.users {
		if phone != "" && u.Phone == phone {
			match = u
		}
		if openID != "" && u.OpenID == openID {
			owner = u
		}
	}
	if phone == "" {
		match = owner
	}
	if phone != "" && openID != "" && owner != nil && owner != match {
		return nil, &models.InvalidInputError{Message: OpenIDTakenMessage}
	}

	now := time.Now()
	if match == nil {
		m.nextID++
		match = &models.User{ID: m.nextID, Phone: phone, OpenID: openID, CreatedAt: now}
		m.users[match.ID] = match
	} else if openID != "" {
		match.OpenID = openID
	}
	match.LastLoginAt = &now
	cp := *match
	return &cp, nil
}

// GetUser loads a user by id
func (m *MemoryAccountStore) GetUser(_ context.Context, userID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, &models.UserNotFoundError{Key: strconv.FormatInt(userID, 10)}
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryAccountStore) record(u *models.User, amount int, txType models.TransactionType, desc string) {
	u.PointsBalance += amount
	m.ledger = append(m.ledger, models.PointsTransaction{
		ID: int64(len(m.ledger) + 1), UserID: u.ID, Type: txType, Amount: amount, Description: desc, CreatedAt: time.Now(),
	})
}

// ApplyPoints adds amount to the balance; deductions never go below zero
func (m *MemoryAccountStore) ApplyPoints(_ context.Context, userID int64, amount int, txType models.TransactionType, desc string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, &models.UserNotFoundError{Key: strconv.FormatInt(userID, 10)}
	}
	if amount < 0 && u.PointsBalance+amount < 0 {
		return 0, &models.InsufficientPointsError{UserID: userID, Balance: u.PointsBalance, Required: -amount}
	}
	m.record(u, amount, txType, desc)
	return u.PointsBalance, nil
}

// AdjustByPhone applies an administrative adjustment
func (m *MemoryAccountStore) AdjustByPhone(_ context.Context, phone string, amount int, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone {
			m.record(u, amount, models.TransactionSystemAdjust, reason)
			return u.PointsBalance, nil
		}
	}
	return 0, &models.UserNotFoundError{Key: phone}
}

// RedeemCode credits an unused, unexpired code
func (m *MemoryAccountStore) RedeemCode(_ context.Context, userID int64, code string, now time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	switch {
	case !ok:
		return 0, 0, &models.BetaCodeError{Code: code, Reason: models.BetaCodeNotFound}
	case c.IsUsed:
		return 0, 0, &models.BetaCodeError{Code: code, Reason: models.BetaCodeAlreadyUsed}
	case now.After(c.ExpireAt):
		return 0, 0, &models.BetaCodeError{Code: code, Reason: models.BetaCodeExpired}
	}
	u, ok := m.users[userID]
	if !ok {
		return 0, 0, &models.UserNotFoundError{Key: strconv.FormatInt(userID, 10)}
	}
	c.IsUsed = true
	c.UsedByUserID = &userID
	m.record(u, c.PointsValue, models.TransactionRedeem, "REDEEM:"+code)
	return c.PointsValue, u.PointsBalance, nil
}

// InsertBetaCodes stores a batch of codes
func (m *MemoryAccountStore) InsertBetaCodes(_ context.Context, codes []models.BetaCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range codes {
		c := codes[i]
		m.codes[c.Code] = &c
	}
	return nil
}

// ListTransactions returns the newest ledger entries first
func (m *MemoryAccountStore) ListTransactions(_ context.Context, userID int64, limit int) ([]models.PointsTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PointsTransaction
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}
