package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"essay-grader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointsService_LoginRequiresIdentity(t *testing.T) {
	svc := NewPointsService(NewMemoryAccountStore())

	_, err := svc.Login(context.Background(), "  ", "")
	var invalid *models.InvalidInputError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "phone or openId is required", invalid.Message)

	first, err := svc.Login(context.Background(), "13800000000", "")
	require.NoError(t, err)
	again, err := svc.Login(context.Background(), "13800000000", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestPointsService_LoginLinksOpenID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAccountStore()
	svc := NewPointsService(store)

	byPhone, err := svc.Login(ctx, "13800000000", "")
	require.NoError(t, err)
	assert.Empty(t, byPhone.OpenID)

	linked, err := svc.Login(ctx, "13800000000", "wx-open-1")
	require.NoError(t, err)
	assert.Equal(t, byPhone.ID, linked.ID)
	assert.Equal(t, "wx-open-1", linked.OpenID)

	// the linked open id now reaches the same account
	byOpenID, err := svc.Login(ctx, "", "wx-open-1")
	require.NoError(t, err)
	assert.Equal(t, byPhone.ID, byOpenID.ID)
	assert.Equal(t, "13800000000", byOpenID.Phone)

	// a phone-only login keeps the link
	again, err := svc.Login(ctx, "13800000000", "")
	require.NoError(t, err)
	assert.Equal(t, "wx-open-1", again.OpenID)

	other, err := svc.Login(ctx, "", "wx-open-2")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "13900000000", "wx-open-2")
	var invalid *models.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, OpenIDTakenMessage, invalid.Message)

	stored, err := store.GetUser(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Phone)
}

func TestPointsService_ChargeAndRefund(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountStore()
	svc := NewPointsService(repo)

	user, err := svc.Login(ctx, "13800000001", "")
	require.NoError(t, err)

	_, err = svc.Charge(ctx, user.ID, 10, "essay")
	var insufficient *models.InsufficientPointsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 0, insufficient.Balance)
	assert.Equal(t, 10, insufficient.Required)

	balance, err := svc.AdjustPoints(ctx, "13800000001", 25, "")
	require.NoError(t, err)
	assert.Equal(t, 25, balance)

	balance, err = svc.Charge(ctx, user.ID, 10, "essay")
	require.NoError(t, err)
	assert.Equal(t, 15, balance)

	balance, err = svc.Refund(ctx, user.ID, 10, "essay failed")
	require.NoError(t, err)
	assert.Equal(t, 25, balance)

	txs, err := svc.Transactions(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, models.TransactionRefund, txs[0].Type)
	assert.Equal(t, models.TransactionSpend, txs[1].Type)
	assert.Equal(t, -10, txs[1].Amount)
	assert.Equal(t, models.TransactionSystemAdjust, txs[2].Type)
	assert.Equal(t, "SYSTEM_ADJUST", txs[2].Description)
}

func TestPointsService_AdjustPointsValidation(t *testing.T) {
	svc := NewPointsService(NewMemoryAccountStore())

	_, err := svc.AdjustPoints(context.Background(), "", 5, "gift")
	var invalid *models.InvalidInputError
	require.True(t, errors.As(err, &invalid))

	_, err = svc.AdjustPoints(context.Background(), "13800000002", 0, "gift")
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "phone and non-zero numeric amount are required", invalid.Message)
}

func TestPointsService_GenerateAndRedeemBetaCodes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountStore()
	svc := NewPointsService(repo)

	codes, expireAt, err := svc.GenerateBetaCodes(ctx, 5, 30, 0)
	require.NoError(t, err)
	require.Len(t, codes, 5)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), expireAt, time.Minute)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Len(t, c, 16)
		assert.Regexp(t, "^[0-9a-f]{16}$", c)
		assert.False(t, seen[c])
		seen[c] = true
	}

	user, err := svc.Login(ctx, "", "wx-openid")
	require.NoError(t, err)

	points, balance, err := svc.Redeem(ctx, user.ID, " "+codes[0]+" ")
	require.NoError(t, err)
	assert.Equal(t, 30, points)
	assert.Equal(t, 30, balance)

	_, _, err = svc.Redeem(ctx, user.ID, codes[0])
	var codeErr *models.BetaCodeError
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, models.BetaCodeAlreadyUsed, codeErr.Reason)

	_, _, err = svc.Redeem(ctx, user.ID, "ffffffffffffffff")
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, models.BetaCodeNotFound, codeErr.Reason)

	require.NoError(t, repo.InsertBetaCodes(ctx, []models.BetaCode{{
		Code: "expired0expired0", PointsValue: 5, ExpireAt: time.Now().Add(-time.Hour),
	}}))
	_, _, err = svc.Redeem(ctx, user.ID, "expired0expired0")
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, models.BetaCodeExpired, codeErr.Reason)

	_, _, err = svc.Redeem(ctx, user.ID, "")
	var invalid *models.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestPointsService_GenerateBetaCodesBounds(t *testing.T) {
	svc := NewPointsService(NewMemoryAccountStore())

	for _, tc := range []struct{ count, points int }{{0, 10}, {201, 10}, {5, 0}} {
		_, _, err := svc.GenerateBetaCodes(context.Background(), tc.count, tc.points, 30)
		var invalid *models.InvalidInputError
		require.True(t, errors.As(err, &invalid), "count=%d points=%d", tc.count, tc.points)
		assert.Equal(t, "count must be 1-200, points must be > 0", invalid.Message)
	}
}
