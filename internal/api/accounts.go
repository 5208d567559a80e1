package api

import (
	"net/http"
	"strconv"

	"essay-grader/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// LoginHandler handles POST /api/auth/login
func (h *Handlers) LoginHandler(c *gin.Context) {
	if h.points == nil || h.jwt == nil {
		accountsDisabled(c)
		return
	}

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.points.Login(c.Request.Context(), req.Phone, req.OpenID)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Phone)
	if err != nil {
		writeError(c, err)
		return
	}

	log.WithField("user_id", user.ID).Info("[AUTH] login")
	c.JSON(http.StatusOK, models.LoginResponse{Token: token, User: user})
}

// BalanceHandler handles GET /api/points/balance
func (h *Handlers) BalanceHandler(c *gin.Context) {
	if h.points == nil {
		accountsDisabled(c)
		return
	}
	balance, err := h.points.Balance(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.BalanceResponse{Balance: balance})
}

// RedeemHandler handles POST /api/points/redeem
func (h *Handlers) RedeemHandler(c *gin.Context) {
	if h.points == nil {
		accountsDisabled(c)
		return
	}

	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	points, balance, err := h.points.Redeem(c.Request.Context(), userID(c), req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.RedeemResponse{Points: points, Balance: balance})
}

// TransactionsHandler handles GET /api/points/transactions
func (h *Handlers) TransactionsHandler(c *gin.Context) {
	if h.points == nil {
		accountsDisabled(c)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	txs, err := h.points.Transactions(c.Request.Context(), userID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []models.PointsTransaction{}
	}
	c.JSON(http.StatusOK, models.TransactionsResponse{Transactions: txs})
}

// GenerateCodesHandler handles POST /api/admin/generate-codes
func (h *Handlers) GenerateCodesHandler(c *gin.Context) {
	if h.points == nil {
		accountsDisabled(c)
		return
	}

	var req models.GenerateCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	codes, expireAt, err := h.points.GenerateBetaCodes(c.Request.Context(), req.Count, req.Points, req.ExpireDays)
	if err != nil {
		writeError(c, err)
		return
	}

	log.WithFields(log.Fields{"count": len(codes), "points": req.Points}).Info("[ADMIN] beta codes generated")
	c.JSON(http.StatusCreated, models.GenerateCodesResponse{Count: len(codes), ExpireAt: expireAt, Codes: codes})
}

// AdjustPointsHandler handles POST /api/admin/users/adjust-points
func (h *Handlers) AdjustPointsHandler(c *gin.Context) {
	if h.points == nil {
		accountsDisabled(c)
		return
	}

	var req models.AdjustPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone and non-zero numeric amount are required"})
		return
	}

	balance, err := h.points.AdjustPoints(c.Request.Context(), req.Phone, req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	log.WithFields(log.Fields{"phone": req.Phone, "amount": req.Amount}).Info("[ADMIN] points adjusted")
	c.JSON(http.StatusOK, gin.H{"phone": req.Phone, "balance": balance})
}
