package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/middleware"
	"github.com/modelmint/backend/internal/services"
	"github.com/modelmint/backend/pkg/response"
)

type CreditsHandler struct {
	ledger *services.Ledger
}

func NewCreditsHandler(ledger *services.Ledger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

type buyTokensRequest struct {
	Amount int64 `json:"amount" binding:"required"`
	// Key deduplicates retries. Clients may also send it as the
	// Idempotency-Key header, which takes precedence.
	Key string `json:"key"`
}

// BuyTokens handles an idempotent token purchase
// POST /api/credits/buy
func (h *CreditsHandler) BuyTokens(c *gin.Context) {
	var req buyTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = req.Key
	}
	if key == "" || len(key) > 64 {
		response.BadRequest(c, "an idempotency key of at most 64 characters is required")
		return
	}

	balance, err := h.ledger.BuyTokens(c.Request.Context(), middleware.GetUserID(c), req.Amount, key)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"balance": balance})
}

// Balance returns the caller's current token balance
// GET /api/credits/balance
func (h *CreditsHandler) Balance(c *gin.Context) {
	balance, err := h.ledger.Balance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"balance": balance})
}

// History returns the caller's ledger entries and purchases
// GET /api/credits/history
func (h *CreditsHandler) History(c *gin.Context) {
	userID := middleware.GetUserID(c)

	transactions, err := h.ledger.Transactions(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	purchases, err := h.ledger.PurchaseHistory(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"transactions": transactions,
		"purchases":    purchases,
	})
}
