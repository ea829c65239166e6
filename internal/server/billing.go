package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/creditrail/creditrail/internal/billing/domain"
)

func (s *Server) GetWallet(c *gin.Context) {
	wallet, err := s.billingSvc.GetWallet(c.Request.Context(), s.userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": wallet})
}

func (s *Server) GetSubscription(c *gin.Context) {
	subscription, err := s.billingSvc.GetSubscription(c.Request.Context(), s.userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if subscription == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) ListLedger(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		limit = parsed
	}

	entries, err := s.billingSvc.ListLedger(c.Request.Context(), billingdomain.ListLedgerRequest{
		UserID: s.userID(c),
		Limit:  limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) ListPacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.billingSvc.ListPacks(c.Request.Context())})
}

func (s *Server) Precheck(c *gin.Context) {
	var req billingdomain.PrecheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = s.userID(c)

	resp, err := s.billingSvc.Precheck(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CommitUsage(c *gin.Context) {
	var req billingdomain.CommitUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = s.userID(c)

	resp, err := s.billingSvc.CommitUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req billingdomain.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = s.userID(c)

	resp, err := s.billingSvc.CreateCheckout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
