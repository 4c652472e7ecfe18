package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/matchwell/entitlements/internal/billing/domain"
)

func (s *Server) GetEntitlements(c *gin.Context) {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	record, err := s.billingSvc.GetRecord(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

type recordUsageBody struct {
	Counter string `json:"counter"`
	Amount  int    `json:"amount"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	var body recordUsageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.billingSvc.RecordUsage(c.Request.Context(), billingdomain.RecordUsageRequest{
		UserID:  userID,
		Counter: body.Counter,
		Amount:  body.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func parseUserID(value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, billingdomain.ErrInvalidUserID
	}
	return parsed, nil
}
