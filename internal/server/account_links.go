package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/matchwell/entitlements/internal/account/domain"
)

type createAccountLinkBody struct {
	ExternalCustomerID string `json:"external_customer_id"`
	UserID             int64  `json:"user_id"`
}

func (s *Server) CreateAccountLink(c *gin.Context) {
	var body createAccountLinkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	link, err := s.accountSvc.CreateLink(c.Request.Context(), accountdomain.CreateLinkRequest{
		ExternalCustomerID: body.ExternalCustomerID,
		UserID:             body.UserID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (s *Server) GetAccountLink(c *gin.Context) {
	externalCustomerID := strings.TrimSpace(c.Param("external_customer_id"))
	if externalCustomerID == "" {
		AbortWithError(c, newValidationError("external_customer_id", "invalid_customer_id", "invalid customer id"))
		return
	}

	userID, err := s.accountSvc.ResolveUser(c.Request.Context(), externalCustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"external_customer_id": externalCustomerID,
		"user_id":              userID,
	})
}
