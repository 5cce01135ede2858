package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/creditline/internal/credit/domain"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
)

func (s *Server) GetUserCredits(c *gin.Context) {
	view, err := s.creditSvc.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListUserCreditLogs(c *gin.Context) {
	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	req := creditdomain.ListLogsRequest{
		UserID:    c.Param("id"),
		PageToken: strings.TrimSpace(c.Query("page_token")),
	}
	if pageSize != nil {
		req.PageSize = *pageSize
	}

	resp, err := s.creditSvc.ListLogs(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":            resp.Logs,
		"next_page_token": resp.NextPageToken,
	})
}

func (s *Server) ReconcileUserCredits(c *gin.Context) {
	result, err := s.creditSvc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type syncSubscriptionRequest struct {
	CustomerID string            `json:"customer_id"`
	Metadata   map[string]string `json:"metadata"`
}

// SyncSubscription refetches a subscription from the processor, optionally
// with operator-supplied metadata for a user the resolver could not find.
func (s *Server) SyncSubscription(c *gin.Context) {
	var req syncSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	sub, err := s.subscriptionSvc.Sync(c.Request.Context(), subscriptiondomain.SyncRequest{
		SubscriptionID:  c.Param("id"),
		CustomerID:      req.CustomerID,
		InitialMetadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}
