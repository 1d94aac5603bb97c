package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
)

func (s *Server) RecordAssetSnapshot(c *gin.Context) {
	var req assetdomain.RecordSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)

	snapshot, err := s.assetSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": snapshot})
}
