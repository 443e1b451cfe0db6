package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/objective-cascade/internal/http/response"
	"github.com/yungbote/objective-cascade/internal/modules/cascade"
)

type ResourceHandler struct {
	engine cascade.Usecases
}

func NewResourceHandler(engine cascade.Usecases) *ResourceHandler {
	return &ResourceHandler{engine: engine}
}

// GET /api/resources/:resource_id/acquisition-paths
func (h *ResourceHandler) AcquisitionPaths(c *gin.Context) {
	paths, err := h.engine.AcquisitionPaths(c.Request.Context(), c.Param("resource_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"paths": paths})
}
