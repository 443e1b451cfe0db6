package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/objective-cascade/internal/http/response"
	"github.com/yungbote/objective-cascade/internal/modules/cascade"
	"github.com/yungbote/objective-cascade/internal/temporalx/cascaderun"
)

// PipelineLauncher hands a pipeline run to the durable workflow engine.
type PipelineLauncher interface {
	Start(ctx context.Context, req cascade.PipelineRequest) (*cascaderun.Execution, error)
}

type CampaignHandler struct {
	engine   cascade.Usecases
	launcher PipelineLauncher
}

// NewCampaignHandler serves the generation pipeline. launcher may be nil, in
// which case async pipeline requests are rejected.
func NewCampaignHandler(engine cascade.Usecases, launcher PipelineLauncher) *CampaignHandler {
	return &CampaignHandler{engine: engine, launcher: launcher}
}

// POST /api/campaigns/:campaign_id/decompose
func (h *CampaignHandler) Decompose(c *gin.Context) {
	var req cascade.DecomposeRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CampaignID = c.Param("campaign_id")
	out, err := h.engine.Decompose(c.Request.Context(), req)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"decomposition": out})
}

// POST /api/campaigns/:campaign_id/scenes
func (h *CampaignHandler) AssignScenes(c *gin.Context) {
	var req cascade.AssignRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CampaignID = c.Param("campaign_id")
	out, err := h.engine.AssignScenes(c.Request.Context(), req)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assignment": out})
}

// POST /api/campaigns/:campaign_id/resources
func (h *CampaignHandler) MapResources(c *gin.Context) {
	var req cascade.ResourcesRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CampaignID = c.Param("campaign_id")
	out, err := h.engine.MapResources(c.Request.Context(), req)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"mapping": out})
}

// POST /api/campaigns/:campaign_id/validate
func (h *CampaignHandler) Validate(c *gin.Context) {
	rep, err := h.engine.Validate(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"report": rep, "blocking": rep.Blocking()})
}

// GET /api/campaigns/:campaign_id/report
func (h *CampaignHandler) LatestReport(c *gin.Context) {
	rep, err := h.engine.LatestReport(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"report": rep, "blocking": rep.Blocking()})
}

// POST /api/campaigns/:campaign_id/pipeline?resume=true|async=true
func (h *CampaignHandler) RunPipeline(c *gin.Context) {
	var req cascade.PipelineRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CampaignID = c.Param("campaign_id")
	ctx := c.Request.Context()

	if queryBool(c, "async") {
		if h.launcher == nil {
			response.RespondError(c, http.StatusNotImplemented, "async_unavailable", nil)
			return
		}
		exec, err := h.launcher.Start(ctx, req)
		if err != nil {
			response.RespondEngineError(c, err)
			return
		}
		response.RespondAccepted(c, gin.H{"execution": exec})
		return
	}

	run := h.engine.RunPipeline
	if queryBool(c, "resume") {
		run = h.engine.ResumePipeline
	}
	res, err := run(ctx, req)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"result": res})
}

// GET /api/campaigns/:campaign_id/pipeline
func (h *CampaignHandler) RunStatus(c *gin.Context) {
	run, err := h.engine.RunStatus(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

type runManyRequest struct {
	Campaigns []cascade.PipelineRequest `json:"campaigns"`
}

type outcomeDTO struct {
	CampaignID string                  `json:"campaign_id"`
	Result     *cascade.PipelineResult `json:"result,omitempty"`
	Error      *response.APIError      `json:"error,omitempty"`
}

// POST /api/pipelines
func (h *CampaignHandler) RunPipelines(c *gin.Context) {
	var req runManyRequest
	if !bindJSON(c, &req) {
		return
	}
	outcomes := h.engine.RunPipelines(c.Request.Context(), req.Campaigns)
	out := make([]outcomeDTO, 0, len(outcomes))
	for _, o := range outcomes {
		dto := outcomeDTO{CampaignID: o.CampaignID, Result: o.Result}
		if o.Err != nil {
			dto.Error = &response.APIError{Message: o.Err.Error(), Code: string(codeOf(o.Err))}
		}
		out = append(out, dto)
	}
	response.RespondOK(c, gin.H{"outcomes": out})
}

// GET /api/campaigns/:campaign_id/objectives
func (h *CampaignHandler) ObjectiveHierarchy(c *gin.Context) {
	hier, err := h.engine.ObjectiveHierarchy(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"hierarchy": hier})
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
