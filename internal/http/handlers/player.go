package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/objective-cascade/internal/http/response"
	"github.com/yungbote/objective-cascade/internal/modules/cascade"
)

type PlayerHandler struct {
	engine cascade.Usecases
}

func NewPlayerHandler(engine cascade.Usecases) *PlayerHandler {
	return &PlayerHandler{engine: engine}
}

// POST /api/campaigns/:campaign_id/players/:player_id
func (h *PlayerHandler) Join(c *gin.Context) {
	p, err := h.engine.JoinCampaign(c.Request.Context(), c.Param("player_id"), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": p})
}

// POST /api/campaigns/:campaign_id/players/:player_id/events
func (h *PlayerHandler) RecordEvent(c *gin.Context) {
	var ev cascade.ProgressEvent
	if !bindJSON(c, &ev) {
		return
	}
	if ev.Kind == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", errMissingKind)
		return
	}
	res, err := h.engine.RecordProgress(c.Request.Context(), c.Param("player_id"), c.Param("campaign_id"), ev)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"progress":             res.Progress,
		"completed_objectives": res.Completed,
	})
}

// GET /api/campaigns/:campaign_id/players/:player_id/progress
func (h *PlayerHandler) Progress(c *gin.Context) {
	p, err := h.engine.PlayerProgress(c.Request.Context(), c.Param("player_id"), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": p})
}

// GET /api/campaigns/:campaign_id/players/:player_id/objectives
func (h *PlayerHandler) Objectives(c *gin.Context) {
	hier, err := h.engine.PlayerObjectiveHierarchy(c.Request.Context(), c.Param("campaign_id"), c.Param("player_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"hierarchy": hier})
}

// GET /api/campaigns/:campaign_id/players/:player_id/accessible-scenes
func (h *PlayerHandler) AccessibleScenes(c *gin.Context) {
	scenes, err := h.engine.AccessibleScenes(c.Request.Context(), c.Param("player_id"), c.Param("campaign_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"scenes": scenes})
}

// GET /api/campaigns/:campaign_id/players/:player_id/recommendation?dimension=
func (h *PlayerHandler) Recommendation(c *gin.Context) {
	rec, err := h.engine.RecommendNextScene(c.Request.Context(), c.Param("player_id"), c.Param("campaign_id"), c.Query("dimension"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"recommendation": rec})
}

// GET /api/campaigns/:campaign_id/players/:player_id/quests
func (h *PlayerHandler) Quests(c *gin.Context) {
	quests, err := h.engine.QuestCompletionStatus(c.Request.Context(), c.Param("campaign_id"), c.Param("player_id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quests": quests})
}
