package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/objective-cascade/internal/http/handlers"
	httpMW "github.com/yungbote/objective-cascade/internal/http/middleware"
	"github.com/yungbote/objective-cascade/internal/observability"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	CampaignHandler *httpH.CampaignHandler
	PlayerHandler   *httpH.PlayerHandler
	ResourceHandler *httpH.ResourceHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Generation pipeline
	if h := cfg.CampaignHandler; h != nil {
		api.POST("/pipelines", h.RunPipelines)
		api.POST("/campaigns/:campaign_id/decompose", h.Decompose)
		api.POST("/campaigns/:campaign_id/scenes", h.AssignScenes)
		api.POST("/campaigns/:campaign_id/resources", h.MapResources)
		api.POST("/campaigns/:campaign_id/validate", h.Validate)
		api.GET("/campaigns/:campaign_id/report", h.LatestReport)
		api.POST("/campaigns/:campaign_id/pipeline", h.RunPipeline)
		api.GET("/campaigns/:campaign_id/pipeline", h.RunStatus)
		api.GET("/campaigns/:campaign_id/objectives", h.ObjectiveHierarchy)
	}

	// Players
	if h := cfg.PlayerHandler; h != nil {
		api.POST("/campaigns/:campaign_id/players/:player_id", h.Join)
		api.POST("/campaigns/:campaign_id/players/:player_id/events", h.RecordEvent)
		api.GET("/campaigns/:campaign_id/players/:player_id/progress", h.Progress)
		api.GET("/campaigns/:campaign_id/players/:player_id/objectives", h.Objectives)
		api.GET("/campaigns/:campaign_id/players/:player_id/accessible-scenes", h.AccessibleScenes)
		api.GET("/campaigns/:campaign_id/players/:player_id/recommendation", h.Recommendation)
		api.GET("/campaigns/:campaign_id/players/:player_id/quests", h.Quests)
	}

	// Resources
	if h := cfg.ResourceHandler; h != nil {
		api.GET("/resources/:resource_id/acquisition-paths", h.AcquisitionPaths)
	}

	return r
}
