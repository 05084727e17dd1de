package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/rankings", handler.GetRankings)
		api.GET("/search", handler.SearchEntities)
		api.GET("/entities/:geo_type/:id", handler.GetEntityScore)
		api.GET("/entities/:geo_type/:id/rank", handler.GetEntityRank)
		api.GET("/entities/:geo_type/:id/alternatives", handler.GetAlternatives)
		api.POST("/refresh", handler.IngestRefreshBatch)
		api.GET("/cache/stats", handler.GetCacheStats)
		api.POST("/geocode/backfill", handler.RunCoordinateBackfill)
	}
}
