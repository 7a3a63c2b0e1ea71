package routers

import (
	"ScriptToShots-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/run", api.RunProject)
		v1.PUT("/projects/:project_id/script", api.UpdateScript)
	}
	r.GET("/projects/:project_id/ws", api.ProjectProgressWebSocket)
	r.GET("/health", api.HealthCheck)
	return r
}
