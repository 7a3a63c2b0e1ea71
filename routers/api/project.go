package api

import (
	"errors"
	"net/http"

	"ScriptToShots-server/models"
	"ScriptToShots-server/service"

	"github.com/gin-gonic/gin"
)

var (
	orch  *service.Orchestrator
	hub   *service.Hub
	store service.Store
)

// Setup 注入依赖，在 main.go 中调用
func Setup(o *service.Orchestrator, h *service.Hub, s service.Store) {
	orch = o
	hub = h
	store = s
}

// 创建项目：分类用户输入并立即调度流水线
func CreateProject(c *gin.Context) {
	var req struct {
		UserPrompt string `json:"user_prompt" binding:"required"`
		Title      string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := orch.CreateAndRun(c.Request.Context(), req.UserPrompt, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id":     project.ID,
		"title":          project.Title,
		"status":         project.Status,
		"classification": project.Classification,
	})
}

// 获取项目详情（含阶段记录与产物）
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := store.LoadProject(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	records, err := store.LoadStageRecords(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取阶段记录失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_detail": project,
		"stages":         records,
	})
}

func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")
	if _, err := store.LoadProject(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if err := store.DeleteProject(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "项目已删除", "project_id": projectID})
}

// 显式重跑：失败阶段的唯一恢复路径。已完成的项目需要 force_rerun。
func RunProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		ForceRerun bool `json:"force_rerun"`
	}
	_ = c.ShouldBindJSON(&req)

	err := orch.Rerun(c.Request.Context(), projectID, req.ForceRerun)
	switch {
	case errors.Is(err, service.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
	case errors.Is(err, service.ErrProjectCompleted):
		c.JSON(http.StatusOK, gin.H{"message": "Project already completed", "project_id": projectID})
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "pipeline already running", "project_id": projectID})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Pipeline started", "project_id": projectID})
	}
}

// 剧本编辑：整篇替换，同步返回变更分析结论。
// 内容无条件保存；结论显著时后台重跑下游阶段，进度走 WebSocket。
func UpdateScript(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		Script string `json:"script" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := orch.ApplyEdit(c.Request.Context(), projectID, req.Script)
	if err != nil && verdict == nil {
		// 项目不存在才是 404；保存失败是存储层问题
		if errors.Is(err, service.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"project_id":        projectID,
		"should_regenerate": verdict.Significant,
		"reason":            verdict.Reason,
		"change_summary":    verdict.ChangeSummary,
		"change_percentage": verdict.Magnitude * 100,
	}

	if errors.Is(err, service.ErrRunInProgress) {
		// 内容已保存，但重跑与进行中的流水线冲突
		body["message"] = "Script updated, regeneration rejected (pipeline already running)"
		body["error"] = "pipeline already running"
		c.JSON(http.StatusConflict, body)
		return
	}
	if err != nil {
		body["error"] = err.Error()
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	if verdict.Significant {
		body["message"] = "Script updated and regeneration started"
	} else {
		body["message"] = "Script updated (no regeneration needed)"
	}
	c.JSON(http.StatusOK, body)
}

// 健康检查
func HealthCheck(c *gin.Context) {
	if models.DB == nil || models.DB.Ping() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
}
