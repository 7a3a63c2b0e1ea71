package service

import (
	"context"

	"ScriptToShots-server/models"
)

// GenerationBackend 各阶段的生成调用，由外部 Worker 服务实现。
// 每个调用以上游产物为输入，阻塞直到生成完成或失败（带超时），核心不自动重试。
type GenerationBackend interface {
	GenerateScript(ctx context.Context, p *models.Project) (string, error)
	GenerateStoryboard(ctx context.Context, p *models.Project) (models.FrameList, error)
	GenerateShotList(ctx context.Context, p *models.Project) (models.ShotList, error)
}

// StageDef 单个阶段的静态描述：名称、上游依赖、生成操作。
// 纯配置，无运行时状态。
type StageDef struct {
	Name     string
	Upstream string // 空串表示无上游（script）
	Generate func(ctx context.Context, p *models.Project) (interface{}, error)
}

// Registry 固定的阶段顺序表：script -> storyboard -> shot_list
type Registry struct {
	stages []StageDef
}

func NewRegistry(backend GenerationBackend) *Registry {
	return &Registry{
		stages: []StageDef{
			{
				Name:     models.StageScript,
				Upstream: "",
				Generate: func(ctx context.Context, p *models.Project) (interface{}, error) {
					return backend.GenerateScript(ctx, p)
				},
			},
			{
				Name:     models.StageStoryboard,
				Upstream: models.StageScript,
				Generate: func(ctx context.Context, p *models.Project) (interface{}, error) {
					return backend.GenerateStoryboard(ctx, p)
				},
			},
			{
				Name:     models.StageShotList,
				Upstream: models.StageStoryboard,
				Generate: func(ctx context.Context, p *models.Project) (interface{}, error) {
					return backend.GenerateShotList(ctx, p)
				},
			},
		},
	}
}

// Stages 按依赖顺序返回全部阶段
func (r *Registry) Stages() []StageDef {
	return r.stages
}

// Names 按依赖顺序返回阶段名
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for _, s := range r.stages {
		names = append(names, s.Name)
	}
	return names
}

// Upstream 返回某阶段的上游阶段名，script 返回空串
func (r *Registry) Upstream(stage string) string {
	for _, s := range r.stages {
		if s.Name == stage {
			return s.Upstream
		}
	}
	return ""
}
