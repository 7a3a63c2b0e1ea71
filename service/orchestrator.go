package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ScriptToShots-server/models"

	"github.com/google/uuid"
)

// ErrProjectCompleted 项目已全部完成，重跑需要 force
var ErrProjectCompleted = errors.New("project already completed")

// ErrProjectNotFound 项目不存在（与存储写入失败区分，供 API 层映射 404）
var ErrProjectNotFound = errors.New("project not found")

// RunScheduler 把一次流水线执行排到请求线程之外（生产实现为 asynq 队列）
type RunScheduler interface {
	ScheduleRun(projectID string, skip []string) error
}

// Orchestrator 编排入口：创建时决定初始阶段序列，编辑时决定是否失效重跑。
type Orchestrator struct {
	store      Store
	classifier *Classifier
	analyzer   *Analyzer
	registry   *Registry
	executor   *Executor
	scheduler  RunScheduler
}

func NewOrchestrator(store Store, classifier *Classifier, analyzer *Analyzer, registry *Registry, executor *Executor, scheduler RunScheduler) *Orchestrator {
	return &Orchestrator{
		store:      store,
		classifier: classifier,
		analyzer:   analyzer,
		registry:   registry,
		executor:   executor,
		scheduler:  scheduler,
	}
}

// CreateAndRun 创建项目并调度首次流水线执行。
// 分类器判定用户已自带的阶段直接标 done（剧本原文照抄入库，绝不触发生成），
// 其余阶段保持 pending 交给执行器。
func (o *Orchestrator) CreateAndRun(ctx context.Context, userPrompt, title string) (*models.Project, error) {
	cls, extracted := o.classifier.Classify(ctx, userPrompt)

	if title == "" {
		title = fmt.Sprintf("Project %s", time.Now().Format("2006-01-02 15:04"))
	}
	project := &models.Project{
		ID:             uuid.NewString(),
		Title:          title,
		UserPrompt:     userPrompt,
		Status:         models.ProjectStatusCreated,
		Classification: cls,
	}
	if err := o.store.CreateProject(project); err != nil {
		return nil, fmt.Errorf("创建项目失败: %v", err)
	}
	if err := o.store.CreateStageRecords(project.ID, o.registry.Names()); err != nil {
		return nil, fmt.Errorf("创建阶段记录失败: %v", err)
	}

	// 用户自带的阶段：写入提取内容并直接标 done
	var skip []string
	now := time.Now()
	for _, name := range o.registry.Names() {
		if !cls.Has(name) {
			continue
		}
		if name == models.StageScript && extracted != "" {
			if err := o.store.SaveArtifact(project.ID, models.StageScript, extracted); err != nil {
				return nil, fmt.Errorf("保存用户剧本失败: %v", err)
			}
			project.Script = extracted
		}
		rec := &models.StageRecord{
			Status:      models.StageStatusDone,
			CompletedAt: &now,
		}
		if err := o.store.SaveStageRecord(project.ID, name, rec); err != nil {
			return nil, fmt.Errorf("标记阶段完成失败: %v", err)
		}
		skip = append(skip, name)
		log.Printf("[Orchestrator] Stage %s pre-satisfied by user content, marked done", name)
	}

	if err := o.scheduler.ScheduleRun(project.ID, skip); err != nil {
		return nil, fmt.Errorf("调度流水线失败: %v", err)
	}
	log.Printf("[Orchestrator] Created project %s, skip=%v", project.ID, skip)
	return project, nil
}

// ApplyEdit 处理剧本编辑（唯一可编辑的产物，整篇替换）。
// 新内容无条件落库；结论显著时失效下游阶段并调度重跑（skip={script}，
// 编辑后的剧本是权威版本，绝不因编辑重新生成剧本本身）。
// 与运行中的流水线冲突时返回 ErrRunInProgress，内容仍已保存。
func (o *Orchestrator) ApplyEdit(ctx context.Context, projectID, newScript string) (*ChangeVerdict, error) {
	project, err := o.store.LoadProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectNotFound, err)
	}

	oldScript := project.Script
	if oldScript == "" {
		// 没有旧剧本可比，保存即可
		if err := o.store.SaveArtifact(projectID, models.StageScript, newScript); err != nil {
			return nil, err
		}
		return &ChangeVerdict{
			Significant:   false,
			Reason:        "No previous script to compare",
			ChangeSummary: "Script saved",
		}, nil
	}

	verdict := o.analyzer.Analyze(ctx, oldScript, newScript, models.StageScript)

	// 编辑永不被拒绝：先落库再谈重跑
	if err := o.store.SaveArtifact(projectID, models.StageScript, newScript); err != nil {
		return nil, err
	}
	log.Printf("[Orchestrator] Script updated for project %s (significant=%v, %.1f%%)",
		projectID, verdict.Significant, verdict.Magnitude*100)

	if !verdict.Significant {
		return &verdict, nil
	}

	// 失效下游阶段：重置记录、清空产物，与执行器同一套锁纪律
	err = o.executor.WithProjectLock(projectID, func() error {
		for _, stage := range verdict.Invalidates {
			if err := o.resetStage(projectID, stage); err != nil {
				return err
			}
			log.Printf("[Orchestrator] Stage %s invalidated for project %s", stage, projectID)
		}
		return nil
	})
	if err != nil {
		return &verdict, err
	}

	if err := o.scheduler.ScheduleRun(projectID, []string{models.StageScript}); err != nil {
		return &verdict, err
	}
	return &verdict, nil
}

// Rerun 显式重跑（失败阶段的唯一恢复路径）。
// 已 done 的阶段进 skip 集合不再生成；failed 的重置回 pending。
// force 时连 done 的阶段也重置重新生成，只有创建时用户自带的阶段
// （Classification 为 true）永不重新生成。
func (o *Orchestrator) Rerun(ctx context.Context, projectID string, force bool) error {
	project, err := o.store.LoadProject(projectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProjectNotFound, err)
	}
	if project.Status == models.ProjectStatusCompleted && !force {
		return ErrProjectCompleted
	}

	var skip []string
	err = o.executor.WithProjectLock(projectID, func() error {
		records, err := o.store.LoadStageRecords(projectID)
		if err != nil {
			return err
		}
		for _, name := range o.registry.Names() {
			rec := records[name]
			if rec == nil {
				continue
			}
			switch rec.Status {
			case models.StageStatusDone:
				if force && !project.Classification.Has(name) {
					if err := o.resetStage(projectID, name); err != nil {
						return err
					}
					log.Printf("[Orchestrator] Stage %s reset for forced rerun, project %s", name, projectID)
					continue
				}
				skip = append(skip, name)
			case models.StageStatusFailed:
				if err := o.resetStage(projectID, name); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return o.scheduler.ScheduleRun(projectID, skip)
}

// resetStage 阶段记录重置回 pending 并清空对应产物
func (o *Orchestrator) resetStage(projectID, stage string) error {
	rec := &models.StageRecord{Status: models.StageStatusPending}
	if err := o.store.SaveStageRecord(projectID, stage, rec); err != nil {
		return err
	}
	return o.store.SaveArtifact(projectID, stage, nil)
}
