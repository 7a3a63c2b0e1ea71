package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ScriptToShots-server/models"
)

// ErrRunInProgress 同一项目已有流水线在执行。第二个请求直接拒绝，不排队。
var ErrRunInProgress = errors.New("pipeline run already in progress for this project")

// projectLocks 按项目 ID 的互斥令牌表。TryAcquire 失败即表示该项目正在运行。
type projectLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newProjectLocks() *projectLocks {
	return &projectLocks{held: make(map[string]bool)}
}

func (l *projectLocks) TryAcquire(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[projectID] {
		return false
	}
	l.held[projectID] = true
	return true
}

func (l *projectLocks) Release(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, projectID)
}

// Executor 流水线执行器：持有项目运行锁，按依赖顺序走一遍阶段表。
type Executor struct {
	store    Store
	registry *Registry
	hub      *Hub
	locks    *projectLocks
}

func NewExecutor(store Store, registry *Registry, hub *Hub) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		hub:      hub,
		locks:    newProjectLocks(),
	}
}

// WithProjectLock 在持有项目运行锁的情况下执行 fn。
// 编辑入口重置阶段记录时走这里，与执行器共用同一套锁纪律。
func (e *Executor) WithProjectLock(projectID string, fn func() error) error {
	if !e.locks.TryAcquire(projectID) {
		return ErrRunInProgress
	}
	defer e.locks.Release(projectID)
	return fn()
}

// Run 执行一次流水线：跳过 skip 集合及已 done 的阶段，其余按序生成；
// 任一阶段失败立即停walk（严格顺序依赖，不做部分扇出）。
// 同项目并发调用时只有一个能执行，其余返回 ErrRunInProgress。
func (e *Executor) Run(ctx context.Context, projectID string, skip map[string]bool) error {
	if !e.locks.TryAcquire(projectID) {
		return ErrRunInProgress
	}
	defer e.locks.Release(projectID)

	if _, err := e.store.LoadProject(projectID); err != nil {
		return fmt.Errorf("project not found: %v", err)
	}

	if err := e.store.UpdateProjectStatus(projectID, models.ProjectStatusProcessing); err != nil {
		return fmt.Errorf("更新项目状态失败: %v", err)
	}
	log.Printf("[Pipeline] Starting pipeline for project %s", projectID)

	var walkErr error
	for _, stage := range e.registry.Stages() {
		records, err := e.store.LoadStageRecords(projectID)
		if err != nil {
			walkErr = err
			break
		}
		rec := records[stage.Name]
		if rec == nil {
			walkErr = fmt.Errorf("stage record missing: %s", stage.Name)
			break
		}
		if skip[stage.Name] || rec.Status == models.StageStatusDone {
			continue
		}
		// 上游未 done 绝不触发本阶段的生成调用
		if stage.Upstream != "" {
			up := records[stage.Upstream]
			if up == nil || up.Status != models.StageStatusDone {
				walkErr = fmt.Errorf("upstream stage %s not done, cannot run %s", stage.Upstream, stage.Name)
				e.failStage(projectID, stage.Name, rec, walkErr)
				break
			}
		}

		if err := e.runStage(ctx, projectID, stage, rec); err != nil {
			walkErr = err
			break
		}
	}

	e.settleStatus(projectID, walkErr)
	return walkErr
}

// IsRunning 该项目当前是否持有运行锁
func (e *Executor) IsRunning(projectID string) bool {
	e.locks.mu.Lock()
	defer e.locks.mu.Unlock()
	return e.locks.held[projectID]
}

func (e *Executor) runStage(ctx context.Context, projectID string, stage StageDef, rec *models.StageRecord) error {
	now := time.Now()
	rec.Status = models.StageStatusRunning
	rec.StartedAt = &now
	rec.CompletedAt = nil
	rec.Error = ""
	if err := e.store.SaveStageRecord(projectID, stage.Name, rec); err != nil {
		return err
	}
	e.hub.Publish(projectID, stage.Name, models.StageStatusRunning, fmt.Sprintf("Generating %s...", stage.Name))
	log.Printf("[Pipeline] Running stage %s for project %s", stage.Name, projectID)

	// 每个阶段执行前重新加载项目，拿到上游阶段刚写入的产物
	project, err := e.store.LoadProject(projectID)
	if err != nil {
		e.failStage(projectID, stage.Name, rec, err)
		return err
	}

	artifact, err := stage.Generate(ctx, project)
	if err != nil {
		e.failStage(projectID, stage.Name, rec, err)
		return err
	}

	if err := e.store.SaveArtifact(projectID, stage.Name, artifact); err != nil {
		e.failStage(projectID, stage.Name, rec, err)
		return err
	}

	done := time.Now()
	rec.Status = models.StageStatusDone
	rec.CompletedAt = &done
	if err := e.store.SaveStageRecord(projectID, stage.Name, rec); err != nil {
		return err
	}
	e.hub.Publish(projectID, stage.Name, models.StageStatusDone, fmt.Sprintf("%s generated", stage.Name))
	log.Printf("[Pipeline] Stage %s completed for project %s", stage.Name, projectID)
	return nil
}

func (e *Executor) failStage(projectID, stageName string, rec *models.StageRecord, cause error) {
	now := time.Now()
	rec.Status = models.StageStatusFailed
	rec.CompletedAt = &now
	rec.Error = cause.Error()
	if err := e.store.SaveStageRecord(projectID, stageName, rec); err != nil {
		log.Printf("[Pipeline] 写入失败状态出错: %v", err)
	}
	e.hub.Publish(projectID, stageName, models.StageStatusFailed, fmt.Sprintf("Error: %v", cause))
	log.Printf("[Pipeline] Stage %s failed for project %s: %v", stageName, projectID, cause)
}

// settleStatus 收尾：全部 done -> completed；存在 failed -> failed；否则回到 created
func (e *Executor) settleStatus(projectID string, walkErr error) {
	records, err := e.store.LoadStageRecords(projectID)
	if err != nil {
		log.Printf("[Pipeline] 读取阶段记录失败: %v", err)
		return
	}

	allDone := true
	anyFailed := false
	for _, rec := range records {
		if rec.Status != models.StageStatusDone {
			allDone = false
		}
		if rec.Status == models.StageStatusFailed {
			anyFailed = true
		}
	}

	status := models.ProjectStatusCreated
	switch {
	case anyFailed || walkErr != nil:
		status = models.ProjectStatusFailed
	case allDone:
		status = models.ProjectStatusCompleted
	}
	if err := e.store.UpdateProjectStatus(projectID, status); err != nil {
		log.Printf("[Pipeline] 更新项目状态失败: %v", err)
		return
	}
	if status == models.ProjectStatusCompleted {
		e.hub.Publish(projectID, "project", models.ProjectStatusCompleted, "Project completed successfully")
	}
	log.Printf("[Pipeline] Pipeline finished for project %s, status=%s", projectID, status)
}
