package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ScriptToShots-server/models"
)

// memStore 内存版 Store，测试用
type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	records  map[string]map[string]*models.StageRecord
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[string]*models.Project),
		records:  make(map[string]map[string]*models.StageRecord),
	}
}

func (s *memStore) CreateProject(p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) LoadProject(id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	delete(s.records, id)
	return nil
}

func (s *memStore) UpdateProjectStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	p.Status = status
	return nil
}

func (s *memStore) CreateStageRecords(projectID string, stages []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make(map[string]*models.StageRecord, len(stages))
	for _, st := range stages {
		recs[st] = &models.StageRecord{
			ProjectId: projectID,
			Stage:     st,
			Status:    models.StageStatusPending,
		}
	}
	s.records[projectID] = recs
	return nil
}

func (s *memStore) LoadStageRecords(projectID string) (map[string]*models.StageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.StageRecord)
	for st, rec := range s.records[projectID] {
		cp := *rec
		out[st] = &cp
	}
	return out, nil
}

func (s *memStore) SaveStageRecord(projectID, stage string, rec *models.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.records[projectID]
	if !ok {
		return fmt.Errorf("no stage records for %s", projectID)
	}
	cp := *rec
	cp.ProjectId = projectID
	cp.Stage = stage
	recs[stage] = &cp
	return nil
}

func (s *memStore) SaveArtifact(projectID, stage string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	switch stage {
	case models.StageScript:
		if value == nil {
			p.Script = ""
		} else {
			p.Script = value.(string)
		}
	case models.StageStoryboard:
		if value == nil {
			p.Storyboard = nil
		} else {
			p.Storyboard = value.(models.FrameList)
		}
	case models.StageShotList:
		if value == nil {
			p.ShotList = nil
		} else {
			p.ShotList = value.(models.ShotList)
		}
	default:
		return fmt.Errorf("unknown stage: %s", stage)
	}
	return nil
}

// stageStatus 便捷读取
func (s *memStore) stageStatus(projectID, stage string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recs, ok := s.records[projectID]; ok {
		if rec, ok := recs[stage]; ok {
			return rec.Status
		}
	}
	return ""
}

// stubBackend 可编程的生成后端，默认返回固定产物并记录调用顺序
type stubBackend struct {
	mu    sync.Mutex
	calls []string

	scriptFn     func(ctx context.Context, p *models.Project) (string, error)
	storyboardFn func(ctx context.Context, p *models.Project) (models.FrameList, error)
	shotListFn   func(ctx context.Context, p *models.Project) (models.ShotList, error)
}

func (b *stubBackend) record(stage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, stage)
}

func (b *stubBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *stubBackend) GenerateScript(ctx context.Context, p *models.Project) (string, error) {
	b.record(models.StageScript)
	if b.scriptFn != nil {
		return b.scriptFn(ctx, p)
	}
	return "FADE IN:\nINT. LAB - NIGHT\nGenerated script.", nil
}

func (b *stubBackend) GenerateStoryboard(ctx context.Context, p *models.Project) (models.FrameList, error) {
	b.record(models.StageStoryboard)
	if b.storyboardFn != nil {
		return b.storyboardFn(ctx, p)
	}
	return models.FrameList{{FrameNumber: 1, Scene: "INT. LAB - NIGHT", Description: "establishing shot"}}, nil
}

func (b *stubBackend) GenerateShotList(ctx context.Context, p *models.Project) (models.ShotList, error) {
	b.record(models.StageShotList)
	if b.shotListFn != nil {
		return b.shotListFn(ctx, p)
	}
	return models.ShotList{{ShotNumber: 1, FrameRef: 1, ShotType: "WS", DurationSeconds: 4}}, nil
}

// stubJudge 可编程判定调用
type stubJudge struct {
	mu     sync.Mutex
	called int
	fn     func(prompt string) (string, error)
}

func (j *stubJudge) Judge(ctx context.Context, prompt string) (string, error) {
	j.mu.Lock()
	j.called++
	j.mu.Unlock()
	if j.fn != nil {
		return j.fn(prompt)
	}
	return "", fmt.Errorf("judge unavailable")
}

func (j *stubJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.called
}

// inlineScheduler 同步执行流水线，测试里省去队列
type inlineScheduler struct {
	executor *Executor
	mu       sync.Mutex
	runs     [][]string // 每次调度的 skip 集合
}

func (s *inlineScheduler) ScheduleRun(projectID string, skip []string) error {
	s.mu.Lock()
	s.runs = append(s.runs, append([]string(nil), skip...))
	s.mu.Unlock()
	if s.executor == nil {
		return nil
	}
	skipSet := make(map[string]bool, len(skip))
	for _, st := range skip {
		skipSet[st] = true
	}
	_ = s.executor.Run(context.Background(), projectID, skipSet)
	return nil
}

func (s *inlineScheduler) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// seedProject 建一个带阶段记录的项目
func seedProject(store *memStore, id string) *models.Project {
	p := &models.Project{
		ID:         id,
		Title:      "test project",
		UserPrompt: "write something",
		Status:     models.ProjectStatusCreated,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	_ = store.CreateProject(p)
	_ = store.CreateStageRecords(id, []string{models.StageScript, models.StageStoryboard, models.StageShotList})
	return p
}

// markDone 把阶段直接置为 done 并写入产物
func markDone(store *memStore, projectID string, stage string, artifact interface{}) {
	now := time.Now()
	_ = store.SaveStageRecord(projectID, stage, &models.StageRecord{
		Status:      models.StageStatusDone,
		CompletedAt: &now,
	})
	if artifact != nil {
		_ = store.SaveArtifact(projectID, stage, artifact)
	}
}

// scriptLines 生成 n 行的测试剧本
func scriptLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("Line %d: the hero walks slowly through the corridor.", i+1)
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
