package service

import (
	"fmt"
	"time"

	"ScriptToShots-server/models"

	"gorm.io/gorm"
)

// Store 持久化边界。每个方法只要求单字段粒度的原子性，核心不依赖跨字段事务。
type Store interface {
	CreateProject(p *models.Project) error
	LoadProject(id string) (*models.Project, error)
	DeleteProject(id string) error
	UpdateProjectStatus(id, status string) error

	CreateStageRecords(projectID string, stages []string) error
	LoadStageRecords(projectID string) (map[string]*models.StageRecord, error)
	SaveStageRecord(projectID, stage string, rec *models.StageRecord) error

	// SaveArtifact 按阶段写入产物；value 为 nil 时清空（失效处理）。
	// script -> string, storyboard -> models.FrameList, shot_list -> models.ShotList
	SaveArtifact(projectID, stage string, value interface{}) error
}

// DBStore 生产实现：MySQL（Native SQL + GORM，见 models 包）
type DBStore struct {
	gdb *gorm.DB
}

func NewDBStore(gdb *gorm.DB) *DBStore {
	return &DBStore{gdb: gdb}
}

func (s *DBStore) CreateProject(p *models.Project) error {
	return models.CreateProject(p)
}

func (s *DBStore) LoadProject(id string) (*models.Project, error) {
	p, err := models.GetProjectByID(id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DBStore) DeleteProject(id string) error {
	if err := models.DeleteStageRecords(s.gdb, id); err != nil {
		return err
	}
	return models.DeleteProjectByID(id)
}

func (s *DBStore) UpdateProjectStatus(id, status string) error {
	return models.UpdateProjectStatus(id, status)
}

func (s *DBStore) CreateStageRecords(projectID string, stages []string) error {
	now := time.Now()
	recs := make([]models.StageRecord, 0, len(stages))
	for _, st := range stages {
		recs = append(recs, models.StageRecord{
			ProjectId: projectID,
			Stage:     st,
			Status:    models.StageStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return s.gdb.Create(&recs).Error
}

func (s *DBStore) LoadStageRecords(projectID string) (map[string]*models.StageRecord, error) {
	recs, err := models.GetStageRecords(s.gdb, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.StageRecord, len(recs))
	for i := range recs {
		out[recs[i].Stage] = &recs[i]
	}
	return out, nil
}

func (s *DBStore) SaveStageRecord(projectID, stage string, rec *models.StageRecord) error {
	return models.SaveStageRecordGorm(s.gdb, projectID, stage, rec)
}

func (s *DBStore) SaveArtifact(projectID, stage string, value interface{}) error {
	switch stage {
	case models.StageScript:
		if value == nil {
			return models.SaveProjectScript(projectID, nil)
		}
		text, ok := value.(string)
		if !ok {
			return fmt.Errorf("script artifact: expected string, got %T", value)
		}
		return models.SaveProjectScript(projectID, &text)
	case models.StageStoryboard:
		if value == nil {
			return models.SaveProjectStoryboard(projectID, nil)
		}
		frames, ok := value.(models.FrameList)
		if !ok {
			return fmt.Errorf("storyboard artifact: expected FrameList, got %T", value)
		}
		return models.SaveProjectStoryboard(projectID, frames)
	case models.StageShotList:
		if value == nil {
			return models.SaveProjectShotList(projectID, nil)
		}
		shots, ok := value.(models.ShotList)
		if !ok {
			return fmt.Errorf("shot_list artifact: expected ShotList, got %T", value)
		}
		return models.SaveProjectShotList(projectID, shots)
	}
	return fmt.Errorf("unknown stage: %s", stage)
}
