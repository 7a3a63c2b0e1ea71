package models

import (
	"time"

	"gorm.io/gorm"
)

// 阶段状态
const (
	// pending: 等待执行器取走执行（或等待上游完成）
	StageStatusPending = "pending"
	// running: 只会在执行器持有项目运行锁时进入
	StageStatusRunning = "running"
	// done: 生成成功，或创建时被分类器判定为用户自带
	StageStatusDone = "done"
	// failed: 生成失败/超时，需显式重跑才会再次执行
	StageStatusFailed = "failed"
)

// StageRecord 每个项目每个阶段一条记录，项目创建时以 pending 状态写入
type StageRecord struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	ProjectId   string     `gorm:"type:varchar(64);index:idx_project_stage,unique" json:"projectId"`
	Stage       string     `gorm:"type:varchar(32);index:idx_project_stage,unique" json:"stage"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// 强制指定表名为 "stage_record"
func (StageRecord) TableName() string {
	return "stage_record"
}

func GetStageRecords(db *gorm.DB, projectID string) ([]StageRecord, error) {
	var recs []StageRecord
	if err := db.Where("project_id = ?", projectID).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// SaveStageRecordGorm 按 (project_id, stage) 覆盖写阶段记录
func SaveStageRecordGorm(db *gorm.DB, projectID, stage string, rec *StageRecord) error {
	updates := map[string]interface{}{
		"status":       rec.Status,
		"started_at":   rec.StartedAt,
		"completed_at": rec.CompletedAt,
		"error":        rec.Error,
		"updated_at":   time.Now(),
	}
	return db.Model(&StageRecord{}).
		Where("project_id = ? AND stage = ?", projectID, stage).
		Updates(updates).Error
}

func DeleteStageRecords(db *gorm.DB, projectID string) error {
	return db.Where("project_id = ?", projectID).Delete(&StageRecord{}).Error
}
