package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 项目整体状态（业务层统一使用）
const (
	ProjectStatusCreated    = "created"    // 项目已创建，流水线尚未启动
	ProjectStatusProcessing = "processing" // 流水线正在执行（持有运行锁期间）
	ProjectStatusCompleted  = "completed"  // 全部阶段 done
	ProjectStatusFailed     = "failed"     // 某阶段 failed 且尚未被重跑重置
)

// 三个流水线阶段，按依赖顺序排列：script -> storyboard -> shot_list
const (
	StageScript     = "script"
	StageStoryboard = "storyboard"
	StageShotList   = "shot_list"
)

// Classification 分类结果：true 表示用户已自带该产物（跳过生成），false 表示需要生成。
// 项目创建时写入一次，之后不再变更。
type Classification struct {
	Script     bool `json:"script"`
	Storyboard bool `json:"storyboard"`
	ShotList   bool `json:"shot_list"`
}

// Has 按阶段名取值
func (c Classification) Has(stage string) bool {
	switch stage {
	case StageScript:
		return c.Script
	case StageStoryboard:
		return c.Storyboard
	case StageShotList:
		return c.ShotList
	}
	return false
}

// Frame 分镜中的一帧。ImageURL 在服务器转存到 MinIO 后指向预签名地址。
type Frame struct {
	FrameNumber int    `json:"frame_number"`
	Scene       string `json:"scene"`
	Description string `json:"description"`
	ShotType    string `json:"shot_type"`
	CameraAngle string `json:"camera_angle"`
	ImageURL    string `json:"image_url,omitempty"`
}

type FrameList []Frame

// Shot 镜头表中的一个镜头，frame_ref 指回对应分镜帧
type Shot struct {
	ShotNumber      int     `json:"shot_number"`
	FrameRef        int     `json:"frame_ref"`
	ShotType        string  `json:"shot_type"`
	CameraAngle     string  `json:"camera_angle"`
	Movement        string  `json:"movement"`
	Lens            string  `json:"lens"`
	DurationSeconds float64 `json:"duration_seconds"`
	Description     string  `json:"description"`
}

type ShotList []Shot

type Project struct {
	ID             string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title          string         `json:"title"`
	UserPrompt     string         `json:"userPrompt"`
	Status         string         `json:"status"`
	Classification Classification `gorm:"type:json" json:"classification"`
	Script         string         `json:"script"`
	Storyboard     FrameList      `gorm:"type:json" json:"storyboard"`
	ShotList       ShotList       `gorm:"type:json" json:"shotList"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (c Classification) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (c *Classification) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, c)
}

// 实现 driver.Valuer 接口（空列表写 NULL，与「尚未生成」区分）
func (f FrameList) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// 实现 sql.Scanner 接口
func (f *FrameList) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, f)
}

// 实现 driver.Valuer 接口
func (s ShotList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// 实现 sql.Scanner 接口
func (s *ShotList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, s)
}
