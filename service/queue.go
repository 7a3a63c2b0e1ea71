package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ScriptToShots-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypePipelineRun = "pipeline:run"
)

type RunPayload struct {
	ProjectID string   `json:"project_id"`
	Skip      []string `json:"skip,omitempty"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueRun 流水线执行入队。生成调用都在 worker 协程里阻塞，请求线程立即返回。
func EnqueueRun(projectID string, skip []string) error {
	payload, err := json.Marshal(RunPayload{ProjectID: projectID, Skip: skip})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypePipelineRun, payload,
		asynq.MaxRetry(0),             // 失败不自动重试，需显式重跑
		asynq.Timeout(90*time.Minute), // 三个阶段串行生成，超时上限放宽
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Pipeline Run Enqueued: Project=%s, TaskID=%s", projectID, info.ID)
	return nil
}

// QueueScheduler RunScheduler 的 asynq 实现
type QueueScheduler struct{}

func (QueueScheduler) ScheduleRun(projectID string, skip []string) error {
	return EnqueueRun(projectID, skip)
}

// StartProcessor 启动流水线消费者
func StartProcessor(executor *Executor, concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePipelineRun, func(ctx context.Context, t *asynq.Task) error {
		var payload RunPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}

		skip := make(map[string]bool, len(payload.Skip))
		for _, s := range payload.Skip {
			skip[s] = true
		}

		err := executor.Run(ctx, payload.ProjectID, skip)
		if errors.Is(err, ErrRunInProgress) {
			// 同项目已在执行，合并为空操作
			log.Printf("[Queue] Run coalesced, project %s already running", payload.ProjectID)
			return nil
		}
		if err != nil {
			// 阶段失败已记录在 stage_record 上，队列层不再重试
			log.Printf("[Queue] Pipeline run failed for project %s: %v", payload.ProjectID, err)
		}
		return nil
	})

	log.Printf("Starting Pipeline Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}
