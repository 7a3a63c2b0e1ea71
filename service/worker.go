package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"ScriptToShots-server/config"
	"ScriptToShots-server/models"

	"github.com/google/uuid"
)

// Judge 外部判定调用（分类器、变更分析的定性判断都走这里）。
// 返回的文本视为不可信输入，由调用方在边界上做严格解析。
type Judge interface {
	Judge(ctx context.Context, prompt string) (string, error)
}

// WorkerClient 外部生成服务的 HTTP 客户端：
// POST /v1/generate 提交任务拿 job_id，之后轮询 GET /v1/jobs/{id} 直到完成。
// 超时与任何生成失败同等处理，核心不自动重试。
type WorkerClient struct {
	Endpoint        string
	GenerateTimeout time.Duration
	PollInterval    time.Duration
}

func NewWorkerClient() *WorkerClient {
	cfg := config.AppConfig.Worker
	return &WorkerClient{
		Endpoint:        cfg.Addr,
		GenerateTimeout: time.Duration(cfg.GenerateTimeoutMinutes) * time.Minute,
		PollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}
}

func (w *WorkerClient) GenerateScript(ctx context.Context, p *models.Project) (string, error) {
	raw, err := w.generate(ctx, p.ID, models.StageScript, map[string]interface{}{
		"user_prompt": p.UserPrompt,
		"title":       p.Title,
	})
	if err != nil {
		return "", err
	}
	var result struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("解析剧本结果失败: %v", err)
	}
	if result.Script == "" {
		return "", fmt.Errorf("剧本结果为空")
	}
	return result.Script, nil
}

func (w *WorkerClient) GenerateStoryboard(ctx context.Context, p *models.Project) (models.FrameList, error) {
	raw, err := w.generate(ctx, p.ID, models.StageStoryboard, map[string]interface{}{
		"script": p.Script,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Frames models.FrameList `json:"frames"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析分镜结果失败: %v", err)
	}
	if len(result.Frames) == 0 {
		return nil, fmt.Errorf("分镜结果中没有 frames 数据")
	}
	for i := range result.Frames {
		if result.Frames[i].FrameNumber == 0 {
			result.Frames[i].FrameNumber = i + 1
		}
	}
	// 帧图片转存到 MinIO；单帧转存失败只保留源地址，不影响分镜结果
	MirrorFrameImages(p.ID, result.Frames)
	return result.Frames, nil
}

func (w *WorkerClient) GenerateShotList(ctx context.Context, p *models.Project) (models.ShotList, error) {
	raw, err := w.generate(ctx, p.ID, models.StageShotList, map[string]interface{}{
		"storyboard": p.Storyboard,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Shots models.ShotList `json:"shots"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析镜头表结果失败: %v", err)
	}
	if len(result.Shots) == 0 {
		return nil, fmt.Errorf("镜头表结果中没有 shots 数据")
	}
	for i := range result.Shots {
		if result.Shots[i].ShotNumber == 0 {
			result.Shots[i].ShotNumber = i + 1
		}
	}
	return result.Shots, nil
}

// Judge 判定调用：POST /v1/judge，同步返回文本
func (w *WorkerClient) Judge(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint+"/v1/judge", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("judge status code: %d", resp.StatusCode)
	}
	var respData struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode judge response failed: %v", err)
	}
	return respData.Text, nil
}

// generate 提交生成请求并轮询结果，返回 result 原始 JSON
func (w *WorkerClient) generate(ctx context.Context, projectID, stage string, params map[string]interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, w.GenerateTimeout)
	defer cancel()

	jobID, err := w.dispatch(ctx, projectID, stage, params)
	if err != nil {
		return nil, err
	}
	log.Printf("[Worker] 任务已提交, Stage=%s, Job ID=%s, 开始轮询结果...", stage, jobID)
	return w.pollJobResult(ctx, jobID)
}

// dispatch 发送 POST 请求，返回 job_id
func (w *WorkerClient) dispatch(ctx context.Context, projectID, stage string, params map[string]interface{}) (string, error) {
	reqBody := map[string]interface{}{
		"id":         uuid.NewString(),
		"project_id": projectID,
		"stage":      stage,
		"parameters": params,
	}

	fullURL := w.Endpoint + "/v1/generate"
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}
	log.Printf("POST %s", fullURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}

	// 优先返回根节点的 id
	if id, ok := respData["id"].(string); ok {
		return id, nil
	}
	if jobID, ok := respData["job_id"].(string); ok {
		return jobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

// pollJobResult 轮询 GET /v1/jobs/{job_id} 直到完成
func (w *WorkerClient) pollJobResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", w.Endpoint, jobID)

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	httpClient := &http.Client{}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %v", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
			if err != nil {
				log.Printf("创建请求失败: %v", err)
				continue
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				// ctx 取消导致的错误会在上面的 <-ctx.Done() 捕获
				log.Printf("轮询网络错误(重试中): %v", err)
				continue
			}

			var job struct {
				ID     string          `json:"id"`
				Status string          `json:"status"`
				Result json.RawMessage `json:"result"`
				Error  string          `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
				resp.Body.Close()
				log.Printf("解析响应失败: %v", err)
				continue
			}
			resp.Body.Close()

			switch job.Status {
			case "finished", "success", "completed", "succeeded":
				return job.Result, nil
			case "failed", "error":
				return nil, fmt.Errorf("worker reported failure: %s", job.Error)
			}
			// 其他状态继续轮询
		}
	}
}
