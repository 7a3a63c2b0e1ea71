package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ScriptToShots-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(store *memStore, backend *stubBackend) (*Executor, *Hub) {
	hub := NewHub()
	return NewExecutor(store, NewRegistry(backend), hub), hub
}

func TestRunAllStagesInOrder(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	backend := &stubBackend{}
	exec, _ := newTestExecutor(store, backend)

	err := exec.Run(context.Background(), "p1", nil)
	require.NoError(t, err)

	// 场景 A：三个阶段全部生成，且严格按依赖顺序
	assert.Equal(t, []string{models.StageScript, models.StageStoryboard, models.StageShotList}, backend.callLog())

	p, _ := store.LoadProject("p1")
	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
	assert.NotEmpty(t, p.Script)
	assert.NotEmpty(t, p.Storyboard)
	assert.NotEmpty(t, p.ShotList)

	for _, st := range []string{models.StageScript, models.StageStoryboard, models.StageShotList} {
		assert.Equal(t, models.StageStatusDone, store.stageStatus("p1", st))
	}
}

func TestRunSkipsPreSatisfiedStage(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	userScript := "FADE IN:\nINT. GARAGE - DAY\nUser wrote this."
	markDone(store, "p1", models.StageScript, userScript)

	backend := &stubBackend{}
	exec, _ := newTestExecutor(store, backend)

	err := exec.Run(context.Background(), "p1", map[string]bool{models.StageScript: true})
	require.NoError(t, err)

	// 场景 B：用户剧本原样保留，只生成后两个阶段
	assert.Equal(t, []string{models.StageStoryboard, models.StageShotList}, backend.callLog())
	p, _ := store.LoadProject("p1")
	assert.Equal(t, userScript, p.Script)
	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
}

func TestRunStopsWalkOnFailure(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	backend := &stubBackend{
		storyboardFn: func(ctx context.Context, p *models.Project) (models.FrameList, error) {
			return nil, fmt.Errorf("worker reported failure: out of budget")
		},
	}
	exec, _ := newTestExecutor(store, backend)

	err := exec.Run(context.Background(), "p1", nil)
	require.Error(t, err)

	// storyboard 失败即停，shot_list 绝不触发
	assert.Equal(t, []string{models.StageScript, models.StageStoryboard}, backend.callLog())
	assert.Equal(t, models.StageStatusDone, store.stageStatus("p1", models.StageScript))
	assert.Equal(t, models.StageStatusFailed, store.stageStatus("p1", models.StageStoryboard))
	assert.Equal(t, models.StageStatusPending, store.stageStatus("p1", models.StageShotList))

	p, _ := store.LoadProject("p1")
	assert.Equal(t, models.ProjectStatusFailed, p.Status)

	recs, _ := store.LoadStageRecords("p1")
	assert.Contains(t, recs[models.StageStoryboard].Error, "out of budget")
}

func TestRunNeverInvokesStageWithUpstreamNotDone(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	backend := &stubBackend{}
	exec, _ := newTestExecutor(store, backend)

	// script 被 skip 但并没有 done：storyboard 不允许执行
	err := exec.Run(context.Background(), "p1", map[string]bool{models.StageScript: true})
	require.Error(t, err)

	assert.Empty(t, backend.callLog())
	assert.Equal(t, models.StageStatusFailed, store.stageStatus("p1", models.StageStoryboard))
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")

	started := make(chan struct{})
	release := make(chan struct{})
	backend := &stubBackend{
		scriptFn: func(ctx context.Context, p *models.Project) (string, error) {
			close(started)
			<-release
			return "script", nil
		},
	}
	exec, _ := newTestExecutor(store, backend)

	errCh := make(chan error, 1)
	go func() { errCh <- exec.Run(context.Background(), "p1", nil) }()
	<-started

	// 锁被持有期间：项目 processing，第二次 Run 直接拒绝
	assert.True(t, exec.IsRunning("p1"))
	p, _ := store.LoadProject("p1")
	assert.Equal(t, models.ProjectStatusProcessing, p.Status)

	err := exec.Run(context.Background(), "p1", nil)
	assert.True(t, errors.Is(err, ErrRunInProgress))

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, exec.IsRunning("p1"))

	// 恰好一次执行：没有阶段被两次重叠的 walk 留在 running
	p, _ = store.LoadProject("p1")
	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
	assert.Equal(t, []string{models.StageScript, models.StageStoryboard, models.StageShotList}, backend.callLog())
}

func TestRunDifferentProjectsIndependent(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	seedProject(store, "p2")
	backend := &stubBackend{}
	exec, _ := newTestExecutor(store, backend)

	require.NoError(t, exec.Run(context.Background(), "p1", nil))
	require.NoError(t, exec.Run(context.Background(), "p2", nil))

	for _, id := range []string{"p1", "p2"} {
		p, _ := store.LoadProject(id)
		assert.Equal(t, models.ProjectStatusCompleted, p.Status)
	}
}

func TestRunPublishesOrderedProgressEvents(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	backend := &stubBackend{}
	exec, hub := newTestExecutor(store, backend)

	ch, cancel := hub.Subscribe("p1")
	defer cancel()

	require.NoError(t, exec.Run(context.Background(), "p1", nil))

	// 3 阶段 × (running + done) + 最终 completed
	evs := collect(ch, 7, t)
	want := []struct{ stage, status string }{
		{models.StageScript, models.StageStatusRunning},
		{models.StageScript, models.StageStatusDone},
		{models.StageStoryboard, models.StageStatusRunning},
		{models.StageStoryboard, models.StageStatusDone},
		{models.StageShotList, models.StageStatusRunning},
		{models.StageShotList, models.StageStatusDone},
		{"project", models.ProjectStatusCompleted},
	}
	for i, w := range want {
		assert.Equal(t, w.stage, evs[i].Stage, "event %d", i)
		assert.Equal(t, w.status, evs[i].Status, "event %d", i)
		assert.Equal(t, uint64(i+1), evs[i].Seq)
	}
}

func TestRunFailurePublishesErrorEvent(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	backend := &stubBackend{
		scriptFn: func(ctx context.Context, p *models.Project) (string, error) {
			return "", fmt.Errorf("generation timed out")
		},
	}
	exec, hub := newTestExecutor(store, backend)

	ch, cancel := hub.Subscribe("p1")
	defer cancel()

	require.Error(t, exec.Run(context.Background(), "p1", nil))

	evs := collect(ch, 2, t)
	assert.Equal(t, models.StageStatusRunning, evs[0].Status)
	assert.Equal(t, models.StageStatusFailed, evs[1].Status)
	assert.Contains(t, evs[1].Message, "generation timed out")

	// failed 是终态，不重跑就不会再动
	select {
	case ev := <-ch:
		t.Fatalf("失败后不应再有事件: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCompletedIffAllStagesDone(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	backend := &stubBackend{}
	exec, _ := newTestExecutor(store, backend)

	// 只有 script 在 skip 集里但未 done -> walk 失败，项目不可能是 completed
	_ = exec.Run(context.Background(), "p1", map[string]bool{models.StageScript: true})
	p, _ := store.LoadProject("p1")
	assert.NotEqual(t, models.ProjectStatusCompleted, p.Status)

	// 全部 done -> completed
	for _, st := range []string{models.StageScript, models.StageStoryboard, models.StageShotList} {
		markDone(store, "p1", st, nil)
	}
	require.NoError(t, exec.Run(context.Background(), "p1", nil))
	p, _ = store.LoadProject("p1")
	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
}
