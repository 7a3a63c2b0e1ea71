package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"ScriptToShots-server/models"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeVerdict 一次编辑的分析结论。只把它的效果（阶段记录重置）落库，本体不持久化。
type ChangeVerdict struct {
	// Magnitude 变更比例 0~1：变更行数 / max(旧行数, 新行数)
	Magnitude     float64  `json:"magnitude"`
	Significant   bool     `json:"significant"`
	Reason        string   `json:"reason"`
	ChangeSummary string   `json:"change_summary"`
	Invalidates   []string `json:"invalidates"` // 需要失效重跑的下游阶段
}

// Analyzer 两层变更分析：
// 1. 定量（行级 diff，必跑、不会失败）：低于 MinorThreshold 直接判不显著；
// 2. 定性（判定调用，只在定量超阈值时跑）：问下游是否受影响。
// 定性失败时退回纯定量：超过 FallbackThreshold 才算显著。
// 错误方向偏向「不重新生成」，下游生成开销大而什么都不做是安全幂等的。
type Analyzer struct {
	judge             Judge
	MinorThreshold    float64
	FallbackThreshold float64
}

func NewAnalyzer(judge Judge, minorThreshold, fallbackThreshold float64) *Analyzer {
	return &Analyzer{
		judge:             judge,
		MinorThreshold:    minorThreshold,
		FallbackThreshold: fallbackThreshold,
	}
}

// diffStats 定量 diff 的统计结果
type diffStats struct {
	addedLines   []string
	removedLines []string
	totalChanged int
	magnitude    float64
}

// calculateDiff 行级 diff。magnitude = (新增行 + 删除行) / max(旧行数, 新行数)
func calculateDiff(oldText, newText string) diffStats {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var stats diffStats
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.addedLines = append(stats.addedLines, lines...)
		case diffmatchpatch.DiffDelete:
			stats.removedLines = append(stats.removedLines, lines...)
		}
	}
	stats.totalChanged = len(stats.addedLines) + len(stats.removedLines)

	totalLines := len(splitLines(oldText))
	if n := len(splitLines(newText)); n > totalLines {
		totalLines = n
	}
	if totalLines > 0 {
		stats.magnitude = float64(stats.totalChanged) / float64(totalLines)
	}
	return stats
}

const analyzePromptHeader = `You are an expert film production assistant analyzing script changes.

Evaluate whether the changes to this screenplay are SIGNIFICANT enough to warrant regenerating the storyboard and shot list.

SIGNIFICANT (should regenerate): new or removed scenes, location changes, time-of-day changes affecting lighting, new characters affecting framing, action sequence modifications, structural reordering, plot-critical edits.
INSIGNIFICANT (no regeneration): typo fixes, small dialogue tweaks, formatting, punctuation, minor word substitutions.

Respond ONLY with a JSON object:
{"should_regenerate": true/false, "regenerate_storyboard": true/false, "regenerate_shot_list": true/false, "reason": "...", "change_summary": "..."}
`

// Analyze 对比新旧产物并给出结论。永不失败（所有错误都在本地兜底）。
func (a *Analyzer) Analyze(ctx context.Context, oldText, newText, stage string) ChangeVerdict {
	stats := calculateDiff(oldText, newText)
	log.Printf("[Analyzer] 变更分析: +%d/-%d 行, 变更比例 %.1f%%",
		len(stats.addedLines), len(stats.removedLines), stats.magnitude*100)

	// 定量短路：低于阈值视为笔误级编辑，不看内容直接判不显著
	if stats.magnitude < a.MinorThreshold {
		return ChangeVerdict{
			Magnitude:     stats.magnitude,
			Significant:   false,
			Reason:        fmt.Sprintf("Changes are too minor (< %.0f%% of script modified)", a.MinorThreshold*100),
			ChangeSummary: "Minimal edits detected",
		}
	}

	verdict, err := a.analyzeByJudge(ctx, oldText, newText, stats)
	if err != nil {
		log.Printf("[Analyzer] 定性判定失败，退回定量阈值: %v", err)
		verdict = a.fallbackVerdict(stats)
	}
	verdict.Magnitude = stats.magnitude
	if verdict.Significant {
		verdict.Invalidates = dependentsOf(stage)
	}
	return verdict
}

func (a *Analyzer) analyzeByJudge(ctx context.Context, oldText, newText string, stats diffStats) (ChangeVerdict, error) {
	prompt := fmt.Sprintf(`%s
ORIGINAL SCRIPT:
---
%s
---

EDITED SCRIPT:
---
%s
---

CHANGES DETECTED:
Added content (%d lines):
%s
Removed content (%d lines):
%s
Overall: %.1f%% of script modified

Analyze these changes and respond with JSON only:`,
		analyzePromptHeader,
		truncate(oldText, 4000), truncate(newText, 4000),
		len(stats.addedLines), strings.Join(head(stats.addedLines, 10), "\n"),
		len(stats.removedLines), strings.Join(head(stats.removedLines, 10), "\n"),
		stats.magnitude*100)

	text, err := a.judge.Judge(ctx, prompt)
	if err != nil {
		return ChangeVerdict{}, err
	}

	var result struct {
		ShouldRegenerate     *bool  `json:"should_regenerate"`
		RegenerateStoryboard bool   `json:"regenerate_storyboard"`
		RegenerateShotList   bool   `json:"regenerate_shot_list"`
		Reason               string `json:"reason"`
		ChangeSummary        string `json:"change_summary"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &result); err != nil {
		return ChangeVerdict{}, fmt.Errorf("判定输出不是合法 JSON: %v", err)
	}
	if result.ShouldRegenerate == nil {
		return ChangeVerdict{}, fmt.Errorf("判定输出缺少 should_regenerate 字段")
	}
	return ChangeVerdict{
		Significant:   *result.ShouldRegenerate,
		Reason:        result.Reason,
		ChangeSummary: result.ChangeSummary,
	}, nil
}

// fallbackVerdict 纯定量兜底：不看内容，只看比例。
// 绝不因为判定失败本身触发超出比例所能说明的重新生成。
func (a *Analyzer) fallbackVerdict(stats diffStats) ChangeVerdict {
	significant := stats.magnitude > a.FallbackThreshold
	reason := fmt.Sprintf("Minor changes (%.1f%% of script modified)", stats.magnitude*100)
	if significant {
		reason = fmt.Sprintf("Substantial changes (%.1f%% of script modified)", stats.magnitude*100)
	}
	return ChangeVerdict{
		Significant:   significant,
		Reason:        reason,
		ChangeSummary: fmt.Sprintf("Fallback analysis: %d lines changed", stats.totalChanged),
	}
}

// dependentsOf 返回某阶段失效时需要一并失效的下游阶段。
// script 的下游是 storyboard 和 shot_list 两者同时失效：
// shot_list 经 storyboard 传递依赖 script，不允许 storyboard 失效而 shot_list 留旧。
func dependentsOf(stage string) []string {
	switch stage {
	case models.StageScript:
		return []string{models.StageStoryboard, models.StageShotList}
	case models.StageStoryboard:
		return []string{models.StageShotList}
	}
	return nil
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func head(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return append(lines[:n:n], "...")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
