package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"ScriptToShots-server/models"
)

// Classifier 判断用户输入里已经自带了哪些阶段产物。
// 反向语义：true = 用户已经有了（跳过生成），false = 需要生成。
// 判定调用失败时退回关键词/结构启发式；启发式也拿不准时一律 false。
// 宁可多生成，绝不静默跳过用户没提供的阶段。
type Classifier struct {
	judge Judge
}

func NewClassifier(judge Judge) *Classifier {
	return &Classifier{judge: judge}
}

const classifyPrompt = `You are an expert content classifier for a filmmaker pre-production system.

Analyze the user's prompt and determine what content they ALREADY HAVE vs what they want GENERATED.

INVERSE LOGIC:
- Return TRUE if the user ALREADY PROVIDED that content (it exists in their prompt)
- Return FALSE if the user NEEDS the system to generate it

Content types:
1. script: a complete screenplay in proper format (FADE IN, scene headings, dialogue)
2. storyboard: visual scene breakdowns with frame descriptions
3. shot_list: technical breakdown with camera specs and shot details

Default to FALSE if uncertain.

Respond ONLY with valid JSON:
{"script": true/false, "storyboard": true/false, "shot_list": true/false}

User prompt to classify:
`

// Classify 分类用户输入，附带提取出的剧本原文（未提供时为空串）。
// 永不失败：所有错误都在本地通过启发式兜底。
func (c *Classifier) Classify(ctx context.Context, prompt string) (models.Classification, string) {
	cls, err := c.classifyByJudge(ctx, prompt)
	if err != nil {
		log.Printf("[Classifier] 判定调用失败，使用启发式兜底: %v", err)
		cls = heuristicClassification(prompt)
	}

	extracted := ""
	if cls.Script {
		extracted = ExtractUserScript(prompt)
		if extracted == "" {
			// 分类说有剧本但提取不出来，按没有处理（不能让下游拿空剧本生成）
			log.Printf("[Classifier] 分类判定用户自带剧本但无法提取，按需生成处理")
			cls.Script = false
		}
	}
	return cls, extracted
}

func (c *Classifier) classifyByJudge(ctx context.Context, prompt string) (models.Classification, error) {
	var cls models.Classification
	text, err := c.judge.Judge(ctx, classifyPrompt+prompt)
	if err != nil {
		return cls, err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &cls); err != nil {
		return cls, err
	}
	return cls, nil
}

// screenplay 结构标记，两个以上即认为整段文本是剧本
var screenplayMarkers = []string{"fade in", "int.", "ext.", "fade out", "cut to:", "dissolve to:"}

// heuristicClassification 关键词启发式兜底
func heuristicClassification(prompt string) models.Classification {
	lower := strings.ToLower(prompt)

	scriptIndicators := []string{
		"here's my script", "here is my script", "i have a script", "my script:",
		"existing script", "attached script", "script i wrote", "script:",
		"fade in:", "int.", "ext.", "fade out",
	}
	hasScript := containsAny(lower, scriptIndicators)
	if !hasScript && len(prompt) > 200 && countMarkers(lower) >= 2 {
		// 输入本身就是 screenplay 格式
		hasScript = true
	}

	hasStoryboard := containsAny(lower, []string{
		"i have a storyboard", "i have storyboard", "existing storyboard",
		"my storyboard", "attached storyboard", "here's my storyboard",
	})
	hasShotList := containsAny(lower, []string{
		"i have a shot list", "i have shot list", "existing shot list",
		"my shot list", "attached shot list", "here's my shot list",
	})

	cls := models.Classification{Script: hasScript, Storyboard: hasStoryboard, ShotList: hasShotList}
	log.Printf("[Classifier] Fallback classification: %+v", cls)
	return cls
}

// ExtractUserScript 从输入中原样提取用户自带的剧本。
// 内容保全是硬性要求：只做定位和裁剪，绝不改写。
func ExtractUserScript(prompt string) string {
	lower := strings.ToLower(prompt)

	indicators := []string{
		"here's my script:",
		"here is my script:",
		"my script:",
		"script:",
		"here's the script:",
	}
	for _, indicator := range indicators {
		idx := strings.Index(lower, indicator)
		if idx < 0 {
			continue
		}
		script := strings.TrimSpace(prompt[idx+len(indicator):])

		// 去掉结尾的后续指令（例如 "...FADE OUT. Now create a storyboard"）
		trailingPhrases := []string{
			"\n\nnow create",
			"\n\ngenerate a",
			"\n\ncreate a",
			"\n\ngenerate the",
			"\n\nmake a",
		}
		scriptLower := strings.ToLower(script)
		for _, phrase := range trailingPhrases {
			if cut := strings.Index(scriptLower, phrase); cut >= 0 {
				script = strings.TrimSpace(script[:cut])
				break
			}
		}

		if len(script) > 50 {
			log.Printf("[Classifier] 提取到用户剧本 (%d 字符)", len(script))
			return script
		}
	}

	// 整段输入看起来就是一个剧本
	if countMarkers(lower) >= 2 && len(prompt) > 200 {
		log.Printf("[Classifier] 整段输入即为剧本 (%d 字符)", len(prompt))
		return strings.TrimSpace(prompt)
	}

	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func countMarkers(lower string) int {
	count := 0
	for _, m := range screenplayMarkers {
		if strings.Contains(lower, m) {
			count++
		}
	}
	return count
}

// stripCodeFence 去掉判定输出里可能包裹的 markdown 代码块
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
		return strings.TrimSpace(text)
	}
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
		return strings.TrimSpace(text)
	}
	return text
}
