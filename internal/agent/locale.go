// internal/agent/locale.go
package agent

import (
	"golang.org/x/text/language"
)

// catalog holds the narrative text presented to the model. The language
// setting never changes control flow.
type catalog struct {
	tag language.Tag

	systemIntro  string
	systemRules  string
	outputFormat string
	toolsHeading string
	extraHeading string

	historyEmpty   string
	evaluation     string
	memory         string
	nextGoal       string
	actionResult   string
	stepInfo       string // step, max
	currentTime    string
	currentPage    string
	pageUnknown    string
	stateError     string
	noPageAttached string

	waitAdvisory string // accumulated seconds
}

var catalogs = []*catalog{
	{
		tag: language.AmericanEnglish,
		systemIntro: `You are an AI agent that operates a web page on behalf of a user.
You receive the task, the history of your previous steps and the current state of the page.
Interactive elements are listed as [index]<tag>text</tag>; refer to them by index.`,
		systemRules: `Rules:
- Select exactly one action per step.
- Only use indexes that appear in the current browser state.
- If an action did not have the intended effect, try a different approach instead of repeating it.
- Use "wait" only when the page is visibly loading.
- Use "ask_user" only when the task cannot be completed without information from the user.
- Call "done" as soon as the task is complete, or when it cannot be completed; set success accordingly and put the answer for the user in text.`,
		outputFormat: `Respond with a single JSON object:
{"evaluation_previous_goal": "...", "memory": "...", "next_goal": "...", "action": {"<tool_name>": {<tool input>}}}`,
		toolsHeading: "Available tools:",
		extraHeading: "Additional instructions:",

		historyEmpty:   "No previous steps.",
		evaluation:     "Evaluation of Previous Step",
		memory:         "Memory",
		nextGoal:       "Next Goal",
		actionResult:   "Action Result",
		stepInfo:       "Step %d of %d max possible steps",
		currentTime:    "Current date and time",
		currentPage:    "Current Page",
		pageUnknown:    "unknown",
		stateError:     "Failed to read the page state: %v",
		noPageAttached: "No page is attached.",

		waitAdvisory: "\nYou have waited %d seconds accumulatively. DO NOT wait any longer unless you have a good reason.",
	},
	{
		tag: language.SimplifiedChinese,
		systemIntro: `你是一个代表用户操作网页的 AI 智能体。
你会收到任务、之前步骤的历史记录以及页面的当前状态。
可交互元素以 [index]<tag>text</tag> 的形式列出，请通过 index 引用它们。`,
		systemRules: `规则：
- 每一步只能选择一个动作。
- 只能使用当前浏览器状态中出现的 index。
- 如果某个动作没有达到预期效果，请换一种方法，而不是重复它。
- 只有在页面明显正在加载时才使用 "wait"。
- 只有在没有用户提供的信息就无法完成任务时才使用 "ask_user"。
- 任务完成或确定无法完成时立即调用 "done"，相应设置 success，并把给用户的答复写在 text 中。`,
		outputFormat: `请只回复一个 JSON 对象：
{"evaluation_previous_goal": "...", "memory": "...", "next_goal": "...", "action": {"<tool_name>": {<tool input>}}}`,
		toolsHeading: "可用工具：",
		extraHeading: "附加说明：",

		historyEmpty:   "尚无历史步骤。",
		evaluation:     "上一步评估",
		memory:         "记忆",
		nextGoal:       "下一个目标",
		actionResult:   "动作结果",
		stepInfo:       "第 %d 步，最多 %d 步",
		currentTime:    "当前日期和时间",
		currentPage:    "当前页面",
		pageUnknown:    "未知",
		stateError:     "读取页面状态失败：%v",
		noPageAttached: "没有关联的页面。",

		waitAdvisory: "\n你已经累计等待了 %d 秒。除非有充分理由，否则不要再继续等待。",
	},
}

var languageMatcher = func() language.Matcher {
	tags := make([]language.Tag, len(catalogs))
	for i, c := range catalogs {
		tags[i] = c.tag
	}
	return language.NewMatcher(tags)
}()

// catalogFor returns the closest supported catalog, defaulting to English.
func catalogFor(lang string) *catalog {
	tag, err := language.Parse(lang)
	if err != nil {
		return catalogs[0]
	}
	_, idx, confidence := languageMatcher.Match(tag)
	if confidence == language.No || idx < 0 || idx >= len(catalogs) {
		return catalogs[0]
	}
	return catalogs[idx]
}
