// internal/browser/state.go
package browser

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/runtime"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/llmutil"
)

// snapshot mirrors the object returned by snapshotScript.
type snapshot struct {
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Elements       []element `json:"elements"`
	ScrollY        int       `json:"scrollY"`
	ScrollHeight   int       `json:"scrollHeight"`
	ViewportHeight int       `json:"viewportHeight"`
}

type element struct {
	Index int               `json:"index"`
	Tag   string            `json:"tag"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
}

// line renders an element as `[index]<tag attr=value>text />`.
func (e element) line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]<%s", e.Index, e.Tag)

	names := make([]string, 0, len(e.Attrs))
	for name := range e.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%q", name, e.Attrs[name])
	}
	b.WriteString(">")
	b.WriteString(e.Text)
	b.WriteString(" />")
	return b.String()
}

func (s snapshot) state(contentLimit int) *agent.BrowserState {
	lines := make([]string, 0, len(s.Elements))
	for _, el := range s.Elements {
		lines = append(lines, el.line())
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		content = "No interactive elements found."
	}
	if contentLimit > 0 {
		content = llmutil.Truncate(content, contentLimit)
	}

	above := s.ScrollY
	below := s.ScrollHeight - s.ScrollY - s.ViewportHeight
	return &agent.BrowserState{
		URL:     s.URL,
		Title:   s.Title,
		Header:  edgeMarker(above, s.ViewportHeight, "above", "[Start of page]"),
		Content: content,
		Footer:  edgeMarker(below, s.ViewportHeight, "below", "[End of page]"),
	}
}

// edgeMarker describes how much of the page lies beyond one viewport edge.
func edgeMarker(pixels, viewport int, direction, atEdge string) string {
	if pixels <= 4 {
		return atEdge
	}
	pages := 0.0
	if viewport > 0 {
		pages = math.Round(float64(pixels)/float64(viewport)*10) / 10
	}
	return fmt.Sprintf("... %d pixels %s (%.1f pages) - scroll to see more ...", pixels, direction, pages)
}

// callExpression applies a function literal to JSON-encoded arguments.
func callExpression(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument %d: %w", i, err)
		}
		encoded[i] = string(raw)
	}
	return fn + "(" + strings.Join(encoded, ", ") + ")", nil
}

// verticalDelta resolves scroll options into a pixel delta and a page count.
// Pixels take precedence over pages.
func verticalDelta(opts agent.ScrollOptions) (int, float64) {
	sign := 1
	if !opts.Forward {
		sign = -1
	}
	if opts.Pixels > 0 {
		return sign * opts.Pixels, 0
	}
	pages := opts.NumPages
	if pages <= 0 {
		pages = 1
	}
	return 0, float64(sign) * pages
}

func describeVertical(opts agent.ScrollOptions) string {
	direction := "up"
	if opts.Forward {
		direction = "down"
	}
	if opts.Pixels > 0 {
		return fmt.Sprintf("%s by %d pixels", direction, opts.Pixels)
	}
	pages := opts.NumPages
	if pages <= 0 {
		pages = 1
	}
	return fmt.Sprintf("%s by %g pages", direction, pages)
}

// renderRemoteObject turns an evaluation result into text. Strings are
// returned verbatim, other values as JSON, undefined as empty.
func renderRemoteObject(obj *runtime.RemoteObject) string {
	if obj == nil || obj.Type == runtime.TypeUndefined {
		return ""
	}
	if len(obj.Value) == 0 {
		return obj.Description
	}
	if obj.Type == runtime.TypeString {
		var s string
		if err := json.Unmarshal([]byte(obj.Value), &s); err == nil {
			return s
		}
	}
	return string(obj.Value)
}
