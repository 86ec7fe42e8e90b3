package simulation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

// TemplateRequest 启动请求中的临时成绩册模板
//
// JSON 可以是 true、模板名字符串或 {name, pages} 对象。
type TemplateRequest struct {
	Name  string               `json:"name,omitempty"`
	Pages []model.TemplatePage `json:"pages,omitempty"`

	disabled bool
}

// Enabled 请求中带了模板且不是 false
func (t *TemplateRequest) Enabled() bool {
	return t != nil && !t.disabled
}

// UnmarshalJSON 兼容 bool / string / object
func (t *TemplateRequest) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "true" || trimmed == "null":
		return nil
	case trimmed == "false":
		t.disabled = true
		return nil
	case strings.HasPrefix(trimmed, `"`):
		return json.Unmarshal(data, &t.Name)
	}
	type plain TemplateRequest
	return json.Unmarshal(data, (*plain)(t))
}

var defaultLanguages = []string{"fr", "en", "ar"}

func languageItems(active ...bool) []any {
	items := make([]any, 0, len(defaultLanguages))
	for i, code := range defaultLanguages {
		items = append(items, map[string]any{
			"code":   code,
			"label":  strings.ToUpper(code),
			"active": i < len(active) && active[i],
		})
	}
	return items
}

// defaultTemplatePages 覆盖 language_toggle、language_toggle_v2、table 三类块
func defaultTemplatePages() []model.TemplatePage {
	rows := make([]any, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, map[string]any{"label": fmt.Sprintf("Compétence %d", i+1)})
	}
	return []model.TemplatePage{
		{
			Title: "Langues",
			Blocks: []model.TemplateBlock{
				{Type: model.BlockTypeLanguageToggle, Props: map[string]any{"items": languageItems(true, false, false)}},
				{Type: model.BlockTypeLanguageToggleV2, Props: map[string]any{"items": languageItems(false, true, false)}},
				{Type: model.BlockTypeText, Props: map[string]any{"text": "Observations"}},
			},
		},
		{
			Title: "Compétences",
			Blocks: []model.TemplateBlock{
				{Type: model.BlockTypeTable, Props: map[string]any{
					"expandedRows": true,
					"rows":         rows,
					"languages":    append([]string{}, defaultLanguages...),
				}},
				{Type: model.BlockTypeLanguageToggle, Props: map[string]any{"items": languageItems(false, false, true)}},
			},
		},
	}
}

// newRunTemplate 为本次执行生成临时模板
func newRunTemplate(runID string, req *TemplateRequest) *model.GradebookTemplate {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Simulation " + shortID(runID)
	}
	pages := req.Pages
	if len(pages) == 0 {
		pages = defaultTemplatePages()
	}
	return &model.GradebookTemplate{
		ID:        uuid.NewString(),
		Name:      name,
		Pages:     pages,
		SeedTag:   runID,
		CreatedAt: time.Now(),
	}
}
