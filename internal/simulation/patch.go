package simulation

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

const (
	toggleFlipRate  = 0.6
	maxTableRows    = 5
	patchSampleRate = 0.2
	patchSampleMin  = 3
	patchSampleMax  = 10
)

// parseTemplatePages 从分配详情中读取模板定义
//
// 接受 {template: {pages}}, {assignment: {template: {pages}}} 或 {pages}。
func parseTemplatePages(detail []byte) []model.TemplatePage {
	var doc struct {
		Pages    []model.TemplatePage `json:"pages"`
		Template *struct {
			Pages []model.TemplatePage `json:"pages"`
		} `json:"template"`
		Assignment *struct {
			Template *struct {
				Pages []model.TemplatePage `json:"pages"`
			} `json:"template"`
		} `json:"assignment"`
	}
	if err := json.Unmarshal(detail, &doc); err != nil {
		return nil
	}
	switch {
	case doc.Template != nil && len(doc.Template.Pages) > 0:
		return doc.Template.Pages
	case doc.Assignment != nil && doc.Assignment.Template != nil:
		return doc.Assignment.Template.Pages
	}
	return doc.Pages
}

func isLanguageToggle(t string) bool {
	return t == model.BlockTypeLanguageToggle || t == model.BlockTypeLanguageToggleV2
}

// flipItems 复制 items，每项以 60% 概率翻转 active
func flipItems(rng *rand.Rand, raw any) []any {
	list, _ := raw.([]any)
	out := make([]any, 0, len(list))
	for _, it := range list {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		c := make(map[string]any, len(item))
		for k, v := range item {
			c[k] = v
		}
		active, _ := c["active"].(bool)
		if rng.Float64() < toggleFlipRate {
			active = !active
		}
		c["active"] = active
		out = append(out, c)
	}
	return out
}

// tableRows expandedRows 为 true 时取 rows，本身是数组时直接使用
func tableRows(props map[string]any) []any {
	switch v := props["expandedRows"].(type) {
	case bool:
		if !v {
			return nil
		}
		rows, _ := props["rows"].([]any)
		return rows
	case []any:
		return v
	}
	return nil
}

func tableLanguages(props map[string]any) []string {
	raw, _ := props["languages"].([]any)
	langs := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			langs = append(langs, s)
		}
	}
	if len(langs) == 0 {
		return defaultLanguages
	}
	return langs
}

// buildPatch 根据模板生成完整的候选 patch
func buildPatch(rng *rand.Rand, pages []model.TemplatePage) map[string]any {
	patch := make(map[string]any)
	for pi, page := range pages {
		for bi, block := range page.Blocks {
			switch {
			case isLanguageToggle(block.Type):
				patch[fmt.Sprintf("%s_%d_%d", block.Type, pi, bi)] = flipItems(rng, block.Props["items"])
			case block.Type == model.BlockTypeTable:
				rows := tableRows(block.Props)
				langs := tableLanguages(block.Props)
				for ri := 0; ri < len(rows) && ri < maxTableRows; ri++ {
					selected := make([]any, 0, len(langs))
					for _, code := range langs {
						selected = append(selected, map[string]any{"code": code, "active": rng.Float64() < toggleFlipRate})
					}
					patch[fmt.Sprintf("table_%d_%d_row_%d", pi, bi, ri)] = map[string]any{"languages": selected}
				}
			}
		}
	}

	// 通用自由字段
	patch["sim_dropdown"] = []string{"A", "B", "C", "D"}[rng.IntN(4)]
	patch["sim_text"] = fmt.Sprintf("note %d", rng.IntN(1000))
	patch["sim_checkbox"] = rng.IntN(2) == 1
	patch["sim_comment"] = strings.Repeat("x", 8+rng.IntN(24))
	return patch
}

// samplePatch 只保留 20% 的 key（至少 3 个，最多 10 个）
func samplePatch(rng *rand.Rand, full map[string]any) map[string]any {
	keys := make([]string, 0, len(full))
	for k := range full {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	n := int(float64(len(keys)) * patchSampleRate)
	n = min(max(n, patchSampleMin), patchSampleMax, len(keys))

	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	out := make(map[string]any, n)
	for _, k := range keys[:n] {
		out[k] = full[k]
	}
	return out
}

// toggleTarget 单独提交的语言切换块
type toggleTarget struct {
	PageIndex  int    `json:"pageIndex"`
	BlockIndex int    `json:"blockIndex"`
	Type       string `json:"type"`
	Items      []any  `json:"items"`
}

// pickToggle 随机选出一个 language_toggle 块并翻转其 items
func pickToggle(rng *rand.Rand, pages []model.TemplatePage) (*toggleTarget, bool) {
	var targets []toggleTarget
	for pi, page := range pages {
		for bi, block := range page.Blocks {
			if isLanguageToggle(block.Type) {
				targets = append(targets, toggleTarget{PageIndex: pi, BlockIndex: bi, Type: block.Type})
			}
		}
	}
	if len(targets) == 0 {
		return nil, false
	}
	t := targets[rng.IntN(len(targets))]
	t.Items = flipItems(rng, pages[t.PageIndex].Blocks[t.BlockIndex].Props["items"])
	return &t, true
}
