// Package recognition talks to the Gemini vision API: document
// registration, title-block metadata detection, and structured per-page
// extraction.
package recognition

// PagePayload is the structured result of one page extraction. Optional
// fields stay nil when the model omits them; marks are never invented
// client-side.
type PagePayload struct {
	PageInfo      *PageInfo          `json:"page_info,omitempty"`
	Components    []ComponentData    `json:"components"`
	Connections   []ConnectionData   `json:"connections"`
	WireLabels    []WireLabelData    `json:"wire_labels"`
	Continuations []ContinuationData `json:"continuations,omitempty"`
}

// PageInfo echoes which page the payload describes.
type PageInfo struct {
	PDFPageIndex        int      `json:"pdf_page_index"`
	SchematicPageNumber *int     `json:"schematic_page_number,omitempty"`
	PageWidth           *float64 `json:"page_width,omitempty"`
	PageHeight          *float64 `json:"page_height,omitempty"`
}

// ComponentData is one recognized circuit element. Mark is the only
// required field.
type ComponentData struct {
	Symbol      *string  `json:"symbol,omitempty"`
	Name        *string  `json:"name,omitempty"`
	Mark        string   `json:"mark"`
	Type        *string  `json:"type,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// ConnectionData is one wire between two marks.
type ConnectionData struct {
	FromMark     *string     `json:"from_component_mark,omitempty"`
	ToMark       *string     `json:"to_component_mark,omitempty"`
	WireLabel    *string     `json:"wire_label,omitempty"`
	TerminalFrom *string     `json:"terminal_from,omitempty"`
	TerminalTo   *string     `json:"terminal_to,omitempty"`
	Path         [][]float64 `json:"path,omitempty"`
	External     bool        `json:"is_external,omitempty"`
}

// WireLabelData is one wire number glyph.
type WireLabelData struct {
	Label string   `json:"label"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
}

// ContinuationData is an arrow pointing at another page.
type ContinuationData struct {
	FromMark   *string `json:"from_component_mark,omitempty"`
	ToPageHint *string `json:"to_page_hint,omitempty"`
	Direction  *string `json:"direction,omitempty"`
}

// extractionSchema is the JSON Schema sent as responseSchema so the model
// must answer in the shape PagePayload unmarshals from.
var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"page_info": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pdf_page_index":        map[string]any{"type": "integer"},
				"schematic_page_number": map[string]any{"type": "integer"},
				"page_width":            map[string]any{"type": "number"},
				"page_height":           map[string]any{"type": "number"},
			},
			"required": []string{"pdf_page_index"},
		},
		"components": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":      map[string]any{"type": "string"},
					"name":        map[string]any{"type": "string"},
					"mark":        map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"x":           map[string]any{"type": "number"},
					"y":           map[string]any{"type": "number"},
					"width":       map[string]any{"type": "number"},
					"height":      map[string]any{"type": "number"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"mark"},
			},
		},
		"connections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_component_mark": map[string]any{"type": "string"},
					"to_component_mark":   map[string]any{"type": "string"},
					"wire_label":          map[string]any{"type": "string"},
					"terminal_from":       map[string]any{"type": "string"},
					"terminal_to":         map[string]any{"type": "string"},
					"path": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "number"},
						},
					},
					"is_external": map[string]any{"type": "boolean"},
				},
			},
		},
		"wire_labels": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label": map[string]any{"type": "string"},
					"x":     map[string]any{"type": "number"},
					"y":     map[string]any{"type": "number"},
				},
				"required": []string{"label"},
			},
		},
		"continuations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_component_mark": map[string]any{"type": "string"},
					"to_page_hint":        map[string]any{"type": "string"},
					"direction":           map[string]any{"type": "string"},
				},
			},
		},
	},
	"required": []string{"components", "connections", "wire_labels"},
}

// metadataSchema shapes the batched title-block detection answer.
var metadataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"pages": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pdf_page_index":        map[string]any{"type": "integer"},
					"schematic_page_number": map[string]any{"type": "integer"},
					"total_pages":           map[string]any{"type": "integer"},
					"drawing_no":            map[string]any{"type": "string"},
					"drawing_title":         map[string]any{"type": "string"},
					"confidence":            map[string]any{"type": "number"},
				},
				"required": []string{"pdf_page_index"},
			},
		},
	},
	"required": []string{"pages"},
}
