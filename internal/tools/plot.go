package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// plotGeneratorTool produces a plot specification the frontend renders
// inline. It is gated on human validation: the user reviews and may edit
// the axes and data selection before anything is generated.
type plotGeneratorTool struct{}

func NewPlotGeneratorTool() Tool {
	return &plotGeneratorTool{}
}

func (t *plotGeneratorTool) Name() string { return "plot-generator" }

func (t *plotGeneratorTool) Metadata() Metadata {
	return Metadata{
		Name:               "plot-generator",
		NameFrontend:       "Generate plot",
		Description:        "Generate an inline plot (scatter, line, bar or histogram) from values gathered earlier in the conversation.",
		RequiresValidation: true,
	}
}

func (t *plotGeneratorTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"kind": map[string]any{
			"type":        "string",
			"enum":        []string{"scatter", "line", "bar", "histogram"},
			"description": "Plot type.",
		},
		"title":   stringProp("Plot title."),
		"x_label": stringProp("X axis label."),
		"y_label": stringProp("Y axis label."),
		"values": map[string]any{
			"type":        "array",
			"description": "Data points as [x, y] pairs (y only for histogram).",
			"items":       map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
		},
	}, "kind", "values")
}

func (t *plotGeneratorTool) Execute(ctx context.Context, ec ExecContext, args json.RawMessage) Result {
	var in struct {
		Kind   string      `json:"kind"`
		Title  string      `json:"title"`
		XLabel string      `json:"x_label"`
		YLabel string      `json:"y_label"`
		Values [][]float64 `json:"values"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Result{Err: fmt.Errorf("invalid arguments: %w", err)}
	}
	switch in.Kind {
	case "scatter", "line", "bar", "histogram":
	default:
		return Result{Err: fmt.Errorf("unsupported plot kind %q", in.Kind)}
	}
	if len(in.Values) == 0 {
		return Result{Err: fmt.Errorf("no values to plot")}
	}

	spec := map[string]any{
		"kind":    in.Kind,
		"title":   strings.TrimSpace(in.Title),
		"x_label": in.XLabel,
		"y_label": in.YLabel,
		"values":  in.Values,
	}
	out, err := json.Marshal(map[string]any{"plot": spec})
	if err != nil {
		return Result{Err: err}
	}
	return Result{Content: string(out)}
}
