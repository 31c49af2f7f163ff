package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// entityTool is the shared shape of the read-only knowledge-graph tools:
// declared filters map one-to-one onto query parameters of a GET endpoint.
type entityTool struct {
	meta   Metadata
	path   string
	schema map[string]any
	getOne bool
	// scoped tools forward the thread's lab/project identifiers as query
	// parameters so the API applies row-level access rules.
	scoped bool
}

func (t *entityTool) Name() string               { return t.meta.Name }
func (t *entityTool) Metadata() Metadata         { return t.meta }
func (t *entityTool) InputSchema() map[string]any { return t.schema }

func (t *entityTool) Execute(ctx context.Context, ec ExecContext, args json.RawMessage) Result {
	if ec.Client == nil {
		return Result{Err: fmt.Errorf("no knowledge-graph client configured")}
	}
	var params map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return Result{Err: fmt.Errorf("invalid arguments: %w", err)}
		}
	}

	path := t.path
	query := url.Values{}
	if t.getOne {
		id, _ := params["id"].(string)
		if strings.TrimSpace(id) == "" {
			return Result{Err: fmt.Errorf("missing required argument %q", "id")}
		}
		path = path + "/" + url.PathEscape(id)
	} else {
		for k, v := range params {
			switch val := v.(type) {
			case string:
				if val != "" {
					query.Set(k, val)
				}
			case float64:
				query.Set(k, strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), "."))
			case bool:
				query.Set(k, fmt.Sprintf("%t", val))
			}
		}
	}
	if t.scoped {
		if ec.VlabID != "" {
			query.Set("virtual_lab_id", ec.VlabID)
		}
		if ec.ProjectID != "" {
			query.Set("project_id", ec.ProjectID)
		}
	}

	raw, err := ec.Client.Get(ctx, path, ec.Token, query)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Content: string(raw)}
}

// boundEntityTool pairs an entityTool with a live client for health probes.
type boundEntityTool struct {
	*entityTool
	client *EntityCoreClient
}

func (t *boundEntityTool) CheckHealth(ctx context.Context) error {
	return t.client.Health(ctx)
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func getOneSchema(entity string) map[string]any {
	return objectSchema(map[string]any{
		"id": stringProp("Identifier of the " + entity + " to fetch."),
	}, "id")
}

// NewDefaultRegistry builds the tool catalog served by this process. Called
// once from main; re-calling replaces entries in place.
func NewDefaultRegistry(client *EntityCoreClient) *Registry {
	r := NewRegistry()
	entity := func(t *entityTool) Tool {
		return &boundEntityTool{entityTool: t, client: client}
	}

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "get-brain-region",
			NameFrontend: "Get brain region",
			Description:  "Fetch one brain region from the hierarchy by its identifier, including acronym, parent region and annotation metadata.",
		},
		path:   "/brain-region",
		schema: getOneSchema("brain region"),
		getOne: true,
	}))

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "get-all-brain-regions",
			NameFrontend: "List brain regions",
			Description:  "Search brain regions by name or acronym with pagination.",
		},
		path: "/brain-region",
		schema: objectSchema(map[string]any{
			"name":      stringProp("Case-insensitive substring match on the region name."),
			"acronym":   stringProp("Exact acronym, e.g. VISp."),
			"page_size": intProp("Number of results per page, default 10."),
			"page":      intProp("1-based page number."),
		}),
	}))

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "get-morphology",
			NameFrontend: "Get neuron morphology",
			Description:  "Fetch one reconstructed neuron morphology by identifier, with soma position, cell type and brain-region annotations.",
		},
		path:   "/reconstruction-morphology",
		schema: getOneSchema("morphology"),
		getOne: true,
		scoped: true,
	}))

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "get-all-morphologies",
			NameFrontend: "List neuron morphologies",
			Description:  "Search reconstructed neuron morphologies filtered by brain region, cell type or species.",
		},
		path: "/reconstruction-morphology",
		schema: objectSchema(map[string]any{
			"brain_region_id": stringProp("Restrict to one brain region."),
			"mtype":           stringProp("Morphological cell type label."),
			"species":         stringProp("Species name, e.g. Mus musculus."),
			"page_size":       intProp("Number of results per page, default 10."),
			"page":            intProp("1-based page number."),
		}),
		scoped: true,
	}))

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "get-electrical-cell-recording",
			NameFrontend: "Get electrical recording",
			Description:  "Fetch one electrophysiology recording by identifier, with stimulus protocol and trace metadata.",
		},
		path:   "/electrical-cell-recording",
		schema: getOneSchema("recording"),
		getOne: true,
		scoped: true,
	}))

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "get-all-species",
			NameFrontend: "List species",
			Description:  "List the species present in the knowledge graph.",
		},
		path: "/species",
		schema: objectSchema(map[string]any{
			"name":      stringProp("Case-insensitive substring match on the species name."),
			"page_size": intProp("Number of results per page, default 10."),
		}),
	}))

	r.Register(entity(&entityTool{
		meta: Metadata{
			Name:         "literature-search",
			NameFrontend: "Search literature",
			Description:  "Full-text search over indexed neuroscience publications. Returns matching paragraphs with article metadata.",
		},
		path: "/literature/search",
		schema: objectSchema(map[string]any{
			"query":     stringProp("Natural-language search query."),
			"page_size": intProp("Number of paragraphs to return, default 5."),
		}, "query"),
	}))

	r.Register(NewPlotGeneratorTool())

	return r
}
