// Package tools implements the Tool Registry (C8): the fixed set of
// capabilities exposed to the LLM dispatcher, each schema-validated
// before execution and always run under the calling user's identity.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/sys3222/akshare-mcp-adapter/internal/cache"
	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/files"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/internal/pagination"
	"github.com/sys3222/akshare-mcp-adapter/internal/upstream"
)

// Caller scopes every tool invocation to a single authenticated user.
// The LLM never supplies its own identity; the dispatcher injects it.
type Caller struct {
	Username string
}

// Tool is a single callable capability, schema-validated before Run.
type Tool struct {
	Descriptor model.ToolDescriptor
	schema     *openapi3.Schema
	run        func(ctx context.Context, caller Caller, args map[string]interface{}) (interface{}, error)
}

// Registry is the fixed set of tools available to C9.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// Deps are the components the registered tools are backed by.
type Deps struct {
	Cache      *cache.Cache
	Registry   *upstream.Registry
	FileStore  *files.Store
}

// NewRegistry builds the fixed four-tool registry.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}

	r.add("fetch_market_data",
		"Pull a named upstream financial-data dataset, paginated.",
		fetchMarketDataSchema,
		func(ctx context.Context, caller Caller, args map[string]interface{}) (interface{}, error) {
			iface, _ := args["interface"].(string)
			page, pageSize := extractPaging(args)
			params := stringMap(args["params"])
			table, err := deps.Cache.GetOrCompute(ctx, iface, params)
			if err != nil {
				return nil, err
			}
			return pagination.Paginate(table, page, pageSize), nil
		})

	r.add("list_my_files",
		"Enumerate the caller's uploaded files.",
		emptySchema,
		func(ctx context.Context, caller Caller, args map[string]interface{}) (interface{}, error) {
			return deps.FileStore.List(caller.Username)
		})

	r.add("read_my_file",
		"Open a caller-owned file and return a paginated view.",
		readMyFileSchema,
		func(ctx context.Context, caller Caller, args map[string]interface{}) (interface{}, error) {
			filename, _ := args["filename"].(string)
			page, pageSize := extractPaging(args)
			return deps.FileStore.Browse(caller.Username, filename, page, pageSize)
		})

	r.add("describe_interfaces",
		"List the upstream interfaces available for fetch_market_data.",
		emptySchema,
		func(ctx context.Context, caller Caller, args map[string]interface{}) (interface{}, error) {
			return deps.Registry.List(), nil
		})

	return r
}

func (r *Registry) add(name, description string, rawSchema []byte, run func(context.Context, Caller, map[string]interface{}) (interface{}, error)) {
	schema := &openapi3.Schema{}
	if err := json.Unmarshal(rawSchema, schema); err != nil {
		panic(fmt.Sprintf("tool %s: invalid built-in schema: %v", name, err))
	}
	r.tools[name] = &Tool{
		Descriptor: model.ToolDescriptor{
			Name:             name,
			HumanDescription: description,
			ParameterSchema:  rawSchema,
		},
		schema: schema,
		run:    run,
	}
	r.order = append(r.order, name)
}

// Descriptors returns the tool schemas in a stable order, for the
// dispatcher's system context (§4.9 Init).
func (r *Registry) Descriptors() []model.ToolDescriptor {
	out := make([]model.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke validates args against the tool's declared schema and, on
// success, executes it under caller's identity.
func (r *Registry) Invoke(ctx context.Context, name string, caller Caller, args map[string]interface{}) (interface{}, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, errs.New(errs.UnknownInterface, fmt.Sprintf("unknown tool %q", name))
	}
	if err := t.schema.VisitJSON(args); err != nil {
		return nil, errs.Wrap(errs.InvalidParameters, fmt.Sprintf("arguments for %q failed schema validation", name), err)
	}
	return t.run(ctx, caller, args)
}

func extractPaging(args map[string]interface{}) (page, pageSize int) {
	page = 1
	pageSize = 100
	if v, ok := args["page"].(float64); ok {
		page = int(v)
	}
	if v, ok := args["page_size"].(float64); ok {
		pageSize = int(v)
	}
	return page, pageSize
}

func stringMap(v interface{}) map[string]string {
	out := map[string]string{}
	m, ok := v.(map[string]interface{})
	if !ok {
		return out
	}
	for k, val := range m {
		switch t := val.(type) {
		case string:
			out[k] = t
		default:
			if b, err := json.Marshal(t); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

var emptySchema = []byte(`{"type":"object","properties":{},"additionalProperties":false}`)

var fetchMarketDataSchema = []byte(`{
	"type": "object",
	"properties": {
		"interface": {"type": "string", "description": "upstream interface name, e.g. stock_zh_a_hist"},
		"params": {"type": "object", "description": "interface call parameters", "additionalProperties": {"type": "string"}},
		"page": {"type": "integer", "minimum": 1},
		"page_size": {"type": "integer", "minimum": 1, "maximum": 500}
	},
	"required": ["interface", "params"]
}`)

var readMyFileSchema = []byte(`{
	"type": "object",
	"properties": {
		"filename": {"type": "string"},
		"page": {"type": "integer", "minimum": 1},
		"page_size": {"type": "integer", "minimum": 1, "maximum": 500}
	},
	"required": ["filename"]
}`)
