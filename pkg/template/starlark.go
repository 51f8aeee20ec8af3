package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkProducer builds a function fragment from a Starlark script. The script
// sees the predeclared values function and config plus the helpers ref, get_att
// and sub, and assigns the globals parameters, resources and outputs.
type StarlarkProducer struct {
	// Filename is reported in Starlark error positions.
	Filename string

	// Script is the Starlark source.
	Script string

	// Timeout bounds evaluation. Defaults to 10 seconds.
	Timeout time.Duration
}

// LoadStarlarkProducer reads a fragment script from disk.
func LoadStarlarkProducer(path string) (*StarlarkProducer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment script %s: %w", path, err)
	}
	return &StarlarkProducer{Filename: path, Script: string(data)}, nil
}

// Produce evaluates the script for fn.
func (p *StarlarkProducer) Produce(ctx context.Context, fn Function, global GlobalConfig) (Template, error) {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "fragment:" + fn.Name,
		Print: func(_ *starlark.Thread, _ string) {},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	predeclared, err := fragmentPredeclared(fn, global)
	if err != nil {
		return Template{}, err
	}

	filename := p.Filename
	if filename == "" {
		filename = "fragment.star"
	}
	globals, err := starlark.ExecFile(thread, filename, p.Script, predeclared)
	if err != nil {
		return Template{}, fmt.Errorf("starlark execution failed: %w", err)
	}

	doc := make(map[string]any, 3)
	for name, mapping := range map[string]string{
		"parameters": MappingParameters,
		"resources":  MappingResources,
		"outputs":    MappingOutputs,
	} {
		val, ok := globals[name]
		if !ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return Template{}, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		doc[mapping] = goVal
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Template{}, err
	}
	out := New()
	if err := json.Unmarshal(raw, &out); err != nil {
		return Template{}, fmt.Errorf("fragment script produced an invalid template: %w", err)
	}
	if out.Parameters == nil {
		out.Parameters = map[string]Parameter{}
	}
	if out.Resources == nil {
		out.Resources = map[string]Resource{}
	}
	if out.Outputs == nil {
		out.Outputs = map[string]Output{}
	}
	return out, nil
}

func fragmentPredeclared(fn Function, global GlobalConfig) (starlark.StringDict, error) {
	methods := make([]any, 0, len(fn.Methods))
	for _, m := range normalizeMethods(fn.Methods) {
		methods = append(methods, m)
	}
	env := make(map[string]any, len(fn.Environment))
	for k, v := range fn.Environment {
		env[k] = v
	}

	function, err := toStarlarkValue(map[string]any{
		"name":          fn.Name,
		"logical_name":  LogicalName(fn.Name),
		"path":          fn.RoutePath(),
		"methods":       methods,
		"timeout":       int64(fn.Timeout / time.Second),
		"memory":        int64(fn.Memory),
		"environment":   env,
		"s3_key_param":  S3KeyParameter(fn.Name),
		"bucket_param":  DeploymentBucketParameter,
		"api_resource":  HTTPAPIResource,
		"endpoint_name": EndpointOutput(fn.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert function: %w", err)
	}
	config, err := toStarlarkValue(map[string]any{
		"runtime":     global.Runtime,
		"timeout":     int64(global.Timeout / time.Second),
		"memory":      int64(global.Memory),
		"entry_point": EntryPoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}

	return starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"function": function,
		"config":   config,
		"ref":      starlark.NewBuiltin("ref", builtinRef),
		"get_att":  starlark.NewBuiltin("get_att", builtinGetAtt),
		"sub":      starlark.NewBuiltin("sub", builtinSub),
	}, nil
}

func builtinRef(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	return toStarlarkValue(map[string]any{"Ref": name})
}

func builtinGetAtt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var resource, attr string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "resource", &resource, "attribute", &attr); err != nil {
		return nil, err
	}
	return toStarlarkValue(map[string]any{"Fn::GetAtt": []any{resource, attr}})
}

func builtinSub(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var format string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "format", &format); err != nil {
		return nil, err
	}
	return toStarlarkValue(map[string]any{"Fn::Sub": format})
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
