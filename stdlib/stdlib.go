// Package stdlib provides the built-in UDFs every rule set can use without
// registering anything of its own: event payload access, entity
// construction, and common string, list, and time helpers.
package stdlib

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haileyok/osprey/entity"
	"github.com/haileyok/osprey/udf"
)

// Register adds every built-in UDF to the registry.
func Register(registry *udf.Registry) error {
	for _, spec := range Specs() {
		if err := registry.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// Specs returns fresh specs for all built-in UDFs.
func Specs() []*udf.Spec {
	return []*udf.Spec{
		{
			Name:       "action_name",
			ResultType: "string",
			Fn:         actionName,
		},
		{
			Name:       "json_data",
			Params:     []udf.Param{{Name: "path", Type: "string"}},
			ResultType: "any",
			Fn:         jsonData,
		},
		{
			Name: "entity",
			Params: []udf.Param{
				{Name: "type", Type: "string"},
				{Name: "id", Type: "any"},
			},
			ResultType: "entity",
			Fn:         makeEntity,
		},
		{
			Name: "entity_json",
			Params: []udf.Param{
				{Name: "type", Type: "string"},
				{Name: "path", Type: "string"},
			},
			ResultType: "entity",
			Fn:         entityJSON,
		},
		{
			Name:       "list_length",
			Params:     []udf.Param{{Name: "items", Type: "list"}},
			ResultType: "int",
			Fn:         listLength,
		},
		{
			Name: "regex_match",
			Params: []udf.Param{
				{Name: "pattern", Type: "string"},
				{Name: "value", Type: "string"},
			},
			ResultType: "bool",
			Fn:         regexMatch,
		},
		{
			Name: "string_contains",
			Params: []udf.Param{
				{Name: "value", Type: "string"},
				{Name: "substring", Type: "string"},
			},
			ResultType: "bool",
			Fn:         stringContains,
		},
		{
			Name:       "email_domain",
			Params:     []udf.Param{{Name: "value", Type: "string"}},
			ResultType: "string",
			Fn:         emailDomain,
		},
		{
			Name:       "time_since",
			Params:     []udf.Param{{Name: "value", Type: "any"}},
			ResultType: "float",
			Fn:         timeSince,
		},
	}
}

func actionName(_ context.Context, call *udf.Call) (any, error) {
	return call.Context.ActionName(), nil
}

// jsonData walks the event payload by dotted path. Path segments index into
// nested objects; a numeric segment indexes into a list. A missing segment
// resolves absent, never fails.
func jsonData(_ context.Context, call *udf.Call) (any, error) {
	path, err := call.String("path")
	if err != nil {
		return nil, err
	}

	var current any = call.Context.Data()
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, udf.ErrAbsent
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, udf.ErrAbsent
			}
			current = node[index]
		default:
			return nil, udf.ErrAbsent
		}
	}
	if current == nil {
		return nil, udf.ErrAbsent
	}
	return current, nil
}

func makeEntity(_ context.Context, call *udf.Call) (any, error) {
	entityType, err := call.String("type")
	if err != nil {
		return nil, err
	}
	id, ok := call.Args["id"]
	if !ok || id == nil {
		return nil, fmt.Errorf("argument %q missing", "id")
	}
	return entity.New(entityType, id), nil
}

func entityJSON(ctx context.Context, call *udf.Call) (any, error) {
	entityType, err := call.String("type")
	if err != nil {
		return nil, err
	}
	id, err := jsonData(ctx, call)
	if err != nil {
		return nil, err
	}
	return entity.New(entityType, id), nil
}

func listLength(_ context.Context, call *udf.Call) (any, error) {
	items, err := call.List("items")
	if err != nil {
		return nil, err
	}
	return int64(len(items)), nil
}

func regexMatch(_ context.Context, call *udf.Call) (any, error) {
	pattern, err := call.String("pattern")
	if err != nil {
		return nil, err
	}
	value, err := call.String("value")
	if err != nil {
		return nil, err
	}

	re, err := globalRegexCache.compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString(value), nil
}

func stringContains(_ context.Context, call *udf.Call) (any, error) {
	value, err := call.String("value")
	if err != nil {
		return nil, err
	}
	substring, err := call.String("substring")
	if err != nil {
		return nil, err
	}
	return strings.Contains(value, substring), nil
}

// emailDomain extracts the lowercased domain of an email address. A value
// without an @ resolves absent.
func emailDomain(_ context.Context, call *udf.Call) (any, error) {
	value, err := call.String("value")
	if err != nil {
		return nil, err
	}
	at := strings.LastIndex(value, "@")
	if at < 0 || at == len(value)-1 {
		return nil, udf.ErrAbsent
	}
	return strings.ToLower(value[at+1:]), nil
}

// timeSince returns the seconds elapsed since a timestamp, given either as
// an RFC 3339 string or as epoch seconds.
func timeSince(_ context.Context, call *udf.Call) (any, error) {
	value, ok := call.Args["value"]
	if !ok || value == nil {
		return nil, fmt.Errorf("argument %q missing", "value")
	}

	var ts time.Time
	switch v := value.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		ts = parsed
	case float64:
		ts = time.Unix(int64(v), 0)
	case int64:
		ts = time.Unix(v, 0)
	default:
		return nil, fmt.Errorf("timestamp is %T, want string or number", value)
	}

	return time.Since(ts).Seconds(), nil
}
