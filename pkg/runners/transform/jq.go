package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

type jqEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newJQEngine() *jqEngine {
	return &jqEngine{cache: make(map[string]*gojq.Code)}
}

// evaluate runs a jq filter. A single output is returned as is, several are collected into a
// slice and none yields nil.
func (e *jqEngine) evaluate(ctx context.Context, expression string, input any) (any, error) {
	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	normalized, err := normalize(input)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalized)

	var results []any

	for {
		value, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := value.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}

		results = append(results, value)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *jqEngine) compile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return code, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error: %w", err)
	}

	code, err = gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile error: %w", err)
	}

	e.cache[expression] = code

	return code, nil
}

// normalize converts arbitrary Go values into the JSON shapes gojq accepts.
func normalize(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("jq input: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("jq input: %w", err)
	}

	return decoded, nil
}
