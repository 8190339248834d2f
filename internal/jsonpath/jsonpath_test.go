package jsonpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxmon-go/agent/internal/jsonpath"
)

func TestEval(t *testing.T) {
	doc := map[string]any{
		"status": "ok",
		"field": map[string]any{
			"sub": float64(42),
		},
		"items": []any{
			map[string]any{"value": float64(7)},
			map[string]any{"value": float64(9)},
		},
	}

	tests := []struct {
		name string
		path string
		want any
	}{
		{"root", "$", doc},
		{"field", "$.status", "ok"},
		{"nested field", "$.field.sub", float64(42)},
		{"dotted array index", "$.items.0.value", float64(7)},
		{"bracket array index", "$.items[0].value", float64(7)},
		{"second bracket index", "$.items[1].value", float64(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jsonpath.Eval(doc, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	doc := map[string]any{"items": []any{float64(1)}}

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing prefix", "status"},
		{"out of range index", "$.items.5"},
		{"missing field", "$.nope"},
		{"trailing dot", "$.items."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jsonpath.Eval(doc, tt.path)
			assert.Error(t, err)
		})
	}
}
