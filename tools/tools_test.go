package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatorTool_Basic(t *testing.T) {
	calc := CalculatorTool{}
	out, err := calc.Execute(context.Background(), `{"expression":"2 + 2 * 3"}`)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, float64(8), decoded["result"])
}

func TestCalculatorTool_DivisionByZero(t *testing.T) {
	calc := CalculatorTool{}
	_, err := calc.Execute(context.Background(), `{"expression":"1 / 0"}`)
	assert.Error(t, err)
}

func TestClockTool_FixedTime(t *testing.T) {
	fixed := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	clk := ClockTool{Now: func() time.Time { return fixed }}

	out, err := clk.Execute(context.Background(), `{}`)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "UTC", decoded["timezone"])
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	out, err := r.Execute(context.Background(), "nonexistent", "{}")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown tool")
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(CalculatorTool{})
	r.Register(NewClockTool())

	names := []string{}
	for _, info := range r.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"calculate", "current_time"}, names)
}

func TestNewWebSearchTool_NilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewWebSearchTool("", 0))
}
