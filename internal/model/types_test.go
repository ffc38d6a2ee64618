package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFieldNaming(t *testing.T) {
	cursor := "42"
	s := Session{
		EntityName:         "Customer",
		Action:             ActionExecute,
		OrderingKey:        "id",
		LastProcessedValue: &cursor,
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"entity_name"`)
	assert.Contains(t, string(data), `"ordering_key"`)
	assert.Contains(t, string(data), `"last_processed_value":"42"`)
	assert.NotContains(t, string(data), `"entityName"`)
}

func TestParseSessionAction(t *testing.T) {
	for _, a := range []SessionAction{ActionExecute, ActionSuspended, ActionStopped} {
		got, err := ParseSessionAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err := ParseSessionAction("SKIP")
	assert.Error(t, err)
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("DELETE")
	require.NoError(t, err)
	assert.Equal(t, OpDelete, op)

	_, err = ParseOperation("UPSERT")
	assert.Error(t, err)
}

func TestSession_Started(t *testing.T) {
	s := Session{Action: ActionExecute}
	assert.False(t, s.Started())

	v := "10"
	s.LastProcessedValue = &v
	assert.True(t, s.Started())
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"bytes", []byte("raw"), "raw"},
		{"int64", int64(-17), "-17"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"time", ts, "2024-03-01T12:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestEncodeKey_SingleColumn(t *testing.T) {
	key, err := EncodeKey([]string{"id"}, []any{int64(7)})
	require.NoError(t, err)
	assert.Equal(t, "7", key)

	parts, err := DecodeKey([]string{"id"}, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, parts)
}

func TestEncodeKey_CompositeIsSorted(t *testing.T) {
	key, err := EncodeKey([]string{"tenant", "code"}, []any{"acme", int64(3)})
	require.NoError(t, err)
	assert.Equal(t, `{"code":"3","tenant":"acme"}`, key)

	parts, err := DecodeKey([]string{"tenant", "code"}, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "3"}, parts)
}

func TestEncodeKey_Errors(t *testing.T) {
	_, err := EncodeKey(nil, nil)
	assert.Error(t, err)

	_, err = EncodeKey([]string{"a", "b"}, []any{1})
	assert.Error(t, err)

	_, err = DecodeKey([]string{"a", "b"}, `{"a":"1"}`)
	assert.Error(t, err, "missing column must fail")
}

type customer struct{ id string }

func (c customer) EntityName() string { return "Customer" }
func (c customer) EntityID() string   { return c.id }

func TestRefOf(t *testing.T) {
	ref := RefOf(customer{id: "9"})
	assert.Equal(t, EntityRef{EntityName: "Customer", ID: "9"}, ref)
	assert.Equal(t, "Customer/9", ref.String())
}
