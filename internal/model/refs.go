package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EntityRef identifies one record of an entity type by its serialized key.
type EntityRef struct {
	EntityName string `json:"entity_name"`
	ID         string `json:"id"`
}

func (r EntityRef) String() string {
	return r.EntityName + "/" + r.ID
}

// Entity is implemented by record instances handed to the queue by live-write
// hooks. EntityID must return the same serialization EncodeKey produces for
// the record's identifying columns.
type Entity interface {
	EntityName() string
	EntityID() string
}

// RefOf returns the reference of an entity instance.
func RefOf(e Entity) EntityRef {
	return EntityRef{EntityName: e.EntityName(), ID: e.EntityID()}
}

// FormatValue serializes a scalar column value as returned by database/sql.
// Nil values format as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// EncodeKey serializes an identifying key. A single column serializes as its
// text value; a composite key serializes as a JSON object of column name to
// text value (json.Marshal sorts map keys).
func EncodeKey(columns []string, values []any) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("encode key: no key columns")
	}
	if len(columns) != len(values) {
		return "", fmt.Errorf("encode key: %d columns, %d values", len(columns), len(values))
	}
	if len(columns) == 1 {
		return FormatValue(values[0]), nil
	}
	m := make(map[string]string, len(columns))
	for i, col := range columns {
		m[col] = FormatValue(values[i])
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return string(data), nil
}

// DecodeKey is the inverse of EncodeKey. It returns the text value of every
// key column in column order.
func DecodeKey(columns []string, key string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("decode key: no key columns")
	}
	if len(columns) == 1 {
		return []string{key}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(key), &m); err != nil {
		return nil, fmt.Errorf("decode key %q: %w", key, err)
	}
	out := make([]string, len(columns))
	for i, col := range columns {
		v, ok := m[col]
		if !ok {
			return nil, fmt.Errorf("decode key %q: missing column %q", key, col)
		}
		out[i] = v
	}
	return out, nil
}
