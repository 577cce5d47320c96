package model

import (
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/storage"
	"github.com/dreamware/strata/internal/value"
)

// encodeField converts an entity value to its wire form. Structured values of
// JSON fields are serialized to text; strings, bytes and expressions are taken
// as already encoded.
func encodeField(d *schema.Descriptor, field string, v any) (any, error) {
	if !d.IsJSON(field) || value.IsNull(v) {
		return v, nil
	}
	switch v.(type) {
	case string, []byte, value.Expression:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.Validation, err, "cannot encode JSON field").WithField(field).WithTable(d.Table)
	}
	return string(b), nil
}

// encodeRow encodes each value with encodeField.
func encodeRow(d *schema.Descriptor, r storage.Row) (storage.Row, error) {
	out := make(storage.Row, len(r))
	for f, v := range r {
		ev, err := encodeField(d, f, v)
		if err != nil {
			return nil, err
		}
		out[f] = ev
	}
	return out, nil
}

// decodeRow converts gateway output to entity values: integer columns that
// arrive as numeric strings become int64 and JSON text is parsed. Text that is
// not valid JSON is kept as is.
func decodeRow(d *schema.Descriptor, r storage.Row, log *zap.Logger) map[string]any {
	out := make(map[string]any, len(r))
	for f, v := range r {
		switch {
		case d.IsInt(f):
			out[f] = value.Int(v)
		case d.IsJSON(f):
			out[f] = decodeJSON(f, v, log)
		default:
			out[f] = v
		}
	}
	return out
}

func decodeJSON(field string, v any, log *zap.Logger) any {
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		return v
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		log.Debug("invalid JSON field value kept as text", zap.String("field", field), zap.Error(err))
		return v
	}
	return decoded
}
