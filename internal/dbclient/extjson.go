package dbclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// wrapKey boxes arbitrary values into a document, since the Extended JSON
// codec only accepts documents at the top level.
const wrapKey = "v"

// ExtJSON encodes v (a document, array or scalar) as relaxed Extended JSON.
func ExtJSON(v any) (json.RawMessage, error) {
	b, err := bson.MarshalExtJSON(bson.D{{Key: wrapKey, Value: v}}, false, false)
	if err != nil {
		return nil, fmt.Errorf("marshal extended json: %w", err)
	}
	var box struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(b, &box); err != nil {
		return nil, fmt.Errorf("unwrap extended json: %w", err)
	}
	return box.V, nil
}

// Pretty renders v as relaxed Extended JSON indented with four spaces.
func Pretty(v any) (string, error) {
	raw, err := ExtJSON(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return "", fmt.Errorf("indent: %w", err)
	}
	return buf.String(), nil
}

// ParseValue decodes Extended JSON text of any shape. Objects become bson.D
// and arrays bson.A.
func ParseValue(text string) (any, error) {
	var box bson.D
	wrapped := `{"` + wrapKey + `":` + text + `}`
	if err := bson.UnmarshalExtJSON([]byte(wrapped), false, &box); err != nil {
		return nil, err
	}
	if len(box) != 1 {
		return nil, fmt.Errorf("unexpected extended json shape")
	}
	return box[0].Value, nil
}

// ParseDocument decodes Extended JSON text that must be an object. Empty or
// whitespace-only text yields an empty document.
func ParseDocument(text string) (bson.D, error) {
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// typeName reports the BSON-ish type name of a decoded value, used for
// attribute sampling.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bson.Decimal128:
		return "decimal"
	case bson.ObjectID:
		return "objectId"
	case bson.DateTime:
		return "date"
	case bson.Timestamp:
		return "timestamp"
	case bson.Binary:
		return "binData"
	case bson.Regex:
		return "regex"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
