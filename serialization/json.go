package serialization

import "encoding/json"

const (
	// JSONName is the registry key of the JSON codec.
	JSONName = "json"
	// JSONContentType is the media type of JSON payloads.
	JSONContentType = "application/json"
)

// JSON is the default codec.
var JSON Codec = JSONCodec{}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return JSONName }
func (JSONCodec) ContentType() string             { return JSONContentType }
