package serializer

import (
	jsoniter "github.com/json-iterator/go"
)

// JSON is the codec used for stored results, the HTTP API and the CLI --json output.
//
// UseNumber keeps numeric values found in device vars intact when they are decoded into `any`.
var JSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()
