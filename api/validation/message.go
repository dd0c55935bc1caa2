package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"taskManager/api/dto"
)

const inboundSchema = `{
	"type": "object",
	"required": ["type"],
	"oneOf": [
		{
			"properties": {
				"type": {"enum": ["subscribe", "unsubscribe"]},
				"task_id": {"type": "string", "minLength": 1}
			},
			"required": ["type", "task_id"]
		},
		{
			"properties": {
				"type": {"enum": ["ping"]}
			}
		}
	]
}`

var inboundCompiled = mustSchema(gojsonschema.NewStringLoader(inboundSchema))

func mustSchema(loader gojsonschema.JSONLoader) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		panic(fmt.Sprintf("compile inbound message schema: %v", err))
	}
	return schema
}

// ParseInbound validates a client message against the subscription protocol
// and decodes it.
func ParseInbound(raw []byte) (*dto.InboundMessage, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}

	result, err := inboundCompiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, "; "))
	}

	var msg dto.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}
