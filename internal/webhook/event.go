package webhook

import (
	"encoding/json"

	"steward/internal/types"
)

// ParseEvent decodes a raw webhook body into a WebhookEvent and enforces
// the minimal schema: id and type must both be present and non-empty.
// A payload that fails here will never parse on redelivery either, so the
// resulting 400 tells the provider not to bother retrying.
func ParseEvent(payload []byte) (*types.WebhookEvent, error) {
	var event types.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"webhook payload is not valid JSON",
			err,
		)
	}

	if event.ID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"webhook event is missing id",
			nil,
		)
	}
	if event.Type == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"webhook event is missing type",
			nil,
		)
	}

	return &event, nil
}

// stringField extracts a string value from an event's opaque data map.
// Missing or non-string values yield the empty string; handlers decide
// whether that is fatal for their event type.
func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}
