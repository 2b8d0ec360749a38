package automation

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-rules/internal/schema"
)

// Decode validates a raw automation document against the automation
// schema and decodes it.
func Decode(data []byte) (*Automation, error) {
	if err := schema.Validate(schema.Automation, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}

	var a Automation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	return &a, nil
}
