package scene

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-rules/internal/schema"
)

// Decode validates a raw scene document against the scene schema and
// decodes it.
func Decode(data []byte) (*Scene, error) {
	if err := schema.Validate(schema.Scene, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScene, err)
	}

	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScene, err)
	}
	return &s, nil
}
