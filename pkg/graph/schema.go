package graph

import (
	"fmt"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateState checks state against the type's JSON Schema. Types without a schema accept any state.
func (t *Type) ValidateState(state models.State) error {
	if t.schema == nil {
		return nil
	}

	if state == nil {
		state = models.State{}
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(state))
	if err != nil {
		return fmt.Errorf("failed to validate state: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidState, strings.Join(messages, "; "))
	}

	return nil
}
