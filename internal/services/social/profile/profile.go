// Package profile implements JSON profile documents with partial updates.
//
// Updates are plain JSON objects. A value of the form
// {"@func": "++", "@value": n} increments the stored number instead of
// replacing it; "--" decrements. Missing stored numbers start at zero.
package profile

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
)

const (
	funcKey  = "@func"
	valueKey = "@value"

	opIncrement = "++"
	opDecrement = "--"
)

// Apply merges update into current and returns the resulting document.
//
// When merge is false the update replaces the document wholesale. When merge
// is true keys are merged recursively and operation objects are evaluated
// against the stored values.
func Apply(current, update json.RawMessage, merge bool) (json.RawMessage, error) {
	target := map[string]any{}
	if len(update) > 0 {
		if err := json.Unmarshal(update, &target); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBadInput, "profile update must be a JSON object", err)
		}
	}

	if !merge {
		resolved := map[string]any{}
		if err := mergeInto(resolved, target); err != nil {
			return nil, err
		}
		return encode(resolved)
	}

	stored := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &stored); err != nil {
			return nil, fmt.Errorf("decode stored profile: %w", err)
		}
	}
	if err := mergeInto(stored, target); err != nil {
		return nil, err
	}
	return encode(stored)
}

func encode(document map[string]any) (json.RawMessage, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return encoded, nil
}

func mergeInto(dst map[string]any, src map[string]any) error {
	for key, value := range src {
		object, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}

		if op, ok := object[funcKey]; ok {
			updated, err := applyOperation(dst[key], op, object[valueKey])
			if err != nil {
				return err
			}
			dst[key] = updated
			continue
		}

		existing, ok := dst[key].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[key] = existing
		}
		if err := mergeInto(existing, object); err != nil {
			return err
		}
	}
	return nil
}

func applyOperation(stored any, op any, operand any) (any, error) {
	name, ok := op.(string)
	if !ok {
		return nil, apperrors.New(apperrors.CodeBadInput, "profile operation name must be a string")
	}
	delta, ok := operand.(float64)
	if !ok {
		return nil, apperrors.New(apperrors.CodeBadInput, "profile operation value must be a number")
	}
	base, ok := stored.(float64)
	if !ok {
		base = 0
	}

	switch name {
	case opIncrement:
		return base + delta, nil
	case opDecrement:
		return base - delta, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeBadInput, "unknown profile operation", map[string]string{"operation": name})
}
