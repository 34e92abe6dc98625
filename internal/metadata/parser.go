package metadata

import (
	"encoding/json"
	"fmt"
)

// ParseConfiguration decodes a discovery document. Member names are matched
// case-insensitively; a document that decodes to nothing (such as "null") is
// a parse failure.
func ParseConfiguration(text string) (*Configuration, error) {
	var cfg *Configuration
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("%w: discovery document: %w", ErrParseFailure, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: discovery document is empty", ErrParseFailure)
	}

	return cfg, nil
}

// ParseKeySet decodes a JSON Web Key Set, returning its keys in document
// order.
func ParseKeySet(text string) ([]SigningKey, error) {
	var set *struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal([]byte(text), &set); err != nil {
		return nil, fmt.Errorf("%w: key set: %w", ErrParseFailure, err)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: key set is empty", ErrParseFailure)
	}

	keys := make([]SigningKey, 0, len(set.Keys))
	for i, raw := range set.Keys {
		var key SigningKey
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("%w: key %d: %w", ErrParseFailure, i, err)
		}
		key.Raw = raw
		keys = append(keys, key)
	}

	return keys, nil
}
