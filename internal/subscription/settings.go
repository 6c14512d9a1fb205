// Copyright (c) 2018, Postgres Professional

package subscription

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/util/strategicpatch"
)

// settingsDoc is a throwaway struct used only so strategicpatch has a
// typed target to merge into — the same pattern the teacher's
// patchStolonSpec uses for StolonSpec, generalized to the opaque
// Subscription.Settings map instead of a fixed struct.
type settingsDoc struct {
	Settings map[string]string `json:"settings"`
}

// PatchSettings applies an ALTER SUBSCRIPTION ... SET (...) style JSON
// merge patch (a flat {"key":"value", ...} object — set a key to null to
// clear it) over a subscription's opaque settings map, returning a new
// Subscription value; the old one is left untouched. This is the
// natural extension of the data model's write-once settings map implied
// by spec.md §3 but not spelled out operation-by-operation.
func PatchSettings(sub *Subscription, patch []byte) (*Subscription, error) {
	curj, err := json.Marshal(settingsDoc{Settings: sub.Settings})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal current settings: %w", err)
	}

	patchj, err := json.Marshal(map[string]json.RawMessage{"settings": patch})
	if err != nil {
		return nil, fmt.Errorf("failed to wrap settings patch: %w", err)
	}

	mergedj, err := strategicpatch.StrategicMergePatch(curj, patchj, &settingsDoc{})
	if err != nil {
		return nil, fmt.Errorf("failed to merge settings patch: %w", err)
	}

	var merged settingsDoc
	if err := json.Unmarshal(mergedj, &merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal merged settings: %w", err)
	}

	clone := sub.Clone()
	clone.Settings = merged.Settings
	return clone, nil
}
