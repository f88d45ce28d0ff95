// Package idempotency derives a stable key for a Command so retried or
// replayed submissions of the same intent can be recognized as duplicates.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
)

// CanonicalJSON converts a value to deterministic JSON by recursively sorting
// map keys, so logically equivalent data structures always produce the same
// bytes regardless of map iteration order.
func CanonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, fmt.Errorf("idempotency: normalize: %w", err)
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("idempotency: marshal: %w", err)
	}
	return data, nil
}

func normalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeSortedMap(val)

	case []interface{}:
		normalized := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			normalized[i] = n
		}
		return normalized, nil

	default:
		return v, nil
	}
}

type sortedMap struct {
	keys   []string
	values map[string]interface{}
}

func (sm *sortedMap) MarshalJSON() ([]byte, error) {
	if len(sm.keys) == 0 {
		return []byte("{}"), nil
	}

	result := "{"
	for i, key := range sm.keys {
		if i > 0 {
			result += ","
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(sm.values[key])
		if err != nil {
			return nil, err
		}
		result += string(keyJSON) + ":" + string(valJSON)
	}
	result += "}"
	return []byte(result), nil
}

func normalizeSortedMap(m map[string]interface{}) (*sortedMap, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	normalized := make(map[string]interface{}, len(m))
	for _, k := range keys {
		n, err := normalizeValue(m[k])
		if err != nil {
			return nil, err
		}
		normalized[k] = n
	}

	return &sortedMap{keys: keys, values: normalized}, nil
}

// keyedFields is the subset of a Command that determines its identity for
// deduplication purposes: correlation identity, command kind, and every
// intent-specific field, but not the command's own freshly-minted ID or
// IssuedAt timestamp (those differ on every resubmission by construction).
type keyedFields struct {
	SessionID    contract.SessionID
	Kind         contract.CommandKind
	Repo         contract.RepoRef
	Branch       string
	IncludePaths []string
	Timeout      time.Duration
	WorkItem     *contract.WorkItemRef
	TargetState  string
	Artifact     *contract.Artifact
	Patch        string
	Payload      map[string]any
}

// GenerateKey derives a stable "ik:"-prefixed key for cmd: SHA256 over the
// canonical JSON of its keyed fields.
func GenerateKey(cmd contract.Command) (string, error) {
	keyed := keyedFields{
		SessionID:    cmd.Correlation.SessionID,
		Kind:         cmd.Kind,
		Repo:         cmd.Repo,
		Branch:       cmd.Branch,
		IncludePaths: cmd.IncludePaths,
		Timeout:      cmd.Timeout,
		WorkItem:     cmd.WorkItem,
		TargetState:  cmd.TargetState,
		Artifact:     cmd.Artifact,
		Patch:        cmd.Patch,
		Payload:      cmd.Payload,
	}

	// Round-trip through a generic map so CanonicalJSON's map-sorting logic
	// applies uniformly, including to the nested Payload map.
	raw, err := json.Marshal(keyed)
	if err != nil {
		return "", fmt.Errorf("idempotency: marshal keyed fields: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("idempotency: unmarshal keyed fields: %w", err)
	}

	canon, err := CanonicalJSON(generic)
	if err != nil {
		return "", fmt.Errorf("idempotency: canonicalize: %w", err)
	}

	hash := sha256.Sum256(canon)
	return "ik:" + hex.EncodeToString(hash[:]), nil
}
