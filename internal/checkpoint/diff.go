package checkpoint

import (
	"encoding/json"
	"reflect"

	"github.com/zerobranding/orchestrator/internal/session"
)

// toMap round-trips a session.State through JSON to get a shallow,
// key-wise comparable representation.
func toMap(s session.State) (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// fromMap reconstitutes a session.State from its map representation.
func fromMap(m map[string]interface{}) (session.State, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return session.State{}, err
	}
	var s session.State
	if err := json.Unmarshal(data, &s); err != nil {
		return session.State{}, err
	}
	return s, nil
}

// shallowDiff returns the keys of next whose value differs from prev (or is
// absent from prev). A nil prev is treated as an empty map.
func shallowDiff(prev, next map[string]interface{}) map[string]interface{} {
	delta := make(map[string]interface{})
	for k, v := range next {
		pv, ok := prev[k]
		if !ok || !reflect.DeepEqual(pv, v) {
			delta[k] = v
		}
	}
	return delta
}

// applyDelta merges delta's keys into base, returning the merged map. base
// may be nil.
func applyDelta(base, delta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}
