package matomo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
)

// customVarsKey holds the nested custom variables of a payload
const customVarsKey = "cvar"

// Payload is the set of tracking parameters sent to the collector.
// Custom variables are kept as a nested map under "cvar" until encoding.
type Payload map[string]interface{}

// CustomVars returns the nested custom variables, or nil if there are none
func (p Payload) CustomVars() map[string]interface{} {
	cvar, _ := asMap(p[customVarsKey])
	return cvar
}

// Merge copies other into p. Top-level keys overwrite, custom variables are
// merged key by key into the existing nested map.
func (p Payload) Merge(other Payload) {
	for key, value := range other {
		if src, ok := asMap(value); ok && key == customVarsKey {
			dst, ok := asMap(p[customVarsKey])
			if !ok {
				dst = make(map[string]interface{}, len(src))
			}
			for k, v := range src {
				dst[k] = v
			}
			p[customVarsKey] = dst
			continue
		}
		p[key] = value
	}
}

// Clone returns a copy of p that does not share the custom variable map
func (p Payload) Clone() Payload {
	clone := make(Payload, len(p))
	for key, value := range p {
		if key == customVarsKey {
			if cvar, ok := asMap(value); ok {
				copied := make(map[string]interface{}, len(cvar))
				for k, v := range cvar {
					copied[k] = v
				}
				value = copied
			}
		}
		clone[key] = value
	}
	return clone
}

// Values encodes the payload as form values. Nested values (including the
// custom variables) are JSON encoded, nil values are dropped.
func (p Payload) Values() (url.Values, error) {
	values := make(url.Values, len(p))
	for key, value := range p {
		if value == nil {
			continue
		}
		encoded, err := formatValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", key, err)
		}
		values.Set(key, encoded)
	}
	return values, nil
}

func formatValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case fmt.Stringer:
		return v.String(), nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
	return fmt.Sprint(value), nil
}

// asMap accepts the map shapes handlers are likely to pass as custom variables
func asMap(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	case Payload:
		return map[string]interface{}(v), true
	case map[string]string:
		converted := make(map[string]interface{}, len(v))
		for k, s := range v {
			converted[k] = s
		}
		return converted, true
	}
	return nil, false
}
