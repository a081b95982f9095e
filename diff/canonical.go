package diff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"f0oster/permspy/snapshot"
)

// Section names as they appear in the serialized snapshot.
const (
	SectionRoles           = "roles"
	SectionUsers           = "users"
	SectionDatabases       = "databases"
	SectionRoleGrants      = "role_grants"
	SectionUserGrants      = "user_grants"
	SectionRoleMemberships = "role_memberships"
	SectionTableGrants     = "table_grants"
)

var errNonFinite = errors.New("non-finite number")

// sections renders every fingerprinted part of a snapshot into a tree made of
// map[string]any, []any and JSON primitives. The capture timestamp is left
// out: it changes on every fetch and carries no access-control content.
func sections(s *snapshot.Snapshot) (map[string]any, error) {
	if s == nil {
		return nil, &EncodingError{Path: "$", Err: errors.New("nil snapshot")}
	}

	out := make(map[string]any, 7)
	lists := map[string][]snapshot.Record{
		SectionRoles:     s.Roles,
		SectionUsers:     s.Users,
		SectionDatabases: s.Databases,
	}
	for name, records := range lists {
		v, err := canonicalRecords(name, records)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}

	grouped := map[string]map[string][]snapshot.Record{
		SectionRoleGrants:      s.RoleGrants,
		SectionUserGrants:      s.UserGrants,
		SectionRoleMemberships: s.RoleMemberships,
		SectionTableGrants:     s.TableGrants,
	}
	for name, m := range grouped {
		section := make(map[string]any, len(m))
		for key, records := range m {
			v, err := canonicalRecords(name+"."+key, records)
			if err != nil {
				return nil, err
			}
			section[key] = v
		}
		out[name] = section
	}
	return out, nil
}

func canonicalRecords(path string, records []snapshot.Record) ([]any, error) {
	out := make([]any, len(records))
	for i, r := range records {
		v, err := canonicalValue(fmt.Sprintf("%s[%d]", path, i), map[string]any(r))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// canonicalValue keeps strings, numbers, booleans and nil as they are and
// stringifies anything else so the rendering never depends on a type's own
// JSON encoding.
func canonicalValue(path string, v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	case float32:
		return canonicalFloat(path, float64(val))
	case float64:
		return canonicalFloat(path, val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		return string(val), nil
	case snapshot.Record:
		return canonicalValue(path, map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			cv, err := canonicalValue(path+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			cv, err := canonicalValue(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return canonicalReflect(path, reflect.ValueOf(val))
	}
}

// canonicalReflect walks typed slices and maps such as []string or
// map[string]int element by element, the same way as []any and
// map[string]any. Any other kind is stringified.
func canonicalReflect(path string, rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			cv, err := canonicalValue(fmt.Sprintf("%s[%d]", path, i), rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			cv, err := canonicalValue(path+"."+k, iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case reflect.Float32, reflect.Float64:
		return canonicalFloat(path, rv.Float())
	default:
		return fmt.Sprintf("%v", rv.Interface()), nil
	}
}

func canonicalFloat(path string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &EncodingError{Path: path, Err: errNonFinite}
	}
	return f, nil
}

// encode writes a canonical tree as compact JSON. encoding/json emits map
// keys in sorted order, which is what makes the output insertion-order
// independent.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, &EncodingError{Path: "$", Err: err}
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
