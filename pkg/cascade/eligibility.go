package cascade

import "github.com/spf13/cast"

// DefaultOptionKey is the configuration key holding the cascade flag, both on
// relation options and on model settings.
const DefaultOptionKey = "destroyOnDelete"

// IsEligible reports whether relation name of m cascades on delete.
//
// The relation's own option decides when it is set. Otherwise the model
// settings entry for the relation decides. With neither set the relation is
// not eligible. Values that do not convert to a bool count as false, and an
// unknown relation name is never eligible.
func IsEligible(m *Model, name, key string) bool {
	if m == nil {
		return false
	}
	if key == "" {
		key = DefaultOptionKey
	}
	rel, ok := m.Relations[name]
	if !ok {
		return false
	}
	if v, ok := flag(rel.Options, key); ok {
		return truthy(v)
	}
	if v, ok := flag(m.Settings.Relations[name], key); ok {
		return truthy(v)
	}
	return false
}

// flag returns the value under key, treating nil values as unset.
func flag(opts map[string]any, key string) (any, bool) {
	if opts == nil {
		return nil, false
	}
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func truthy(v any) bool {
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false
	}
	return b
}
