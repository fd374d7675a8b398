// Package utils contains small helpers shared across the rig: attribute maps,
// mime types, and background worker management.
package utils

import (
	"fmt"

	"github.com/spf13/cast"
)

// AttributeMap is a convenience wrapper for plugin and scene attributes that
// arrive as decoded JSON.
type AttributeMap map[string]interface{}

// Has returns whether the key is present at all.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// GetString returns the named string attribute, or "" when absent. A present
// value of the wrong type panics; attribute shape is a config bug.
func (am AttributeMap) GetString(name string) string {
	x, has := am[name]
	if !has || x == nil {
		return ""
	}
	s, err := cast.ToStringE(x)
	if err != nil {
		panic(fmt.Errorf("wanted a string for (%s) but got (%v) %T", name, x, x))
	}
	return s
}

// GetInt returns the named integer attribute, or def when absent. JSON
// numbers decode as float64 and are coerced.
func (am AttributeMap) GetInt(name string, def int) int {
	x, has := am[name]
	if !has {
		return def
	}
	v, err := cast.ToIntE(x)
	if err != nil {
		panic(fmt.Errorf("wanted an int for (%s) but got (%v) %T", name, x, x))
	}
	return v
}

// GetFloat64 returns the named float attribute, or def when absent.
func (am AttributeMap) GetFloat64(name string, def float64) float64 {
	x, has := am[name]
	if !has {
		return def
	}
	v, err := cast.ToFloat64E(x)
	if err != nil {
		panic(fmt.Errorf("wanted a float for (%s) but got (%v) %T", name, x, x))
	}
	return v
}

// GetBool returns the named bool attribute, or def when absent.
func (am AttributeMap) GetBool(name string, def bool) bool {
	x, has := am[name]
	if !has {
		return def
	}
	v, err := cast.ToBoolE(x)
	if err != nil {
		panic(fmt.Errorf("wanted a bool for (%s) but got (%v) %T", name, x, x))
	}
	return v
}
