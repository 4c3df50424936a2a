// Package mimem supplies the configuration map type shared by the
// public Options surface, grounded on the teacher's lib.Settings/
// lib.Config (bnclabs-gostore lib/settings.go, lib/config.go): a plain
// map[string]interface{} with Section/Trim/Filter/Mixin combinators and
// typed accessors that panic on a missing key or type mismatch rather
// than returning a zero value and an error, since a misconfigured
// allocator should fail loudly at startup, not silently degrade.
package mimem

import (
	"fmt"
	"strings"
)

// Settings is a map of configuration parameters.
type Settings map[string]interface{}

// Section returns a new Settings containing only keys with the given
// prefix.
func (s Settings) Section(prefix string) Settings {
	section := make(Settings)
	for key, value := range s {
		if strings.HasPrefix(key, prefix) {
			section[key] = value
		}
	}
	return section
}

// Trim removes prefix from every key.
func (s Settings) Trim(prefix string) Settings {
	trimmed := make(Settings)
	for key, value := range s {
		trimmed[strings.TrimPrefix(key, prefix)] = value
	}
	return trimmed
}

// Filter returns a new Settings containing only keys that contain subs.
func (s Settings) Filter(subs string) Settings {
	sub := make(Settings)
	for key, value := range s {
		if strings.Contains(key, subs) {
			sub[key] = value
		}
	}
	return sub
}

// Mixin overrides s in place with every key from each of settings, in
// order, accepting either a Settings or a plain map[string]interface{}.
func (s Settings) Mixin(settings ...interface{}) Settings {
	update := func(arg map[string]interface{}) {
		for key, value := range arg {
			s[key] = value
		}
	}
	for _, arg := range settings {
		switch cnf := arg.(type) {
		case Settings:
			update(map[string]interface{}(cnf))
		case map[string]interface{}:
			update(cnf)
		}
	}
	return s
}

func (s Settings) Bool(key string) bool {
	value, ok := s[key]
	if !ok {
		panicerr("missing settings %q", key)
	}
	val, ok := value.(bool)
	if !ok {
		panicerr("settings %q not a bool: %T", key, value)
	}
	return val
}

func (s Settings) Int64(key string) int64 {
	value, ok := s[key]
	if !ok {
		panicerr("missing settings %q", key)
	}
	switch val := value.(type) {
	case float64:
		return int64(val)
	case float32:
		return int64(val)
	case uint:
		return int64(val)
	case uint64:
		return int64(val)
	case uint32:
		return int64(val)
	case int:
		return int64(val)
	case int64:
		return val
	case int32:
		return int64(val)
	}
	panicerr("settings %q not a number: %T", key, value)
	return 0
}

func (s Settings) Float64(key string) float64 {
	value, ok := s[key]
	if !ok {
		panicerr("missing settings %q", key)
	}
	switch val := value.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	panicerr("settings %q not a number: %T", key, value)
	return 0
}

func (s Settings) String(key string) string {
	value, ok := s[key]
	if !ok {
		panicerr("missing settings %q", key)
	}
	val, ok := value.(string)
	if !ok {
		panicerr("settings %q not a string: %T", key, value)
	}
	return val
}

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}
