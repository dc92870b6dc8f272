package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv so tests can supply their own environment.
type LookupFunc func(key string) (string, bool)

// env reads typed values through a LookupFunc and remembers every
// required key that was missing and every value that failed to parse,
// so Load can report all problems at once.
type env struct {
	lookup  LookupFunc
	missing []string
	invalid []string
}

func newEnv(lookup LookupFunc) *env { return &env{lookup: lookup} }

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// must retrieves a required variable. Missing values are recorded.
func (e *env) must(key string) string {
	v, ok := e.get(key)
	if !ok {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *env) str(key, def string) string {
	if v, ok := e.get(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Sprintf("%s=%q", key, v))
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	e.invalid = append(e.invalid, fmt.Sprintf("%s=%q", key, v))
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Sprintf("%s=%q", key, v))
		return def
	}
	return d
}

// err summarises missing and invalid keys, or returns nil.
func (e *env) err() error {
	var parts []string
	if len(e.missing) > 0 {
		parts = append(parts, "missing required env vars: "+strings.Join(e.missing, ", "))
	}
	if len(e.invalid) > 0 {
		parts = append(parts, "invalid env values: "+strings.Join(e.invalid, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
