package util

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Expansions wraps a map of expansion key-value pairs used to
// interpolate ${key} references in pipeline definitions and command
// parameters.
type Expansions map[string]string

func NewExpansions(initMap map[string]string) *Expansions {
	exp := Expansions(map[string]string{})
	expRef := &exp
	expRef.Update(initMap)
	return expRef
}

// Update adds (or overwrites) all of the keys in the given map.
func (exp *Expansions) Update(newItems map[string]string) {
	for k, v := range newItems {
		exp.Put(k, v)
	}
}

// UpdateFromYaml reads a map of expansions out of the given YAML file
// and merges it in, returning the keys that were set.
func (exp *Expansions) UpdateFromYaml(filename string) ([]string, error) {
	filedata, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading expansions file '%s'", filename)
	}

	newExpansions := make(map[string]string)
	if err := yaml.Unmarshal(filedata, &newExpansions); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling expansions file '%s'", filename)
	}
	exp.Update(newExpansions)

	keys := make([]string, 0, len(newExpansions))
	for k := range newExpansions {
		keys = append(keys, k)
	}
	return keys, nil
}

func (exp *Expansions) Put(key, value string) {
	(*exp)[key] = value
}

// Get returns the value for a key, or the empty string if the key is
// not present.
func (exp *Expansions) Get(key string) string {
	return (*exp)[key]
}

func (exp *Expansions) Exists(key string) bool {
	_, ok := (*exp)[key]
	return ok
}

func (exp *Expansions) Remove(key string) {
	delete(*exp, key)
}

// Map returns a copy of the expansions as a plain map.
func (exp *Expansions) Map() map[string]string {
	out := make(map[string]string, len(*exp))
	for k, v := range *exp {
		out[k] = v
	}
	return out
}

// ExpandString applies the expansions to a single string, replacing
// every ${key} occurrence. Bracketed references support a default
// after a pipe: ${key|val} uses val when key is unset, and ${key|*other}
// uses the value of the expansion named other. A trailing ! on the key
// treats a set-but-empty value as unset, so ${key!|val} falls back to
// the default for empty values too. An unclosed ${ is an error.
func (exp *Expansions) ExpandString(toExpand string) (string, error) {
	var out strings.Builder
	remaining := toExpand

	for {
		start := strings.Index(remaining, "${")
		if start < 0 {
			out.WriteString(remaining)
			return out.String(), nil
		}
		out.WriteString(remaining[:start])
		remaining = remaining[start+2:]

		end := strings.Index(remaining, "}")
		if end < 0 {
			return "", errors.Errorf("'%s' is missing a closing bracket", toExpand)
		}
		out.WriteString(exp.expandReference(remaining[:end]))
		remaining = remaining[end+1:]
	}
}

// expandReference resolves the inside of a single ${...} reference.
func (exp *Expansions) expandReference(ref string) string {
	key := ref
	defaultVal := ""
	hasDefault := false
	if idx := strings.Index(ref, "|"); idx >= 0 {
		key = ref[:idx]
		defaultVal = ref[idx+1:]
		hasDefault = true
	}

	emptyIsUnset := false
	if strings.HasSuffix(key, "!") {
		key = key[:len(key)-1]
		emptyIsUnset = true
	}

	val := exp.Get(key)
	set := exp.Exists(key)
	if emptyIsUnset && val == "" {
		set = false
	}
	if set || !hasDefault {
		return val
	}

	if strings.HasPrefix(defaultVal, "*") {
		return exp.Get(defaultVal[1:])
	}
	return defaultVal
}

// IsExpandable returns true if the passed in string contains an
// expandable ${} reference.
func IsExpandable(param string) bool {
	startIdx := strings.Index(param, "${")
	if startIdx < 0 {
		return false
	}
	return strings.Contains(param[startIdx:], "}")
}
