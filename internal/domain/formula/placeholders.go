package formula

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder keys understood in build and test commands.
const (
	PlaceholderPrefix  = "prefix"
	PlaceholderName    = "name"
	PlaceholderVersion = "version"
	PlaceholderJobs    = "jobs"
	// PlaceholderOpt is used as "opt:<dependency>".
	PlaceholderOpt = "opt"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Vars maps placeholder keys ("prefix", "opt:zlib") to values.
type Vars map[string]string

// Expand replaces every {{key}} in s. An unknown key is an error.
func (v Vars) Expand(s string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := v[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w %q in %q", ErrUnknownPlaceholder, missing[0], s)
	}
	return out, nil
}

func placeholderKeys(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, m[1])
	}
	return keys
}

// checkPlaceholder validates a key against the descriptor's dependencies.
func checkPlaceholder(key string, deps map[string]bool) error {
	switch key {
	case PlaceholderPrefix, PlaceholderName, PlaceholderVersion, PlaceholderJobs:
		return nil
	}
	if dep, ok := strings.CutPrefix(key, PlaceholderOpt+":"); ok {
		if !deps[dep] {
			return fmt.Errorf("placeholder {{%s}} refers to %q which is not a declared dependency", key, dep)
		}
		return nil
	}
	return fmt.Errorf("%w {{%s}}", ErrUnknownPlaceholder, key)
}
