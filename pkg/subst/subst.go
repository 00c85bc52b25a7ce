// Package subst implements placeholder substitution for configuration values.
// Placeholders use the form {NAME} and are resolved against an environment map;
// unresolved placeholders are left literal so a missing key never fails.
package subst

import "regexp"

// Maximum fixed-point iterations when resolving an env map whose values
// reference each other. The cap stops runaway expansion; anything still
// unresolved after it stays literal.
const maxResolveIterations = 10

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces every {NAME} occurrence in text with env[NAME] when the
// key is present. Unknown placeholders are returned unchanged.
func Substitute(text string, env map[string]string) string {
	if text == "" || len(env) == 0 {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := env[name]; ok {
			return value
		}
		return match
	})
}

// SubstituteSlice substitutes placeholders in each element of values.
func SubstituteSlice(values []string, env map[string]string) []string {
	if len(values) == 0 {
		return values
	}
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = Substitute(v, env)
	}
	return result
}

// SubstituteMap substitutes placeholders in every value of m. Keys are not
// substituted.
func SubstituteMap(m map[string]string, env map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = Substitute(v, env)
	}
	return result
}

// ResolveEnv resolves a declared env map against an external environment,
// iterating to a fixed point so declared entries may reference each other
// (e.g. TOKEN={API_KEY} alongside API_KEY supplied externally, or one declared
// variable expanding to another declared variable). Resolution stops when a
// full pass changes nothing or the iteration cap is reached.
func ResolveEnv(declared, external map[string]string) map[string]string {
	resolved := make(map[string]string, len(declared))
	for k, v := range declared {
		resolved[k] = v
	}

	for i := 0; i < maxResolveIterations; i++ {
		changed := false

		// Combined lookup: external env plus the progressively resolved siblings.
		lookup := make(map[string]string, len(external)+len(resolved))
		for k, v := range external {
			lookup[k] = v
		}
		for k, v := range resolved {
			lookup[k] = v
		}

		for k, v := range resolved {
			next := Substitute(v, lookup)
			if next != v {
				resolved[k] = next
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	return resolved
}

// MergedEnv layers a resolved declared env on top of the external environment,
// producing the lookup used for a server's remaining string fields.
func MergedEnv(resolved, external map[string]string) map[string]string {
	merged := make(map[string]string, len(external)+len(resolved))
	for k, v := range external {
		merged[k] = v
	}
	for k, v := range resolved {
		merged[k] = v
	}
	return merged
}
