package utils

import (
	"fmt"
	"sort"
	"strings"
)

// NormalizeBooleanFlags rewrites args so that "--flag false" becomes "--flag=false" for known boolean flags.
// Bare boolean flags are otherwise interpreted as true and the following word as a positional argument.
//
// Pass os.Args and a set of boolean flag names. The returned slice should be assigned back to os.Args.
func NormalizeBooleanFlags(args []string, booleanFlags map[string]struct{}) []string {
	if len(args) <= 2 {
		return args
	}

	normalized := make([]string, 0, len(args))
	normalized = append(normalized, args[0])

	i := 1
	for i < len(args) {
		current := args[i]
		// Stop normalizing after end-of-flags terminator
		if current == "--" {
			normalized = append(normalized, args[i:]...)
			break
		}

		// Match -flag or --flag forms without an equals sign
		if strings.HasPrefix(current, "-") && !strings.Contains(current, "=") {
			dashPrefix := "-"
			if strings.HasPrefix(current, "--") {
				dashPrefix = "--"
			}
			name := strings.TrimLeft(current, "-")
			if _, ok := booleanFlags[name]; ok && i+1 < len(args) {
				next := strings.ToLower(args[i+1])
				if next == "true" || next == "false" {
					normalized = append(normalized, fmt.Sprintf("%s%s=%s", dashPrefix, name, next))
					i += 2
					continue
				}
			}
		}

		normalized = append(normalized, current)
		i++
	}

	return normalized
}

// MultiValueHeader implements pflag.Value to collect repeated --header Name=Value entries.
type MultiValueHeader struct {
	Headers map[string]string
}

func (m *MultiValueHeader) String() string {
	if len(m.Headers) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.Headers))
	for name := range m.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (m *MultiValueHeader) Type() string { return "header" }

func (m *MultiValueHeader) Set(val string) error {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	name, value, found := strings.Cut(val, "=")
	if !found {
		// no '=' present; treat whole as name with empty value
		if val != "" {
			m.Headers[val] = ""
		}
		return nil
	}
	if name == "" {
		return fmt.Errorf("header %q has an empty name", val)
	}
	m.Headers[name] = value
	return nil
}
