// Package rewrite maps inbound request paths onto upstream paths.
package rewrite

import (
	"fmt"
	"strings"
)

// Mode selects how a Rule rewrites paths.
type Mode string

const (
	// Identity forwards the path unchanged.
	Identity Mode = "identity"
	// StripPrefix removes a routing prefix.
	StripPrefix Mode = "strip_prefix"
	// ReplacePrefix removes a routing prefix and splices in a fixed upstream
	// sub-path. A prefix of "/" prepends the sub-path to every path.
	ReplacePrefix Mode = "replace_prefix"
)

// Rule is an immutable path rewrite. The zero value is the identity rule.
type Rule struct {
	mode   Mode
	prefix string
	target string
}

// New validates the parameters and builds a Rule. An empty mode means Identity.
func New(mode Mode, prefix, target string) (Rule, error) {
	switch mode {
	case "", Identity:
		return Rule{mode: Identity}, nil
	case StripPrefix:
		p, err := cleanPrefix("prefix", prefix)
		if err != nil {
			return Rule{}, err
		}
		return Rule{mode: StripPrefix, prefix: p}, nil
	case ReplacePrefix:
		p := ""
		if prefix != "/" {
			var err error
			if p, err = cleanPrefix("prefix", prefix); err != nil {
				return Rule{}, err
			}
		}
		t, err := cleanPrefix("target", target)
		if err != nil {
			return Rule{}, err
		}
		return Rule{mode: ReplacePrefix, prefix: p, target: t}, nil
	default:
		return Rule{}, fmt.Errorf("rewrite: unknown mode %q", mode)
	}
}

// Mode reports the rule's mode.
func (r Rule) Mode() Mode {
	if r.mode == "" {
		return Identity
	}
	return r.mode
}

// Path rewrites an escaped path. The query string must already be split off.
func (r Rule) Path(path string) string {
	switch r.mode {
	case StripPrefix:
		rest, ok := trimPrefix(path, r.prefix)
		if !ok {
			return path
		}
		if rest == "" {
			return "/"
		}
		return rest
	case ReplacePrefix:
		rest, ok := trimPrefix(path, r.prefix)
		if !ok {
			return path
		}
		return r.target + rest
	default:
		return path
	}
}

// RequestURI rewrites a raw path + query. The query, including a bare
// trailing "?", is carried over byte for byte.
func (r Rule) RequestURI(uri string) string {
	path, query, found := strings.Cut(uri, "?")
	path = r.Path(path)
	if !found {
		return path
	}
	return path + "?" + query
}

// trimPrefix removes prefix when path equals it or continues with "/".
// The remainder is empty for an exact match and otherwise starts with "/",
// so a trailing slash survives. An empty prefix matches any absolute path.
func trimPrefix(path, prefix string) (string, bool) {
	if path == prefix {
		return "", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return "", false
}

func cleanPrefix(field, p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", fmt.Errorf("rewrite: %s must start with '/'; got %q", field, p)
	}
	if strings.ContainsAny(p, "?#") {
		return "", fmt.Errorf("rewrite: %s must not contain '?' or '#'; got %q", field, p)
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "", fmt.Errorf("rewrite: %s must not be the root path", field)
	}
	return p, nil
}
