package crawler

import "strings"

// robotsRules holds the Disallow prefixes of the wildcard user-agent
// section of a robots.txt file. Other agent sections are not consulted.
type robotsRules struct {
	disallow []string
}

// parseRobots reads User-agent / Disallow directives line by line.
// Comments and unknown directives are skipped. Only rules under a
// "User-agent: *" section are kept.
func parseRobots(body string) *robotsRules {
	rules := &robotsRules{}
	wildcard := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)
		switch directive {
		case "user-agent":
			wildcard = value == "*"
		case "disallow":
			if wildcard && value != "" {
				rules.disallow = append(rules.disallow, value)
			}
		}
	}
	return rules
}

// Allowed reports whether the path escapes every Disallow prefix.
func (r *robotsRules) Allowed(path string) bool {
	if r == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
