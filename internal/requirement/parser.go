package requirement

import (
	"regexp"
	"strings"
)

var (
	// name, optional extras, then whatever constraint text follows
	tokenPattern = regexp.MustCompile(`^(?P<name>[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[(?P<extras>[^\]]*)\])?\s*(?P<constraint>.*)$`)

	clausePattern  = regexp.MustCompile(`^(?P<op>===|==|~=|!=|<=|>=|<|>)\s*(?P<version>[A-Za-z0-9._*+!-]+)$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9._+!-]+$`)
)

// Parse turns a single requirement token into a Specifier.
//
// Accepted forms are `name`, `name==version` and `name<op>version` for the
// other comparison operators. Only a single `==` clause with a concrete
// version produces a pinned specifier; open ranges are name-only because the
// firewall cannot evaluate them.
func Parse(token string) (Specifier, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return Specifier{}, &SpecifierError{Token: token, Reason: "empty requirement"}
	}

	// Environment markers never change which package is requested
	body := raw
	if idx := strings.Index(body, ";"); idx != -1 {
		body = strings.TrimSpace(body[:idx])
	}

	matches := tokenPattern.FindStringSubmatch(body)
	if matches == nil {
		return Specifier{}, &SpecifierError{Token: raw, Reason: "missing or invalid package name"}
	}

	groups := make(map[string]string)
	for i, name := range tokenPattern.SubexpNames() {
		if i != 0 && name != "" {
			groups[name] = matches[i]
		}
	}

	spec := Specifier{
		Name: strings.ToLower(groups["name"]),
		Raw:  raw,
	}

	version, err := parseConstraint(strings.TrimSpace(groups["constraint"]))
	if err != nil {
		return Specifier{}, &SpecifierError{Token: raw, Reason: err.Error()}
	}
	spec.Version = version

	return spec, nil
}

// ParseArgs parses CLI tokens in order, stopping at the first malformed one.
func ParseArgs(tokens []string) ([]Specifier, error) {
	specs := make([]Specifier, 0, len(tokens))
	for _, token := range tokens {
		spec, err := Parse(token)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

type constraintError string

func (e constraintError) Error() string { return string(e) }

// parseConstraint returns the pinned version or "" for unbound constraints.
func parseConstraint(constraint string) (string, error) {
	if constraint == "" {
		return "", nil
	}

	// Direct references (name @ url) can only be checked by name
	if strings.HasPrefix(constraint, "@") {
		if strings.TrimSpace(constraint[1:]) == "" {
			return "", constraintError("empty direct reference")
		}
		return "", nil
	}

	clauses := strings.Split(constraint, ",")
	pinned := ""
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		m := clausePattern.FindStringSubmatch(clause)
		if m == nil {
			return "", constraintError("invalid version constraint " + `"` + clause + `"`)
		}
		op, version := m[1], m[2]
		if op == "==" && len(clauses) == 1 && versionPattern.MatchString(version) {
			pinned = version
		}
	}

	return pinned, nil
}
