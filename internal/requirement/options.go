package requirement

import (
	"regexp"
	"strings"
)

// fileOptions are the installer options allowed on their own line in a
// requirements file. None of them names an install target. The value is the
// number of separate arguments the option takes on the command line.
var fileOptions = map[string]int{
	"-i":                1,
	"--index-url":       1,
	"--extra-index-url": 1,
	"--no-index":        0,
	"-c":                1,
	"--constraint":      1,
	"-f":                1,
	"--find-links":      1,
	"--trusted-host":    1,
	"--no-binary":       1,
	"--only-binary":     1,
	"--prefer-binary":   0,
	"--pre":             0,
	"--require-hashes":  0,
	"--use-feature":     1,
}

// commandOptions are the remaining installer options accepted after `--`
var commandOptions = map[string]int{
	"-U":                          0,
	"--upgrade":                   0,
	"--upgrade-strategy":          1,
	"--no-deps":                   0,
	"--force-reinstall":           0,
	"-I":                          0,
	"--ignore-installed":          0,
	"--ignore-requires-python":    0,
	"--user":                      0,
	"-t":                          1,
	"--target":                    1,
	"--prefix":                    1,
	"--root":                      1,
	"--src":                       1,
	"--platform":                  1,
	"--python-version":            1,
	"--implementation":            1,
	"--abi":                       1,
	"--no-build-isolation":        0,
	"--no-clean":                  0,
	"--no-compile":                0,
	"--compile":                   0,
	"--no-warn-script-location":   0,
	"--no-warn-conflicts":         0,
	"--dry-run":                   0,
	"--report":                    1,
	"--break-system-packages":     0,
	"--root-user-action":          1,
	"-C":                          1,
	"--config-settings":           1,
	"--global-option":             1,
	"--progress-bar":              1,
	"--no-cache-dir":              0,
	"--cache-dir":                 1,
	"--disable-pip-version-check": 0,
	"--no-color":                  0,
	"--no-input":                  0,
	"--isolated":                  0,
	"--require-virtualenv":        0,
	"--log":                       1,
	"--proxy":                     1,
	"--retries":                   1,
	"--timeout":                   1,
	"--exists-action":             1,
	"--cert":                      1,
	"--client-cert":               1,
	"--keyring-provider":          1,
	"--use-deprecated":            1,
	"--python":                    1,
	"-q":                          0,
	"-qq":                         0,
	"-qqq":                        0,
	"--quiet":                     0,
	"-v":                          0,
	"-vv":                         0,
	"-vvv":                        0,
	"--verbose":                   0,
	"--no-python-version-warning": 0,
	"--check-build-dependencies":  0,
	"--no-use-pep517":             0,
	"--use-pep517":                0,
}

// requirementOptions may follow a requirement on the same manifest line
var requirementOptions = map[string]bool{
	"--hash":            true,
	"--global-option":   true,
	"--install-option":  true,
	"--config-settings": true,
	"-C":                true,
}

var lineOptionStart = regexp.MustCompile(`\s-`)

// ParseEditable resolves the package behind an editable install target.
// Paths and URLs need an `#egg=` fragment to name the package.
func ParseEditable(target string) (Specifier, error) {
	raw := strings.TrimSpace(target)

	if _, egg, ok := strings.Cut(raw, "#egg="); ok {
		egg, _, _ = strings.Cut(egg, "&")
		spec, err := Parse(egg)
		if err != nil {
			return Specifier{}, &SpecifierError{Token: raw, Reason: "invalid #egg= package name"}
		}
		spec.Raw = raw
		return spec, nil
	}

	if strings.HasPrefix(raw, ".") || strings.ContainsAny(raw, `/\:`) {
		return Specifier{}, &SpecifierError{Token: raw, Reason: "editable target has no #egg= package name"}
	}
	return Parse(raw)
}

// ParseInstallerArgs extracts the install targets hidden in raw installer
// arguments. Bare tokens are requirements, `-r` files and `-e` targets are
// resolved, and known options are skipped together with their values. An
// unrecognized option fails, since its value could be a target.
func ParseInstallerArgs(args []string) ([]Specifier, error) {
	var specs []Specifier
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			spec, err := Parse(arg)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
			continue
		}

		name, value, inline := strings.Cut(arg, "=")
		switch name {
		case "-r", "--requirement", "-e", "--editable":
			if !inline {
				if i+1 >= len(args) {
					return nil, &SpecifierError{Token: arg, Reason: "option requires a value"}
				}
				i++
				value = args[i]
			}
			nested, err := targetOption(name, value)
			if err != nil {
				return nil, err
			}
			specs = append(specs, nested...)
			continue
		}

		arity, ok := fileOptions[name]
		if !ok {
			arity, ok = commandOptions[name]
		}
		if !ok {
			return nil, &SpecifierError{Token: arg, Reason: "unrecognized installer option"}
		}
		if !inline {
			i += arity
		}
	}
	return specs, nil
}

func targetOption(name, value string) ([]Specifier, error) {
	if name == "-r" || name == "--requirement" {
		return ParseFile(value)
	}
	spec, err := ParseEditable(value)
	if err != nil {
		return nil, err
	}
	return []Specifier{spec}, nil
}

// splitOption splits a manifest option line into its name and value
func splitOption(line string) (string, string) {
	end := strings.IndexAny(line, " \t=")
	if end == -1 {
		return line, ""
	}
	return line[:end], strings.TrimSpace(line[end+1:])
}

// stripRequirementOptions removes per-requirement options such as --hash
// from a manifest line, leaving the requirement itself.
func stripRequirementOptions(line string) (string, string) {
	loc := lineOptionStart.FindStringIndex(line)
	if loc == nil {
		return line, ""
	}

	expectValue := false
	for _, field := range strings.Fields(line[loc[0]:]) {
		if strings.HasPrefix(field, "-") {
			name, _, inline := strings.Cut(field, "=")
			if !requirementOptions[name] {
				return "", "unsupported option " + `"` + name + `"`
			}
			expectValue = !inline
			continue
		}
		if !expectValue {
			return "", "unexpected text " + `"` + field + `"`
		}
		expectValue = false
	}

	return strings.TrimSpace(line[:loc[0]]), ""
}
