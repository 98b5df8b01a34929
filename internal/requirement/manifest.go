package requirement

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ParseFile reads a requirements manifest and returns its specifiers in file order.
//
// Blank lines and comments are skipped, inline comments are stripped, lines
// ending in a backslash are joined, and nested `-r FILE` includes are followed
// relative to the including file. `-e` targets are install targets. Index and
// resolver options are ignored; any other option fails the parse.
func ParseFile(path string) ([]Specifier, error) {
	return parseFile(path, make(map[string]bool))
}

func parseFile(path string, visited map[string]bool) ([]Specifier, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Cause: err}
	}
	if visited[abs] {
		return nil, nil
	}
	visited[abs] = true

	f, err := os.Open(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Cause: err}
	}
	defer f.Close()

	var specs []Specifier
	var pending strings.Builder
	scanner := bufio.NewScanner(f)
	lineNo, entryLine := 0, 0

	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if pending.Len() == 0 {
			entryLine = lineNo
		}
		if strings.HasSuffix(text, `\`) {
			pending.WriteString(strings.TrimSuffix(text, `\`))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(text)

		entry, err := parseEntry(path, pending.String(), entryLine, visited)
		pending.Reset()
		if err != nil {
			return nil, err
		}
		specs = append(specs, entry...)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ManifestError{Path: path, Cause: err}
	}
	if pending.Len() > 0 {
		entry, err := parseEntry(path, pending.String(), entryLine, visited)
		if err != nil {
			return nil, err
		}
		specs = append(specs, entry...)
	}

	return specs, nil
}

// parseEntry turns one logical manifest line into zero or more specifiers
func parseEntry(path, text string, lineNo int, visited map[string]bool) ([]Specifier, error) {
	line := stripComment(text)
	if line == "" {
		return nil, nil
	}

	var (
		specs []Specifier
		err   error
	)
	if strings.HasPrefix(line, "-") {
		specs, err = parseOptionLine(path, line, visited)
	} else {
		req, reason := stripRequirementOptions(line)
		if reason != "" {
			err = &SpecifierError{Token: line, Reason: reason}
		} else {
			var spec Specifier
			spec, err = Parse(req)
			specs = []Specifier{spec}
		}
	}

	var se *SpecifierError
	if errors.As(err, &se) && se.Source == "" {
		se.Source = path
		se.Line = lineNo
	}
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// parseOptionLine handles a manifest line that starts with an option
func parseOptionLine(path, line string, visited map[string]bool) ([]Specifier, error) {
	name, value := splitOption(line)
	switch name {
	case "-r", "--requirement":
		if value == "" {
			return nil, &SpecifierError{Token: line, Reason: "option requires a value"}
		}
		if !filepath.IsAbs(value) {
			value = filepath.Join(filepath.Dir(path), value)
		}
		return parseFile(value, visited)
	case "-e", "--editable":
		spec, err := ParseEditable(value)
		if err != nil {
			return nil, err
		}
		return []Specifier{spec}, nil
	}

	if _, ok := fileOptions[name]; ok {
		return nil, nil
	}
	return nil, &SpecifierError{Token: line, Reason: "unsupported option " + `"` + name + `"`}
}

// stripComment trims the line and drops full-line and inline comments.
func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	// pip only treats '#' as a comment when preceded by whitespace
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}
