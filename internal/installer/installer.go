package installer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// DefaultCommand is the installer argv prefix used when none is configured
var DefaultCommand = []string{"pip"}

var (
	forbiddenLine   = regexp.MustCompile(`HTTP error 403|403 Client Error: Forbidden`)
	blockedArtifact = regexp.MustCompile(`/packages/([a-zA-Z0-9_.-]+?)-(\d[a-zA-Z0-9.]*)`)
)

// Request describes the install the user asked for. Packages are passed to
// the installer exactly as typed, after the requirements file if both are set.
type Request struct {
	Packages        []string
	RequirementFile string
	Upgrade         bool
	IndexURL        string
	ExtraIndexURL   string
	TrustedHost     string
	NoDeps          bool
	ExtraArgs       []string
}

// Result is what the installer run produced
type Result struct {
	ExitCode int
	// BlockedArtifacts lists name==version pairs the index refused to serve
	BlockedArtifacts []string
}

// Invoker runs the underlying package installer
type Invoker struct {
	Command []string
	Stdin   io.Reader
	Stdout  io.Writer
}

// New creates an invoker for the given argv prefix, wired to the process stdio
func New(command []string) *Invoker {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &Invoker{
		Command: command,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
	}
}

// BuildArgs returns the complete installer argv for req
func (i *Invoker) BuildArgs(req Request) []string {
	args := append([]string{}, i.Command...)
	args = append(args, "install")

	if req.RequirementFile != "" {
		args = append(args, "-r", req.RequirementFile)
	}
	args = append(args, req.Packages...)

	if req.Upgrade {
		args = append(args, "--upgrade")
	}
	if req.IndexURL != "" {
		args = append(args, "--index-url", req.IndexURL)
	}
	if req.ExtraIndexURL != "" {
		args = append(args, "--extra-index-url", req.ExtraIndexURL)
	}
	if req.TrustedHost != "" {
		args = append(args, "--trusted-host", req.TrustedHost)
	}
	if req.NoDeps {
		args = append(args, "--no-deps")
	}

	return append(args, req.ExtraArgs...)
}

// Run executes argv, streaming combined output to Stdout line by line. The
// installer's exit code is returned unmodified; a non-nil error means the
// installer could not be started at all.
func (i *Invoker) Run(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: 1}, errors.New("empty installer command")
	}

	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Env = os.Environ()
	command.Stdin = i.Stdin

	pr, pw := io.Pipe()
	command.Stdout = pw
	command.Stderr = pw

	out := i.Stdout
	if out == nil {
		out = io.Discard
	}

	scanned := make(chan []string, 1)
	go func() {
		scanned <- scanOutput(pr, out)
	}()

	err := command.Run()
	pw.Close()
	blocked := <-scanned

	result := Result{BlockedArtifacts: blocked}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = 1
		return result, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}

	return result, nil
}

// scanOutput copies r to out and collects artifacts refused with a 403
func scanOutput(r io.Reader, out io.Writer) []string {
	var blocked []string
	seen := make(map[string]bool)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			io.WriteString(out, line)

			if forbiddenLine.MatchString(line) {
				if m := blockedArtifact.FindStringSubmatch(line); m != nil {
					artifact := strings.ToLower(m[1]) + "==" + cleanVersion(m[2])
					if !seen[artifact] {
						seen[artifact] = true
						blocked = append(blocked, artifact)
					}
				}
			}
		}
		if err != nil {
			// drain so the installer never blocks on a full pipe
			io.Copy(io.Discard, r)
			return blocked
		}
	}
}

// cleanVersion removes archive extensions picked up with sdist names
func cleanVersion(version string) string {
	// filepath.Ext would treat "2.3.5" as having an extension
	knownExtensions := []string{".tar.gz", ".tar.bz2", ".zip", ".whl", ".metadata"}
	for _, ext := range knownExtensions {
		if strings.HasSuffix(version, ext) {
			version = strings.TrimSuffix(version, ext)
			break
		}
	}
	return strings.TrimSuffix(version, ".")
}
