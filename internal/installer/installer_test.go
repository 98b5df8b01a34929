package installer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name    string
		command []string
		req     Request
		want    []string
	}{
		{
			name: "packages passed untouched",
			req:  Request{Packages: []string{"Requests", "keras==3.11.2"}},
			want: []string{"pip", "install", "Requests", "keras==3.11.2"},
		},
		{
			name: "requirements file",
			req:  Request{RequirementFile: "requirements.txt"},
			want: []string{"pip", "install", "-r", "requirements.txt"},
		},
		{
			name: "requirements file and packages",
			req:  Request{RequirementFile: "requirements.txt", Packages: []string{"six"}},
			want: []string{"pip", "install", "-r", "requirements.txt", "six"},
		},
		{
			name:    "custom command and options",
			command: []string{"python", "-m", "pip"},
			req: Request{
				Packages:      []string{"numpy"},
				Upgrade:       true,
				IndexURL:      "http://127.0.0.1:8000/simple/",
				ExtraIndexURL: "http://mirror/simple/",
				TrustedHost:   "127.0.0.1",
				NoDeps:        true,
				ExtraArgs:     []string{"--quiet"},
			},
			want: []string{
				"python", "-m", "pip", "install", "numpy",
				"--upgrade",
				"--index-url", "http://127.0.0.1:8000/simple/",
				"--extra-index-url", "http://mirror/simple/",
				"--trusted-host", "127.0.0.1",
				"--no-deps",
				"--quiet",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := New(tt.command)
			assert.Equal(t, tt.want, inv.BuildArgs(tt.req))
		})
	}
}

func TestBuildArgs_DoesNotMutateCommand(t *testing.T) {
	command := make([]string, 1, 8)
	command[0] = "pip"
	inv := New(command)

	inv.BuildArgs(Request{Packages: []string{"a"}})
	inv.BuildArgs(Request{Packages: []string{"b"}})

	assert.Equal(t, []string{"pip"}, inv.Command)
}

func TestRun_PassesExitCodeAndOutput(t *testing.T) {
	var out bytes.Buffer
	inv := &Invoker{Stdout: &out}

	result, err := inv.Run(context.Background(), []string{"sh", "-c", "echo installing; echo oops >&2; exit 3"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, out.String(), "installing\n")
	assert.Contains(t, out.String(), "oops\n")
	assert.Empty(t, result.BlockedArtifacts)
}

func TestRun_Success(t *testing.T) {
	result, err := (&Invoker{}).Run(context.Background(), []string{"sh", "-c", "exit 0"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRun_CollectsForbiddenArtifacts(t *testing.T) {
	script := strings.Join([]string{
		"echo 'Collecting numpy'",
		"echo 'ERROR: HTTP error 403 while getting http://127.0.0.1:8000/pypi/packages/numpy-2.3.5-cp313-cp313-win_amd64.whl.metadata'",
		"echo 'ERROR: 403 Client Error: Forbidden for url: http://127.0.0.1:8000/pypi/packages/numpy-2.3.5-cp313-cp313-win_amd64.whl'",
		"echo 'ERROR: HTTP error 403 while getting http://127.0.0.1:8000/pypi/packages/Keras-3.11.2.tar.gz'",
		"echo 'Downloading http://127.0.0.1:8000/pypi/packages/six-1.16.0-py2.py3-none-any.whl'",
		"exit 1",
	}, "; ")

	var out bytes.Buffer
	result, err := (&Invoker{Stdout: &out}).Run(context.Background(), []string{"sh", "-c", script})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, []string{"numpy==2.3.5", "keras==3.11.2"}, result.BlockedArtifacts)
	assert.Contains(t, out.String(), "Collecting numpy")
}

func TestRun_StartFailure(t *testing.T) {
	result, err := (&Invoker{}).Run(context.Background(), []string{"/nonexistent/pip-binary"})
	require.Error(t, err)
	assert.Equal(t, 1, result.ExitCode)

	_, err = (&Invoker{}).Run(context.Background(), nil)
	assert.Error(t, err)
}
