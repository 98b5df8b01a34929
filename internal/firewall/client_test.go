package firewall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedQuery struct {
	endpoint string
	result   string
}

type fakeObserver struct {
	mu      sync.Mutex
	queries []recordedQuery
}

func (o *fakeObserver) ObserveQuery(endpoint, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, recordedQuery{endpoint, result})
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_CheckIndex(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		want     IndexStatus
		wantKind ErrorKind
	}{
		{name: "exists", status: http.StatusOK, want: IndexExists},
		{name: "not found", status: http.StatusNotFound, want: IndexNotFound},
		{name: "blocked", status: http.StatusForbidden, want: IndexBlocked},
		{name: "server error", status: http.StatusInternalServerError, wantKind: KindUnexpectedStatus},
		{name: "redirect is not followed", status: http.StatusMovedPermanently, wantKind: KindUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				if tt.status == http.StatusMovedPermanently {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			})

			status, err := NewClient(srv.URL).CheckIndex(context.Background(), "Requests")
			assert.Equal(t, "/simple/requests/", gotPath)

			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestClient_GetBlockRecord(t *testing.T) {
	t.Run("no block record", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/blocked/requests", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		})

		record, err := NewClient(srv.URL).GetBlockRecord(context.Background(), "requests")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("block record with count and list", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/blocked/keras", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"package": "keras",
				"status": "blocked",
				"blocked_versions": 2,
				"blocked_versions_list": ["3.11.2", "3.11.3"],
				"reasons": ["Vulnerabilities found: CVE-2025-12060"]
			}`))
		})

		record, err := NewClient(srv.URL+"/").GetBlockRecord(context.Background(), "KERAS")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "keras", record.Package)
		assert.Equal(t, []string{"3.11.2", "3.11.3"}, record.BlockedVersions)
		assert.Equal(t, 2, record.BlockedCount)
		assert.Equal(t, []string{"Vulnerabilities found: CVE-2025-12060"}, record.Reasons)
		assert.True(t, record.Blocks("3.11.2"))
		assert.False(t, record.Blocks("3.12.0"))
		assert.False(t, record.BlocksAll())
	})

	t.Run("legacy list in blocked_versions", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": "blocked", "blocked_versions": ["*"], "reasons": []}`))
		})

		record, err := NewClient(srv.URL).GetBlockRecord(context.Background(), "evil")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "evil", record.Package)
		assert.Equal(t, []string{"*"}, record.BlockedVersions)
		assert.True(t, record.BlocksAll())
		assert.Empty(t, record.Reasons)
	})

	malformed := map[string]string{
		"not json":            `<html>oops</html>`,
		"json null":           `null`,
		"status not blocked":  `{"status": "allowed", "reasons": []}`,
		"missing status":      `{"package": "x", "reasons": ["r"]}`,
		"reasons not strings": `{"status": "blocked", "reasons": [1, 2]}`,
		"versions wrong type": `{"status": "blocked", "blocked_versions": "lots"}`,
	}
	for name, body := range malformed {
		t.Run("malformed: "+name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})

			record, err := NewClient(srv.URL).GetBlockRecord(context.Background(), "pkg")
			require.Error(t, err)
			assert.Nil(t, record)
			assert.Equal(t, KindMalformedResponse, KindOf(err))
			assert.Contains(t, err.Error(), "malformed response")
		})
	}

	t.Run("unexpected status", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := NewClient(srv.URL).GetBlockRecord(context.Background(), "pkg")
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, KindUnexpectedStatus, te.Kind)
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestClient_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	client := NewClient(srv.URL, WithTimeout(50*time.Millisecond))

	_, err := client.GetBlockRecord(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "timeout")

	_, err = client.CheckIndex(context.Background(), "slow")
	assert.True(t, IsTimeout(err))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).GetBlockRecord(context.Background(), "requests")
	require.Error(t, err)
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.Contains(t, err.Error(), "cannot connect to firewall at "+url)
}

func TestClient_Canceled(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).GetBlockRecord(ctx, "requests")
	assert.Equal(t, KindCanceled, KindOf(err))
}

func TestClient_Ping(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/simple/", r.URL.Path)
			w.Write([]byte("<html></html>"))
		})
		assert.NoError(t, NewClient(srv.URL).Ping(context.Background()))
	})

	t.Run("non-200 is unreachable", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		err := NewClient(srv.URL).Ping(context.Background())
		assert.Equal(t, KindUnexpectedStatus, KindOf(err))
	})
}

func TestClient_ObservesQueries(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocked/keras":
			w.Write([]byte(`{"status": "blocked", "blocked_versions_list": ["1.0"], "reasons": ["bad"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	obs := &fakeObserver{}
	client := NewClient(srv.URL, WithObserver(obs))

	_, err := client.GetBlockRecord(context.Background(), "keras")
	require.NoError(t, err)
	_, err = client.GetBlockRecord(context.Background(), "requests")
	require.NoError(t, err)
	_, err = client.CheckIndex(context.Background(), "requests")
	require.NoError(t, err)

	assert.Equal(t, []recordedQuery{
		{"blocked", "block_record"},
		{"blocked", "no_block_record"},
		{"simple", "not_found"},
	}, obs.queries)
}

func TestClient_BlockRecordURL(t *testing.T) {
	client := NewClient("http://127.0.0.1:8000/")
	assert.Equal(t, "http://127.0.0.1:8000", client.BaseURL())
	assert.Equal(t, "http://127.0.0.1:8000/blocked/keras", client.BlockRecordURL("Keras"))
}
