package ms365

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

// newTestGraphClient points a Graph client at a test server, including its
// token endpoint so re-authentication stays local.
func newTestGraphClient(server *httptest.Server) *GraphClient {
	client := NewGraphClient(Config{
		TenantID:     "tenant-guid",
		ClientID:     "client-guid",
		AuthMethod:   models.AuthMethodSecret,
		ClientSecret: "secret",
		PageSize:     2,
		HTTPTimeout:  5 * time.Second,
	})
	client.baseURL = server.URL
	client.betaURL = server.URL
	client.tokens.tokenURL = server.URL + "/token"
	return client
}

func serveToken(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3599}`, token)
}

func TestGraphGetMessageTracesPagination(t *testing.T) {
	var firstQuery, secondQuery string

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc(messageTracePath, func(w http.ResponseWriter, r *http.Request) {
		firstQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"value": [{"messageId": "m1"}, {"messageId": "m2"}],
			"@odata.nextLink": %q
		}`, server.URL+"/page2")
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		secondQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": [{"messageId": "m3"}]}`)
	})

	client := newTestGraphClient(server)
	start := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 19, 23, 59, 59, 0, time.UTC)

	traces, err := client.GetMessageTraces(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, traces, 3)
	assert.Equal(t, "m1", traces[0]["messageId"])
	assert.Equal(t, "m3", traces[2]["messageId"])

	assert.Contains(t, firstQuery, "startDateTime=2026-08-19T00%3A00%3A00Z")
	assert.Contains(t, firstQuery, "endDateTime=2026-08-19T23%3A59%3A59Z")
	assert.Contains(t, firstQuery, "%24top=2")
	assert.Empty(t, secondQuery, "the next link must be followed without re-sending the original query")
}

func TestGraphGetMessageTracesReauthOn401(t *testing.T) {
	tokenCalls := 0

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		serveToken(w, fmt.Sprintf("token-%d", tokenCalls))
	})
	mux.HandleFunc(messageTracePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": [{"messageId": "after-reauth"}]}`)
	})

	client := newTestGraphClient(server)

	traces, err := client.GetMessageTraces(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "after-reauth", traces[0]["messageId"])
	assert.Equal(t, 2, tokenCalls, "exactly one re-authentication")
}

func TestGraphGetMessageTracesPersistent401(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "rejected")
	})
	mux.HandleFunc(messageTracePath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client := newTestGraphClient(server)

	_, err := client.GetMessageTraces(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestGraphGetMessageTracesEndpointUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			mux := http.NewServeMux()
			server := httptest.NewServer(mux)
			defer server.Close()

			mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
				serveToken(w, "token-1")
			})
			mux.HandleFunc(messageTracePath, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})

			client := newTestGraphClient(server)

			_, err := client.GetMessageTraces(context.Background(), time.Now().Add(-time.Hour), time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTracesUnavailable)
		})
	}
}

func TestGraphGetVerifiedDomains(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/domains", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload := map[string]interface{}{
			"value": []map[string]interface{}{
				{"id": "contoso.com", "isVerified": true},
				{"id": "staging.contoso.com", "isVerified": false},
				{"id": "contoso.onmicrosoft.com", "isVerified": true},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	})

	client := newTestGraphClient(server)

	domains, err := client.GetVerifiedDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"contoso.com", "contoso.onmicrosoft.com"}, domains)
}

func TestGraphGetVerifiedDomainsPermissionDenied(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/domains", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"Authorization_RequestDenied","message":"Insufficient permissions"}}`)
	})

	client := newTestGraphClient(server)

	_, err := client.GetVerifiedDomains(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.True(t, IsPermissionError(err))
}

func TestGraphAuthenticateInvalidCredentials(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client","error_description":"AADSTS7000215: Invalid client secret provided."}`)
	})

	client := newTestGraphClient(server)

	err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "AADSTS7000215")
}

func TestGraphGetMessageTracesCancellation(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})

	client := newTestGraphClient(server)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetMessageTraces(ctx, time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
