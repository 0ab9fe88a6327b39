package keysource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
)

const validKey = "ss://Y2hhY2hhMjAtaWV0Zi1wb2x5MTMwNTpCTE5zbXhBUTFmdVVsMndVWUtGcFNq@96.126.107.202:19834"

func TestStatic(t *testing.T) {
	key, err := NewStatic("  " + validKey + "\n").AccessKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 19834, key.Port)

	_, err = NewStatic("http://nope").AccessKey(context.Background())
	assert.Equal(t, platerrors.MissingScheme, platerrors.CodeOf(err))
}

func TestHTTP(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode platerrors.ErrorCode
		wantOK   bool
	}{
		{"accessUrl", http.StatusOK, `{"accessUrl":"` + validKey + `"}`, "", true},
		{"access_url", http.StatusOK, `{"access_url":"` + validKey + `","name":"x"}`, "", true},
		{"accessurl", http.StatusOK, `{"accessurl":"` + validKey + `"}`, "", true},
		{"missing key", http.StatusOK, `{"server":"x"}`, platerrors.FetchConfigFailed, false},
		{"empty key", http.StatusOK, `{"accessUrl":"  "}`, platerrors.FetchConfigFailed, false},
		{"not json", http.StatusOK, `<html>`, platerrors.FetchConfigFailed, false},
		{"bad key", http.StatusOK, `{"accessUrl":"ss://AA==@host"}`, platerrors.MissingCredentialDelimiter, false},
		{"unauthorized", http.StatusUnauthorized, `nope`, platerrors.Unauthenticated, false},
		{"forbidden", http.StatusForbidden, ``, platerrors.Unauthenticated, false},
		{"server error", http.StatusInternalServerError, `boom`, platerrors.FetchConfigFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, ConfigPath, r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src := NewHTTP(srv.URL+"/", "tok", srv.Client(), model.NewTestLogger())
			key, err := src.AccessKey(context.Background())
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, "96.126.107.202", key.Host)
				return
			}
			require.Error(t, err)
			assert.Nil(t, key)
			assert.Equal(t, tt.wantCode, platerrors.CodeOf(err))
		})
	}
}

func TestHTTPTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewHTTP(url, "tok", nil, model.NewTestLogger()).AccessKey(context.Background())
	assert.Equal(t, platerrors.FetchConfigFailed, platerrors.CodeOf(err))
}

func TestHTTPCanceled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTP(srv.URL, "tok", srv.Client(), model.NewTestLogger()).AccessKey(ctx)
	assert.Equal(t, platerrors.OperationCanceled, platerrors.CodeOf(err))
}
