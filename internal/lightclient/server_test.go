package lightclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/testutil"
)

func serve(t *testing.T, backend ledger.Client, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewServer(backend, app, testutil.DiscardLogger()).ServeHTTP(rec, req)
	return rec
}

func TestServer_Status(t *testing.T) {
	rec := serve(t, ledger.NewMemoryAt(9), http.MethodGet, "/v2/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"blocks":{"latest":9},"app_id":7}`, rec.Body.String())
}

func TestServer_BlockDataOnlyServesOwnApp(t *testing.T) {
	mem := ledger.NewMemoryAt(2)
	mem.Append(2, app, []byte("mine"))
	mem.Append(2, app+1, []byte("theirs"))

	rec := serve(t, mem, http.MethodGet, "/v2/blocks/2/data", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp blockDataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(2), resp.BlockNumber)
	assert.Equal(t, []dataTransaction{{Data: []byte("mine")}}, resp.DataTransactions)
}

func TestServer_EmptyBlockHasEmptyList(t *testing.T) {
	rec := serve(t, ledger.NewMemoryAt(2), http.MethodGet, "/v2/blocks/1/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"block_number":1,"data_transactions":[]}`, rec.Body.String())
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"height not a number", http.MethodGet, "/v2/blocks/abc/data", "", http.StatusBadRequest},
		{"height above tip", http.MethodGet, "/v2/blocks/6/data", "", http.StatusNotFound},
		{"submit malformed body", http.MethodPost, "/v2/submit", "{", http.StatusBadRequest},
		{"submit empty data", http.MethodPost, "/v2/submit", `{"data":""}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/v1/status", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, ledger.NewMemoryAt(5), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_SubmitSealsNextHeight(t *testing.T) {
	mem := ledger.NewMemoryAt(5)
	rec := serve(t, mem, http.MethodPost, "/v2/submit", `{"data":"aGVsbG8="}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"block_number":6}`, rec.Body.String())

	blobs, err := mem.Fetch(t.Context(), 6, app)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello")}, blobs)
}
