package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultServer(t *testing.T, status *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/scribesync", r.URL.Path)
		assert.Equal(t, "root", r.Header.Get("X-Vault-Token"))
		code := int(status.Load())
		if code != http.StatusOK {
			status.Store(http.StatusOK)
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(addr string) VaultConfig {
	return VaultConfig{Enabled: true, Addr: addr, Token: "root", Mount: "secret", Path: "scribesync", KVVersion: 2}
}

func TestFetch_KVv2(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := vaultServer(t, &status, `{"data":{"data":{"AWS_ACCESS_KEY_ID":"AKIA","DB_PORT":5432,"SYNC_ENABLED":true,"EMPTY":null}}}`)

	values, err := Fetch(context.Background(), srv.Client(), testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "AKIA", values["AWS_ACCESS_KEY_ID"])
	assert.Equal(t, "5432", values["DB_PORT"])
	assert.Equal(t, "true", values["SYNC_ENABLED"])
	assert.Equal(t, "", values["EMPTY"])
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := vaultServer(t, &status, `{"data":{"data":{"DB_PASSWORD":"pw"}}}`)

	values, err := Fetch(context.Background(), srv.Client(), testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "pw", values["DB_PASSWORD"])
}

func TestFetch_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.Client(), testConfig(srv.URL))
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetch_IncompleteConfig(t *testing.T) {
	_, err := Fetch(context.Background(), http.DefaultClient, VaultConfig{Addr: "http://vault"})
	assert.Error(t, err)
}

func TestApply_KeepsExistingUnlessOverwrite(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := vaultServer(t, &status, `{"data":{"data":{"SCRIBESYNC_TEST_A":"vault","SCRIBESYNC_TEST_B":"vault"}}}`)

	t.Setenv("SCRIBESYNC_TEST_A", "local")
	t.Setenv("SCRIBESYNC_TEST_B", "")

	cfg := testConfig(srv.URL)
	result, err := Apply(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "local", os.Getenv("SCRIBESYNC_TEST_A"))
	assert.Equal(t, "vault", os.Getenv("SCRIBESYNC_TEST_B"))

	cfg.Overwrite = true
	_, err = Apply(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "vault", os.Getenv("SCRIBESYNC_TEST_A"))
}

func TestApply_Disabled(t *testing.T) {
	result, err := Apply(context.Background(), VaultConfig{})
	require.NoError(t, err)
	assert.Zero(t, result.Loaded)
}

func TestSecretURL_KVv1(t *testing.T) {
	url, err := secretURL(VaultConfig{Addr: "http://vault/", Mount: "/kv/", Path: "/app", KVVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, "http://vault/v1/kv/app", url)
}
