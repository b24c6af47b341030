package httpctl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpsfirst/stsguard/internal/sts/common/hostutil"
	"github.com/httpsfirst/stsguard/internal/sts/common/log"
	"github.com/httpsfirst/stsguard/internal/sts/domain"
)

// fakeEngine scripts engine responses and records mutations.
type fakeEngine struct {
	status   domain.Status
	ancestor string
	err      error

	setCalls    []string
	toggleCalls []string
	replays     int
}

func (f *fakeEngine) StatusOf(host string) (domain.Status, error) {
	if f.err != nil {
		return domain.NotEnforced, f.err
	}
	return f.status, nil
}

func (f *fakeEngine) EnforcingAncestorOf(host string) (string, bool, error) {
	return f.ancestor, f.ancestor != "", nil
}

func (f *fakeEngine) SetSTS(host string, enforce, includeSubdomains bool) error {
	if f.err != nil {
		return f.err
	}
	f.setCalls = append(f.setCalls, host)
	return nil
}

func (f *fakeEngine) ToggleSTS(host string) error {
	if f.err != nil {
		return f.err
	}
	f.toggleCalls = append(f.toggleCalls, host)
	return nil
}

func (f *fakeEngine) EnsureSTS() error {
	f.replays++
	return f.err
}

type fakeBackend struct {
	headers []string
	clears  int
	err     error
}

func (f *fakeBackend) ProcessHeader(locator, header string, ephemeral bool) error {
	if f.err != nil {
		return f.err
	}
	f.headers = append(f.headers, locator+" "+header)
	return nil
}

func (f *fakeBackend) ClearEphemeral() { f.clears++ }

func newTestServer(engine *fakeEngine, backend *fakeBackend) http.Handler {
	return New("127.0.0.1:0", engine, backend, log.NewNoopLogger()).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Status(t *testing.T) {
	tests := []struct {
		name         string
		status       domain.Status
		ancestor     string
		wantStatus   string
		wantAncestor string
	}{
		{
			name:       "not enforced",
			status:     domain.NotEnforced,
			wantStatus: "not_enforced",
		},
		{
			name:       "site enforced",
			status:     domain.SiteEnforced,
			wantStatus: "site_enforced",
		},
		{
			name:       "user enforced",
			status:     domain.UserEnforced,
			wantStatus: "user_enforced",
		},
		{
			name:       "user enforced with subdomains",
			status:     domain.UserEnforcedWithSubdomains,
			wantStatus: "user_enforced_with_subdomains",
		},
		{
			name:         "parent governed includes the ancestor",
			status:       domain.UserEnforcedParent,
			ancestor:     "parent.test",
			wantStatus:   "user_enforced_parent",
			wantAncestor: "parent.test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeEngine{status: tt.status, ancestor: tt.ancestor}, &fakeBackend{})

			w := doJSON(t, h, http.MethodGet, "/v1/status?host=sub.parent.test", "")
			require.Equal(t, http.StatusOK, w.Code)

			var resp statusResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "sub.parent.test", resp.Host)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantAncestor, resp.EnforcingAncestor)
		})
	}
}

func TestServer_Status_MissingHost(t *testing.T) {
	h := newTestServer(&fakeEngine{}, &fakeBackend{})

	w := doJSON(t, h, http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Status_UnparseableHost(t *testing.T) {
	h := newTestServer(&fakeEngine{err: hostutil.ErrUnparseableHost}, &fakeBackend{})

	w := doJSON(t, h, http.MethodGet, "/v1/status?host=bad", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Policy(t *testing.T) {
	engine := &fakeEngine{status: domain.UserEnforced}
	h := newTestServer(engine, &fakeBackend{})

	w := doJSON(t, h, http.MethodPost, "/v1/policy",
		`{"host":"example.com","enforce":true,"includeSubdomains":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"example.com"}, engine.setCalls)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user_enforced", resp.Status)
}

func TestServer_Policy_BadBody(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestServer(engine, &fakeBackend{})

	w := doJSON(t, h, http.MethodPost, "/v1/policy", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, engine.setCalls)
}

func TestServer_Toggle(t *testing.T) {
	engine := &fakeEngine{status: domain.UserEnforced}
	h := newTestServer(engine, &fakeBackend{})

	w := doJSON(t, h, http.MethodPost, "/v1/toggle", `{"host":"example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"example.com"}, engine.toggleCalls)
}

func TestServer_Replay(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestServer(engine, &fakeBackend{})

	w := doJSON(t, h, http.MethodPost, "/v1/replay", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, engine.replays)
}

func TestServer_Header(t *testing.T) {
	backend := &fakeBackend{}
	h := newTestServer(&fakeEngine{}, backend)

	w := doJSON(t, h, http.MethodPost, "/v1/header",
		`{"host":"hsts.example","header":"max-age=31536000; includeSubDomains"}`)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, backend.headers, 1)
	assert.Equal(t, "http://hsts.example/ max-age=31536000; includeSubDomains", backend.headers[0])
}

func TestServer_Header_UnparseableHost(t *testing.T) {
	backend := &fakeBackend{}
	h := newTestServer(&fakeEngine{}, backend)

	w := doJSON(t, h, http.MethodPost, "/v1/header",
		`{"host":"bad host:99","header":"max-age=300"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, backend.headers)
}

func TestServer_EphemeralClear(t *testing.T) {
	engine := &fakeEngine{}
	backend := &fakeBackend{}
	h := newTestServer(engine, backend)

	w := doJSON(t, h, http.MethodPost, "/v1/ephemeral/clear", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, backend.clears)
	assert.Equal(t, 1, engine.replays, "a fresh ephemeral context is re-seeded from the store")
}

func TestServer_Healthz(t *testing.T) {
	h := newTestServer(&fakeEngine{}, &fakeBackend{})

	w := doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
