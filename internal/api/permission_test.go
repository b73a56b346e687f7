package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackadi-io/netbatch/internal/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAuthorization = `
users:
  alice:
    roles: [admin]
  bob:
    roles: [viewer, operator]
  carol:
    roles: [ghost]
roles:
  admin:
    endpoints: ["*:*"]
    commands: ["*"]
    intents: ["*"]
  viewer:
    endpoints: ["runs:read", "inventory:read", "invalid"]
  operator:
    endpoints: ["batch:*"]
    commands: ["show *", "ping 10.0.0.1"]
    intents: ["bgp", "interface*"]
`

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AuthorizationFile), []byte(testAuthorization), 0o600))

	a := NewAuthorizer(dir)
	require.NoError(t, a.Load())
	return a
}

func TestPermissionMatch(t *testing.T) {
	tests := []struct {
		perm     Permission
		resource string
		action   string
		want     bool
	}{
		{Permission{"batch", "run"}, "batch", "run", true},
		{Permission{"batch", "*"}, "batch", "plan", true},
		{Permission{"*", "read"}, "runs", "read", true},
		{Permission{"*", "read"}, "batch", "run", false},
		{Permission{"runs", "read"}, "pool", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.perm.Resource+":"+tt.perm.Action, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perm.Match(tt.resource, tt.action))
		})
	}
}

func TestParsePermission(t *testing.T) {
	p, err := parsePermission(" batch : run ")
	require.NoError(t, err)
	assert.Equal(t, Permission{Resource: "batch", Action: "run"}, p)

	_, err = parsePermission("batch")
	require.Error(t, err)
}

func TestCanAccessEndpoint(t *testing.T) {
	a := newTestAuthorizer(t)

	tests := []struct {
		user     string
		resource string
		action   string
		want     bool
	}{
		{"alice", "pool", "read", true},
		{"bob", "runs", "read", true},
		{"bob", "batch", "run", true},
		{"bob", "pool", "read", false},
		{"carol", "runs", "read", false},
		{"mallory", "runs", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.resource+":"+tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, a.canAccessEndpoint(tt.user, tt.resource, tt.action))
		})
	}
}

func TestCanRun(t *testing.T) {
	a := newTestAuthorizer(t)

	tests := []struct {
		name     string
		user     string
		commands []string
		intents  []string
		wantErr  string
	}{
		{name: "admin runs anything", user: "alice", commands: []string{"reload"}, intents: []string{"logs"}},
		{name: "prefix pattern", user: "bob", commands: []string{"show version", "show ip route"}},
		{name: "exact pattern", user: "bob", commands: []string{"ping 10.0.0.1"}},
		{name: "exact pattern only", user: "bob", commands: []string{"ping 10.0.0.2"}, wantErr: `command "ping 10.0.0.2" not allowed`},
		{name: "denied command", user: "bob", commands: []string{"show version", "reload"}, wantErr: `command "reload" not allowed`},
		{name: "intent patterns", user: "bob", intents: []string{"bgp", "interfaces"}},
		{name: "denied intent", user: "bob", intents: []string{"logs"}, wantErr: `intent "logs" not allowed`},
		{name: "unknown user", user: "mallory", commands: []string{"show version"}, wantErr: "not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []intent.Call
			for _, name := range tt.intents {
				calls = append(calls, intent.Call{Name: name})
			}

			err := a.canRun(tt.user, tt.commands, calls)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAuthorizerWithoutFile(t *testing.T) {
	a := NewAuthorizer(t.TempDir())
	require.NoError(t, a.Load())

	assert.True(t, a.canAccessEndpoint("anyone", "batch", "run"))
	require.NoError(t, a.canRun("anyone", []string{"reload"}, []intent.Call{{Name: "logs"}}))
}

func TestAuthorizerInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AuthorizationFile), []byte("users: [unclosed"), 0o600))

	require.Error(t, NewAuthorizer(dir).Load())
}

func TestAuthorizerHandler(t *testing.T) {
	a := newTestAuthorizer(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name string
		user string
		want int
	}{
		{name: "allowed", user: "bob", want: http.StatusOK},
		{name: "forbidden", user: "carol", want: http.StatusForbidden},
		{name: "anonymous", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, "unused")
			}
			rr := httptest.NewRecorder()
			a.handler("runs", "read", next).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
