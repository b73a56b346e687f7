package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/jackadi-io/netbatch/internal/intent"
)

// AuthorizationFile is read from the configuration directory.
const AuthorizationFile = "authorization.yaml"

type Role string
type User string

// Permission is a resource:action pair, "*" matches anything.
type Permission struct {
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

func (p Permission) Match(resource, action string) bool {
	resourceMatch := resource == p.Resource || p.Resource == "*"
	if !resourceMatch {
		return false
	}
	return action == p.Action || p.Action == "*"
}

func parsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok {
		return Permission{}, fmt.Errorf("invalid permission format: %q (expected resource:action)", s)
	}
	return Permission{
		Resource: strings.TrimSpace(resource),
		Action:   strings.TrimSpace(action),
	}, nil
}

// matchCommand accepts an exact command, or a prefix when the pattern ends with "*".
func matchCommand(pattern, command string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(command, prefix)
	}
	return pattern == command
}

// authorizationConfig is the file format:
//
//	users:
//	  alice:
//	    roles: [operator]
//	roles:
//	  operator:
//	    endpoints: ["scope:*", "batch:*", "runs:read"]
//	    commands: ["show *"]
//	    intents: ["*"]
type authorizationConfig struct {
	Users map[User]struct {
		Roles []Role `yaml:"roles"`
	} `yaml:"users"`
	Roles map[Role]struct {
		Endpoints []string `yaml:"endpoints"`
		Commands  []string `yaml:"commands"`
		Intents   []string `yaml:"intents"`
	} `yaml:"roles"`
}

type Permissions struct {
	Endpoints []Permission
	Commands  []string
	Intents   []string
}

type Authorizer struct {
	users     map[User][]Role
	roles     map[Role]Permissions
	configDir string
	// enabled is false when no authorization file exists: every authenticated user is allowed.
	enabled bool
}

func NewAuthorizer(configDir string) *Authorizer {
	return &Authorizer{
		users:     make(map[User][]Role),
		roles:     make(map[Role]Permissions),
		configDir: configDir,
	}
}

func (a *Authorizer) Load() error {
	configFile := filepath.Join(a.configDir, AuthorizationFile)
	slog.Debug("loading authorization config", "file", configFile)

	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("no authorization config, every authenticated user has full access", "file", configFile)
			return nil
		}
		return fmt.Errorf("failed to load authorization config: %w", err)
	}
	return a.parse(data)
}

func (a *Authorizer) parse(data []byte) error {
	raw := authorizationConfig{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid authorization config file: %w", err)
	}

	users := make(map[User][]Role, len(raw.Users))
	for username, userConfig := range raw.Users {
		users[username] = userConfig.Roles
	}

	roles := make(map[Role]Permissions, len(raw.Roles))
	for roleName, roleConfig := range raw.Roles {
		perms := Permissions{
			Endpoints: make([]Permission, 0, len(roleConfig.Endpoints)),
			Commands:  roleConfig.Commands,
			Intents:   roleConfig.Intents,
		}
		for _, endpoint := range roleConfig.Endpoints {
			perm, err := parsePermission(endpoint)
			if err != nil {
				slog.Warn("invalid endpoint permission", "role", roleName, "permission", endpoint, "error", err)
				continue
			}
			perms.Endpoints = append(perms.Endpoints, perm)
		}
		roles[roleName] = perms
	}

	a.users, a.roles, a.enabled = users, roles, true
	slog.Info("authorization config loaded", "users", len(users), "roles", len(roles))
	return nil
}

// permissions returns the permissions of every role of username.
func (a *Authorizer) permissions(username string) []Permissions {
	userRoles, ok := a.users[User(username)]
	if !ok {
		slog.Debug("user not found in authorization config", "username", username)
		return nil
	}

	out := make([]Permissions, 0, len(userRoles))
	for _, roleName := range userRoles {
		role, ok := a.roles[roleName]
		if !ok {
			slog.Warn("role not found in authorization config", "role", roleName)
			continue
		}
		out = append(out, role)
	}
	return out
}

func (a *Authorizer) canAccessEndpoint(username, resource, action string) bool {
	if !a.enabled {
		return true
	}
	for _, role := range a.permissions(username) {
		for _, perm := range role.Endpoints {
			if perm.Match(resource, action) {
				return true
			}
		}
	}
	slog.Debug("endpoint permission denied", "username", username, "resource", resource, "action", action)
	return false
}

// canRun checks every raw command and intent of a batch.
func (a *Authorizer) canRun(username string, commands []string, intents []intent.Call) error {
	if !a.enabled {
		return nil
	}
	perms := a.permissions(username)

	allowed := func(patterns func(Permissions) []string, value string) bool {
		for _, role := range perms {
			for _, pattern := range patterns(role) {
				if matchCommand(pattern, value) {
					return true
				}
			}
		}
		return false
	}

	for _, cmd := range commands {
		if !allowed(func(p Permissions) []string { return p.Commands }, cmd) {
			return fmt.Errorf("command %q not allowed", cmd)
		}
	}
	for _, call := range intents {
		if !allowed(func(p Permissions) []string { return p.Intents }, call.Name) {
			return fmt.Errorf("intent %q not allowed", call.Name)
		}
	}
	return nil
}

// handler checks the endpoint permission of the route, credentials are already validated.
func (a *Authorizer) handler(resource, action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _, ok := r.BasicAuth()
		if !ok || username == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if !a.canAccessEndpoint(username, resource, action) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}
