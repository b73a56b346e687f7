package api

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrEmptyPassword = errors.New("empty password")
)

// Htpasswd holds bcrypt hashes read from an htpasswd file (htpasswd -B).
type Htpasswd struct {
	creds map[string]string
}

func NewHtpasswd() Htpasswd {
	return Htpasswd{creds: make(map[string]string)}
}

func (h *Htpasswd) Get(user string) (string, error) {
	hash, ok := h.creds[user]
	if !ok {
		return "", ErrUnknownUser
	}
	if hash == "" {
		return "", ErrEmptyPassword
	}
	return hash, nil
}

// Load replaces the credentials with the content of file, one user:hash per line.
func (h *Htpasswd) Load(file string) error {
	fd, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("htpasswd not loaded: %w", err)
	}
	defer func() {
		_ = fd.Close()
	}()

	creds := make(map[string]string)
	sc := bufio.NewScanner(fd)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		creds[user] = hash
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("htpasswd not loaded: %w", err)
	}

	h.creds = creds
	if len(h.creds) == 0 {
		return errors.New("no credentials in htpasswd file")
	}
	return nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="netbatch"`)
	writeError(w, http.StatusUnauthorized, message)
}

func (h *Htpasswd) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			unauthorized(w, "authentication required")
			return
		}

		expectedHash, err := h.Get(username)
		if err != nil || bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(password)) != nil {
			unauthorized(w, "authentication failed")
			return
		}

		next.ServeHTTP(w, r)
	})
}
