package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultBaseDir = ".mailroom"

// Paths locates mailroom state on disk. Everything lives under Base unless
// the config names an absolute file.
type Paths struct {
	Base        string // ~/.mailroom
	Config      string // config.yaml, or $MAILROOM_CONFIG
	Credentials string // OAuth client secrets and cached tokens
	Logs        string
	Data        string // sqlite database
}

// ResolvePaths computes the state layout. MAILROOM_HOME moves the base
// directory and MAILROOM_CONFIG points at a config file elsewhere.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("MAILROOM_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("locating home directory: %w", err)
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	p := Paths{
		Base:        base,
		Config:      filepath.Join(base, "config.yaml"),
		Credentials: filepath.Join(base, "credentials"),
		Logs:        filepath.Join(base, "logs"),
		Data:        filepath.Join(base, "data"),
	}
	if cf := os.Getenv("MAILROOM_CONFIG"); cf != "" {
		p.Config = p.expand("", cf)
	}
	return p, nil
}

// EnsureDirs creates the state directories, tightening any that already
// exist to 0700. Credentials hold OAuth tokens and stay private to the user.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Credentials, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
		if err := os.Chmod(d, 0o700); err != nil {
			return fmt.Errorf("restricting %s: %w", d, err)
		}
	}
	return nil
}

// SQLitePath returns the database file. A relative storage.sqlitePath is
// taken relative to the data directory.
func (p Paths) SQLitePath(cfg StorageConfig) string {
	if cfg.SQLitePath == "" {
		return filepath.Join(p.Data, "mailroom.db")
	}
	return p.expand(p.Data, cfg.SQLitePath)
}

// GmailToken returns the cached OAuth token file.
func (p Paths) GmailToken(cfg GmailConfig) string {
	if cfg.TokenFile == "" {
		return filepath.Join(p.Credentials, "gmail-token.json")
	}
	return p.expand(p.Credentials, cfg.TokenFile)
}

// GmailCredentials returns the OAuth client secrets file downloaded from
// the Google console.
func (p Paths) GmailCredentials(cfg GmailConfig) string {
	return p.expand(p.Credentials, cfg.CredentialsFile)
}

// expand resolves "~/" against the user's home and relative names against
// dir. An empty dir leaves relative names relative to the working directory.
func (p Paths) expand(dir, name string) string {
	if name == "~" || strings.HasPrefix(name, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(name, "~"))
		}
	}
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// blockedKeys never appear in a config path.
var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dotted path such as "gateway.auth.reviewers.0.name"
// into segments. Numeric segments index into lists.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		switch {
		case p == "":
			return nil, &ConfigError{Message: "config path contains empty segment"}
		case blockedKeys[p]:
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// GetValueAtPath walks maps and lists of a raw config document.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var node any = root
	for _, key := range path {
		next, ok := child(node, key)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// SetValueAtPath stores value at path. Missing or scalar intermediates
// become maps. List elements can be replaced but not appended.
func SetValueAtPath(root map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return &ConfigError{Message: "empty config path"}
	}
	var node any = root
	for _, key := range path[:len(path)-1] {
		next, ok := child(node, key)
		if ok && isContainer(next) {
			node = next
			continue
		}
		fresh := map[string]any{}
		if err := assign(node, key, fresh); err != nil {
			return err
		}
		node = fresh
	}
	return assign(node, path[len(path)-1], value)
}

// UnsetValueAtPath removes the value at path and reports whether anything
// was removed. Removing a list element shifts the ones after it.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	parentPath, last := path[:len(path)-1], path[len(path)-1]
	parent, ok := GetValueAtPath(root, parentPath)
	if !ok {
		return false
	}

	switch n := parent.(type) {
	case map[string]any:
		if _, ok := n[last]; !ok {
			return false
		}
		delete(n, last)
		return true
	case []any:
		i, ok := listIndex(n, last)
		if !ok {
			return false
		}
		shrunk := append(append([]any{}, n[:i]...), n[i+1:]...)
		grand, _ := GetValueAtPath(root, parentPath[:len(parentPath)-1])
		return assign(grand, parentPath[len(parentPath)-1], shrunk) == nil
	}
	return false
}

func child(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case []any:
		i, ok := listIndex(n, key)
		if !ok {
			return nil, false
		}
		return n[i], true
	}
	return nil, false
}

func assign(node any, key string, value any) error {
	switch n := node.(type) {
	case map[string]any:
		n[key] = value
		return nil
	case []any:
		i, ok := listIndex(n, key)
		if !ok {
			return &ConfigError{Message: fmt.Sprintf("list index %q out of range (len %d)", key, len(n))}
		}
		n[i] = value
		return nil
	}
	return &ConfigError{Message: fmt.Sprintf("cannot set %q on a %T", key, node)}
}

func listIndex(list []any, key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= len(list) {
		return 0, false
	}
	return i, true
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
