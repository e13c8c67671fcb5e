// Package configutil reads layered json5 configuration files and the
// per-target credential environment variables.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// ReadConfig reads a configuration file, merging an optional
// `<name>.local.<ext>` next to it, where the local file wins. `name`
// should come with a file extension. Returns os.ErrNotExist when neither
// file is present.
func ReadConfig[T any](name string) (T, error) {
	var out T
	allNotFound := true

	dirname := filepath.Dir(name)
	basename := filepath.Base(name)
	prefixname, ext := splitExt(basename)

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		err = json5.Unmarshal(defaultFile, &out)
		if err != nil {
			return out, err
		}
		allNotFound = false
	}

	localFilepath := filepath.Join(
		dirname,
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		err = json5.Unmarshal(localFile, &override)
		if err != nil {
			return out, err
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}

	return out, nil
}

// ReadRecursively is ReadConfig walking up the filesystem from the cwd
// until a matching file is found or the root is reached.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	root, err := filepath.Abs("/")
	if err != nil {
		return defaultOut, err
	}
	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for current != root {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if os.IsNotExist(err) {
			current = filepath.Join(current, "..")
			continue
		}
		if err != nil {
			return defaultOut, err
		}

		return config, nil
	}

	return defaultOut, os.ErrNotExist
}

// EnvCredentials looks up <PREFIX>_EMAIL and <PREFIX>_PASSWORD. ok is
// false unless both are set; credentials never live in config files.
func EnvCredentials(prefix string) (email, password string, ok bool) {
	email = os.Getenv(prefix + "_EMAIL")
	password = os.Getenv(prefix + "_PASSWORD")
	return email, password, email != "" && password != ""
}

// EnvCookies parses <PREFIX>_COOKIES, a semicolon-separated
// "name=value; name2=value2" string copied out of a browser, used for
// manual cookie injection when automated login is blocked.
func EnvCookies(prefix string) map[string]string {
	raw := os.Getenv(prefix + "_COOKIES")
	if raw == "" {
		return nil
	}
	cookies := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			continue
		}
		cookies[name] = value
	}
	if len(cookies) == 0 {
		return nil
	}
	return cookies
}
