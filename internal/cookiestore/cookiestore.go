// Package cookiestore persists the session cookies a transport.Transport
// accumulates (auth token, device identity) across restarts, adapted from
// the teacher's TwitchLogin cookie-file handling in twitch_login.go.
package cookiestore

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
)

var hostnames = []string{"twitch.tv", "id.twitch.tv"}

type persistedCookie struct {
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
}

type store map[string]persistedCookie

// Load builds a fresh cookie jar and, if path exists, seeds it with the
// cookies saved there by a previous run. A missing file is not an error —
// the jar is simply empty, as on a first run.
func Load(path string) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return jar, nil
	}
	var st store
	if err := json.Unmarshal(data, &st); err != nil {
		return jar, nil
	}

	byHost := make(map[string][]*http.Cookie)
	for name, c := range st {
		if c.Value == "" {
			continue
		}
		domain := c.Domain
		if domain == "" {
			domain = ".twitch.tv"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		host := domain
		if host[0] == '.' {
			host = host[1:]
		}
		byHost[host] = append(byHost[host], &http.Cookie{Name: name, Value: c.Value, Path: path, Domain: domain})
	}
	for host, cookies := range byHost {
		u := &url.URL{Scheme: "https", Host: host}
		jar.SetCookies(u, append(jar.Cookies(u), cookies...))
	}
	return jar, nil
}

// Save writes every cookie the jar holds for twitch.tv/id.twitch.tv to
// path, so the next Load call can restore the session.
func Save(jar http.CookieJar, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	st := make(store)
	for _, host := range hostnames {
		u := &url.URL{Scheme: "https", Host: host}
		for _, c := range jar.Cookies(u) {
			if c == nil || c.Name == "" {
				continue
			}
			st[c.Name] = persistedCookie{Value: c.Value, Path: c.Path, Domain: c.Domain}
		}
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Find returns the value of a named cookie as seen by either tracked host,
// used to recover a previously persisted auth token before attempting a
// fresh login.
func Find(jar http.CookieJar, name string) (string, bool) {
	for _, host := range hostnames {
		u := &url.URL{Scheme: "https", Host: host}
		for _, c := range jar.Cookies(u) {
			if c.Name == name && c.Value != "" {
				return c.Value, true
			}
		}
	}
	return "", false
}

// Set upserts a cookie under both tracked hosts, mirroring the teacher's
// upsertSessionCookiesLocked: used to make a freshly obtained token
// reloadable by a future Load call.
func Set(jar http.CookieJar, name, value string) {
	if value == "" {
		return
	}
	for _, host := range hostnames {
		u := &url.URL{Scheme: "https", Host: host}
		existing := jar.Cookies(u)
		c := &http.Cookie{Name: name, Value: value, Path: "/", Domain: "." + host}
		jar.SetCookies(u, append(existing, c))
	}
}
