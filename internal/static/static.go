// Package static serves files from directories mapped to URL prefixes.
package static

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Rule maps requests under Prefix to files under Dir. Dir is relative to the
// project root passed to TryServe.
type Rule struct {
	Prefix string `json:"prefix"`
	Dir    string `json:"dir"`
}

// Normalize fixes a missing leading slash on Prefix. It reports false when
// the rule has no directory and should be ignored.
func (r *Rule) Normalize() bool {
	if !strings.HasPrefix(r.Prefix, "/") {
		r.Prefix = "/" + r.Prefix
	}
	return r.Dir != ""
}

// TryServe serves the file matching the first applicable rule and reports
// whether it wrote a response. Only GET and HEAD are considered; a rule whose
// file does not exist falls through to the next one.
func TryServe(w http.ResponseWriter, r *http.Request, projectRoot string, rules []Rule) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}

	path := r.URL.Path

	for _, rule := range rules {
		if rule.Dir == "" || !strings.HasPrefix(path, rule.Prefix) {
			continue
		}

		relPath := strings.TrimPrefix(path, rule.Prefix)
		relPath = filepath.Clean("/" + relPath)

		baseDir := filepath.Join(projectRoot, rule.Dir)
		fullPath := filepath.Join(baseDir, relPath)

		// Prevent ../../ escapes
		if fullPath != baseDir && !strings.HasPrefix(fullPath, baseDir+string(filepath.Separator)) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return true
		}

		info, err := os.Stat(fullPath)
		if err != nil || info.IsDir() {
			continue
		}

		http.ServeFile(w, r, fullPath)
		return true
	}

	return false
}
