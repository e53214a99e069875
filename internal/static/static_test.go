package static

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryServeServesFile(t *testing.T) {
	root := t.TempDir()
	staticDir := filepath.Join(root, "public", "assets")
	require.NoError(t, os.MkdirAll(staticDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "test.txt"), []byte("hello world"), 0o644))

	r := httptest.NewRequest(http.MethodGet, "/assets/test.txt", nil)
	w := httptest.NewRecorder()

	served := TryServe(w, r, root, []Rule{{Prefix: "/assets/", Dir: "public/assets"}})
	require.True(t, served)

	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestTryServeWrongMethod(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/assets/test.txt", nil)
	w := httptest.NewRecorder()

	require.False(t, TryServe(w, r, t.TempDir(), []Rule{{Prefix: "/assets/", Dir: "public/assets"}}))
}

func TestTryServeFallsThrough(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "x.js"), []byte("b"), 0o644))

	rules := []Rule{
		{Prefix: "/js/", Dir: "a"},
		{Prefix: "/js/", Dir: ""},
		{Prefix: "/js/", Dir: "b"},
	}

	w := httptest.NewRecorder()
	require.True(t, TryServe(w, httptest.NewRequest(http.MethodGet, "/js/x.js", nil), root, rules))
	require.Equal(t, "b", w.Body.String())

	w = httptest.NewRecorder()
	require.False(t, TryServe(w, httptest.NewRequest(http.MethodGet, "/js/", nil), root, rules))
}

func TestTryServeStaysUnderDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret"), []byte("s"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "public"), 0o755))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.URL.Path = "/assets/../secret"
	w := httptest.NewRecorder()

	require.False(t, TryServe(w, r, root, []Rule{{Prefix: "/assets/", Dir: "public"}}))
}

func TestRuleNormalize(t *testing.T) {
	r := Rule{Prefix: "assets", Dir: "public"}
	require.True(t, r.Normalize())
	require.Equal(t, "/assets", r.Prefix)

	r = Rule{Prefix: "/x/"}
	require.False(t, r.Normalize())
}
