package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-synced/pkg/persist"
)

type cliTestEnv struct {
	dataDir    string
	configPath string
	server     *httptest.Server

	mu       sync.Mutex
	requests []string
}

func (e *cliTestEnv) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.requests...)
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	env := &cliTestEnv{dataDir: filepath.Join(base, "data")}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/issues", func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		env.requests = append(env.requests, r.URL.RequestURI())
		env.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":1,"title":"first","state":"open","body":"x"},{"id":2,"title":"second","state":"closed","body":"y"}]`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"login":"octo","name":"Octo Cat"}`)
	})
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	env.configPath = filepath.Join(base, "synced.yaml")
	writeTestConfig(t, env.configPath, env)
	return env
}

func writeTestConfig(t *testing.T, path string, env *cliTestEnv) {
	t.Helper()
	content := fmt.Sprintf(`persist:
  backend: file
  dir: %q
  format: json
logging:
  level: error
remote:
  base_url: %q
  token: secret
resources:
  - name: issues
    kind: list
    path: /repos/{owner}/{repo}/issues
    path_params:
      owner: octo
      repo: hello
    pick_fields: [id, title, state]
    field_id: id
    public: true
  - name: profile
    kind: get
    path: /user
    transform: '{"login": upper(value.login)}'
`, env.dataDir, env.server.URL)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func seedDocument(t *testing.T, dir, key string, data []byte) {
	t.Helper()
	backend, err := persist.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer backend.Close()
	if err := backend.Write(context.Background(), key, data); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func TestDocsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"docs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("docs list: %v", err)
	}
	requireContains(t, out, "No documents")
}

func TestDocsShowConvertDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	seedDocument(t, env.dataDir, "settings.json", []byte(`{"sidebarWidth":300,"isSidebarOpen":true}`))

	out, _, err := runCLI(t, []string{"docs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("docs list: %v", err)
	}
	requireContains(t, out, "settings")
	requireContains(t, out, "settings.json")

	out, _, err = runCLI(t, []string{"docs", "show", "settings"}, env.configPath)
	if err != nil {
		t.Fatalf("docs show: %v", err)
	}
	requireContains(t, out, `"sidebarWidth": 300`)

	out, _, err = runCLI(t, []string{"docs", "convert", "settings", "--to", "yaml"}, env.configPath)
	if err != nil {
		t.Fatalf("docs convert: %v", err)
	}
	requireContains(t, out, "Converted settings.json to settings.yaml")
	if _, err := os.Stat(filepath.Join(env.dataDir, "settings.json")); !os.IsNotExist(err) {
		t.Fatalf("expected original document to be removed, stat err=%v", err)
	}
	data, err := os.ReadFile(filepath.Join(env.dataDir, "settings.yaml"))
	if err != nil {
		t.Fatalf("read converted document: %v", err)
	}
	requireContains(t, string(data), "sidebarWidth: 300")

	out, _, err = runCLI(t, []string{"docs", "delete", "settings"}, env.configPath)
	if err != nil {
		t.Fatalf("docs delete: %v", err)
	}
	requireContains(t, out, "Deleted settings.yaml")

	if _, _, err := runCLI(t, []string{"docs", "show", "settings"}, env.configPath); err == nil {
		t.Fatalf("expected show of deleted document to fail")
	}
}

func TestFetchListPersistsProjectedItems(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"fetch", "issues", "--page", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("fetch issues: %v", err)
	}
	requireContains(t, out, `"title": "first"`)
	requireContains(t, out, `"state": "closed"`)
	if strings.Contains(out, `"body"`) {
		t.Fatalf("expected body to be projected away, got %s", out)
	}
	requests := env.seen()
	if len(requests) != 1 || !strings.Contains(requests[0], "page=2") || !strings.Contains(requests[0], "per_page=30") {
		t.Fatalf("unexpected requests %v", requests)
	}

	out, _, err = runCLI(t, []string{"docs", "show", "issues"}, env.configPath)
	if err != nil {
		t.Fatalf("docs show issues: %v", err)
	}
	requireContains(t, out, `"second"`)
}

func TestFetchGetAppliesExpressionTransform(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"fetch", "profile", "--no-save"}, env.configPath)
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	requireContains(t, out, `"login": "OCTO"`)

	out, _, err = runCLI(t, []string{"docs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("docs list: %v", err)
	}
	requireContains(t, out, "No documents")
}

func TestFetchUnknownResource(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"fetch", "missing"}, env.configPath); err == nil {
		t.Fatalf("expected unknown resource to fail")
	}
}

func TestRunReportsFailureExitCode(t *testing.T) {
	env := setupCLITestEnv(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", env.configPath, "fetch", "missing"}, &stdout, &stderr)
	if code != exitFailure {
		t.Fatalf("expected exit code %d, got %d", exitFailure, code)
	}
	requireContains(t, stderr.String(), "syncedctl: ")

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"--config", env.configPath, "resources"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("expected exit code %d, got %d: %s", exitOK, code, stderr.String())
	}
}

func TestFetchCompactPrintsOneLine(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"fetch", "profile", "--no-save", "--compact"}, env.configPath)
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	requireContains(t, out, `"login":"OCTO"`)
	if lines := strings.Count(strings.TrimRight(out, "\n"), "\n"); lines != 0 {
		t.Fatalf("expected a single line, got %q", out)
	}
}

func TestResourcesCommandListsConfiguredResources(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"resources"}, env.configPath)
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	requireContains(t, out, "issues")
	requireContains(t, out, "public")
	requireContains(t, out, "expr")
}

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs([]string{"state=open", "labels=a=b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pairs["state"] != "open" || pairs["labels"] != "a=b" {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	if _, err := parsePairs([]string{"novalue"}); err == nil {
		t.Fatalf("expected malformed pair to fail")
	}
}
