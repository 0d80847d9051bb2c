package commands

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/adapters/sync/sqlite"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/config"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/testutil"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// executeCommand executes a cobra command with the given args. The
// container is closed afterwards even when the command failed.
func executeCommand(root *cobra.Command, args ...string) error {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	defer Shutdown()
	return root.Execute()
}

// writeTestConfig writes a config file pointing at baseURL with a temp
// database and returns the config and database paths.
func writeTestConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "datasync.db")
	cfgPath := testutil.WriteFile(t, dir, "config.yaml", `service:
  base_url: ` + baseURL + `
database:
  path: ` + dbPath + `
logging:
  level: error
entities:
  - name: movies
    endpoint: tables/movies
`)
	t.Cleanup(Shutdown)
	return cfgPath, dbPath
}

// moviesServer serves two movies to a first pull and nothing to later ones.
func moviesServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tables/movies" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(r.URL.Query().Get("$filter"), "1970-01-01T00:00:00.000Z") {
			_, _ = w.Write([]byte(testutil.Page("")))
			return
		}
		_, _ = w.Write([]byte(testutil.Page("",
			testutil.MovieDoc("m1", "v1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "Alien"),
			testutil.MovieDoc("m2", "v1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "Heat"))))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	if cmd == nil {
		t.Fatal("NewRootCmd returned nil")
	}

	if cmd.Use != "datasync" {
		t.Errorf("expected Use='datasync', got %q", cmd.Use)
	}

	wantSubcmds := []string{"version", "init", "push", "pull", "sync", "watch", "queue", "entities", "tokens"}
	subcmds := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcmds[sub.Name()] = true
	}

	for _, want := range wantSubcmds {
		if !subcmds[want] {
			t.Errorf("missing subcommand: %s", want)
		}
	}

	wantFlags := []string{"config", "output", "verbose"}
	for _, flag := range wantFlags {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag: %s", flag)
		}
	}
}

func TestVersionCmd_NoError(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"basic", []string{"version"}, false},
		{"short", []string{"version", "--short"}, false},
		{"json", []string{"version", "-o", "json"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd()
			err := executeCommand(cmd, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewVersionCmd_Structure(t *testing.T) {
	cmd := NewVersionCmd()
	if cmd.Use != "version" {
		t.Errorf("expected Use='version', got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("short") == nil {
		t.Error("missing flag: short")
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		name  string
		cmd   *cobra.Command
		flags []string
	}{
		{"push", NewPushCmd(), []string{"parallel"}},
		{"pull", NewPullCmd(), []string{"parallel", "save-per-page", "reset", "query-id", "filter", "endpoint"}},
		{"watch", NewWatchCmd(), []string{"interval", "once", "no-reload"}},
		{"init", NewInitCmd(), []string{"force", "base-url", "database", "strategy", "entities"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, flag := range tt.flags {
				if tt.cmd.Flags().Lookup(flag) == nil {
					t.Errorf("missing flag: %s", flag)
				}
			}
		})
	}
}

func TestQueueCmd_Structure(t *testing.T) {
	cmd := NewQueueCmd()
	want := map[string]bool{"list": false, "show": false, "hold": false, "retry": false, "discard": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing queue subcommand: %s", name)
		}
	}
}

func TestCommandArgs_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"queue show without id", []string{"queue", "show"}},
		{"queue hold without id", []string{"queue", "hold"}},
		{"tokens reset without id", []string{"tokens", "reset"}},
	}

	server := moviesServer(t)
	cfgPath, _ := writeTestConfig(t, server.URL)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd()
			args := append(tt.args, "-c", cfgPath)
			if err := executeCommand(cmd, args...); err == nil {
				t.Error("expected an argument error")
			}
		})
	}
}

func TestCommands_WithoutConfiguredService(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(Shutdown)

	cmd := NewRootCmd()
	err := executeCommand(cmd, "pull", "-c", cfgPath)
	if err == nil {
		t.Fatal("expected an error without a base_url")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error should name base_url, got %v", err)
	}
}

func TestPullCmd_EndToEnd(t *testing.T) {
	server := moviesServer(t)
	cfgPath, dbPath := writeTestConfig(t, server.URL)

	if err := executeCommand(NewRootCmd(), "pull", "-c", cfgPath, "-o", "json"); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	// A second pull starts from the stored token and sees nothing new.
	if err := executeCommand(NewRootCmd(), "pull", "-c", cfgPath, "-o", "json"); err != nil {
		t.Fatalf("second pull failed: %v", err)
	}

	store, err := sqlite.NewAdapter(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	count, err := store.Entities.Count(context.Background(), "movies")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 local movies, got %d", count)
	}

	tokens, err := store.Tokens.List(context.Background())
	if err != nil {
		t.Fatalf("token list failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected one delta token, got %d", len(tokens))
	}
	if got := tokens[0].Value.UTC().Format("2006-01-02"); got != "2024-01-02" {
		t.Errorf("delta token = %s, want the newest updatedAt", got)
	}
}

func TestInspectionCommands(t *testing.T) {
	server := moviesServer(t)
	cfgPath, _ := writeTestConfig(t, server.URL)

	if err := executeCommand(NewRootCmd(), "pull", "-c", cfgPath, "-o", "json"); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"entities", []string{"entities"}, false},
		{"entities json", []string{"entities", "-o", "json"}, false},
		{"queue list", []string{"queue", "list"}, false},
		{"queue list json", []string{"queue", "list", "-e", "movies", "-o", "json"}, false},
		{"queue show unknown", []string{"queue", "show", "nope"}, true},
		{"queue hold unknown", []string{"queue", "hold", "nope"}, true},
		{"tokens list", []string{"tokens", "list"}, false},
		{"tokens list table", []string{"tokens", "list", "-o", "table"}, false},
		{"unknown output format", []string{"entities", "-o", "xml"}, true},
		{"tokens reset", []string{"tokens", "reset", "movies"}, false},
		{"tokens reset invalid", []string{"tokens", "reset", "9-invalid"}, true},
		{"push nothing queued", []string{"push", "-o", "json"}, false},
		{"push unknown entity", []string{"push", "shows"}, true},
		{"watch once", []string{"watch", "--once", "-o", "json"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "-c", cfgPath)
			err := executeCommand(NewRootCmd(), args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPullCmd_FailedRequestIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)
	cfgPath, _ := writeTestConfig(t, server.URL)

	err := executeCommand(NewRootCmd(), "pull", "-c", cfgPath, "-o", "json")
	if err == nil {
		t.Fatal("expected the failed request to fail the command")
	}
	if !strings.Contains(err.Error(), "1 failure") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestBuildPullRequests(t *testing.T) {
	server := moviesServer(t)
	cfgPath, _ := writeTestConfig(t, server.URL)

	globalFlags = GlobalFlags{ConfigFile: cfgPath}
	t.Cleanup(func() { globalFlags = GlobalFlags{} })
	if err := initializeApp(); err != nil {
		t.Fatalf("initializeApp failed: %v", err)
	}
	c := GetContainer()

	t.Run("all entities", func(t *testing.T) {
		reqs, err := buildPullRequests(c, nil, pullFlags{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(reqs) != 1 || reqs[0].EntityType != "movies" {
			t.Errorf("unexpected requests %+v", reqs)
		}
	})

	t.Run("custom query", func(t *testing.T) {
		reqs, err := buildPullRequests(c, []string{"movies"}, pullFlags{filter: "rating gt 3", queryID: "top"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reqs[0].Query.Filter != "rating gt 3" || reqs[0].QueryID != "top" {
			t.Errorf("unexpected request %+v", reqs[0])
		}
	})

	t.Run("custom query needs one entity", func(t *testing.T) {
		if _, err := buildPullRequests(c, nil, pullFlags{filter: "rating gt 3"}); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unknown entity", func(t *testing.T) {
		if _, err := buildPullRequests(c, []string{"shows"}, pullFlags{}); err == nil {
			t.Error("expected an error")
		}
	})
}

type closedWriter struct{}

func (closedWriter) Write([]byte) (int, error) { return 0, errors.New("write on closed pipe") }

func TestRunWatch_StopsWhenOutputFails(t *testing.T) {
	server := moviesServer(t)
	cfgPath, _ := writeTestConfig(t, server.URL)

	globalFlags = GlobalFlags{ConfigFile: cfgPath}
	t.Cleanup(func() { globalFlags = GlobalFlags{} })
	if err := initializeApp(); err != nil {
		t.Fatalf("initializeApp failed: %v", err)
	}
	appCtxMu.Lock()
	appCtx.Formatter = output.NewFormatter(output.WithWriter(closedWriter{}), output.WithColor(false))
	appCtxMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reloads := make(chan config.WatchEvent, 1)
	reloads <- config.WatchEvent{Type: config.WatchEventRemove, Path: cfgPath}

	err := runWatch(ctx, nil, watchSchedule{interval: time.Hour}, reloads)
	if err == nil || !strings.Contains(err.Error(), "closed pipe") {
		t.Fatalf("runWatch() error = %v, want the output error", err)
	}
	if ctx.Err() != nil {
		t.Error("runWatch() should stop at the failed write, not at the deadline")
	}
}

func TestReportsError(t *testing.T) {
	if err := reportsError(ResultReport{Successful: true}); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	err := reportsError(
		ResultReport{FailedRequests: []FailedRequest{{URI: "a", StatusCode: 500}}},
		ResultReport{LocalErrors: map[string]string{"q[page:0]": "missing id"}},
	)
	if err == nil || !strings.Contains(err.Error(), "2 failure") {
		t.Errorf("expected 2 failures, got %v", err)
	}
}

func TestBuildInitConfig(t *testing.T) {
	cfg, err := buildInitConfig(initOptions{
		baseURL:  "https://example.com",
		database: "/tmp/x.db",
		strategy: "server_wins",
		entities: []string{"movies", " ", "genres"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Entities) != 2 || cfg.Entities[1].Endpoint != "tables/genres" {
		t.Errorf("unexpected entities %+v", cfg.Entities)
	}
	if cfg.Sync.ConflictStrategy != "server_wins" {
		t.Errorf("strategy = %q", cfg.Sync.ConflictStrategy)
	}

	if _, err := buildInitConfig(initOptions{}); err == nil {
		t.Error("expected an error without a base URL")
	}
	if _, err := buildInitConfig(initOptions{baseURL: "https://example.com", strategy: "coin_flip"}); err == nil {
		t.Error("expected an error for an unknown strategy")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" movies, ,genres,")
	if len(got) != 2 || got[0] != "movies" || got[1] != "genres" {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("empty input should give nil")
	}
}

func TestInitCmd_JSONOutput(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cmd := NewRootCmd()
	err := executeCommand(cmd, "init", "-o", "json", "--base-url", "https://example.com", "--entities", "movies,genres")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	configFile := filepath.Join(tmpHome, ".datasync", "config.yaml")
	cfg, err := config.NewLoader(filepath.Join(tmpHome, ".datasync"))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	loaded, err := cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("config file not readable: %v", err)
	}
	if loaded.Service.BaseURL != "https://example.com" || len(loaded.Entities) != 2 {
		t.Errorf("unexpected config %+v", loaded)
	}

	// Without --force the existing file is left alone.
	if err := executeCommand(NewRootCmd(), "init", "-o", "json", "--base-url", "https://other.example.com"); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	again, err := cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("config file not readable: %v", err)
	}
	if again.Service.BaseURL != "https://example.com" {
		t.Error("init without --force overwrote the configuration")
	}
}

func TestInitCmd_Interactive(t *testing.T) {
	tmp := t.TempDir()
	globalFlags = GlobalFlags{ConfigFile: filepath.Join(tmp, "config.yaml"), Output: "text"}
	t.Cleanup(func() { globalFlags = GlobalFlags{} })

	answers := strings.NewReader("https://example.com\n" + filepath.Join(tmp, "d.db") + "\nmovies\n\n")
	if err := runInit(initOptions{database: config.DefaultDatabasePath, strategy: config.DefaultConflictStrategy}, answers); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	loaded, _, err := loadConfig(filepath.Join(tmp, "config.yaml"))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if loaded.Database.Path != filepath.Join(tmp, "d.db") {
		t.Errorf("database = %q", loaded.Database.Path)
	}
	if len(loaded.Entities) != 1 || loaded.Entities[0].Name != "movies" {
		t.Errorf("entities = %+v", loaded.Entities)
	}
	if loaded.Sync.ConflictStrategy != config.DefaultConflictStrategy {
		t.Errorf("strategy = %q", loaded.Sync.ConflictStrategy)
	}
}
