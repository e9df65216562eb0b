package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/speckit/taskbridge/internal/config"
	"github.com/speckit/taskbridge/internal/github"
)

// newTestServer wires a facade against a local httptest GitHub. The
// fallback handler serves every path except /user, which always
// answers the startup identity check.
func newTestServer(t *testing.T, fallback http.HandlerFunc) (*Server, *config.Config) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "repo")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login": "octocat"}`)
	})
	if fallback != nil {
		mux.HandleFunc("/", fallback)
	}

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	cfg := &config.Config{
		AuthType:             "pat",
		Token:                "ghp_test",
		RequestTimeout:       5 * time.Second,
		RateLimitRetryBuffer: 100,
		MaxRetries:           3,
		ServerName:           "speckit-github",
		Environment:          "test",
	}

	cred, err := github.NewPATCredential(cfg.Token)
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	strategy := &github.Strategy{BaseURL: ts.URL}
	handle, err := strategy.Authenticate(context.Background(), cred)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	client := github.NewClient(handle, cfg)
	return New(cfg, client, github.NewConverter(client)), cfg
}

func wantKind(t *testing.T, err error, kind github.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	if got := github.ClassifyErr(err).Kind; got != kind {
		t.Errorf("kind = %s, want %s", got, kind)
	}
}

func TestAuthStatus(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rate_limit" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"resources": {"core": {"limit": 5000, "remaining": 4000, "reset": 1700000000}}}`)
	})

	result, err := srv.AuthStatus(context.Background())
	if err != nil {
		t.Fatalf("AuthStatus failed: %v", err)
	}
	if !result.Authenticated {
		t.Error("Authenticated = false")
	}
	if result.AuthType != "pat" {
		t.Errorf("AuthType = %s, want pat", result.AuthType)
	}
	if result.Login != "octocat" {
		t.Errorf("Login = %s, want octocat", result.Login)
	}
	if len(result.Scopes) != 1 || result.Scopes[0] != "repo" {
		t.Errorf("Scopes = %v, want [repo]", result.Scopes)
	}
	if result.RateLimits == nil || result.RateLimits.Remaining != 4000 {
		t.Errorf("RateLimits = %+v", result.RateLimits)
	}
	if result.Timestamp == "" {
		t.Error("Timestamp missing")
	}
}

func TestListRepositoriesEmptyIsSuccess(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	})

	result, err := srv.ListRepositories(context.Background(), ListRepositoriesParams{Type: "owner"})
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if result.TotalCount != 0 {
		t.Errorf("TotalCount = %d, want 0", result.TotalCount)
	}
	if result.Repositories == nil || len(result.Repositories) != 0 {
		t.Errorf("Repositories = %v, want empty slice", result.Repositories)
	}
	if result.Filters["type"] != "owner" || result.Filters["sort"] != "updated" || result.Filters["direction"] != "desc" {
		t.Errorf("Filters = %v", result.Filters)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	calls := 0
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	})

	_, err := srv.CreateIssue(context.Background(), CreateIssueParams{Repository: "acme/widgets"})
	wantKind(t, err, github.KindTaskValidation)

	_, err = srv.CreateIssue(context.Background(), CreateIssueParams{Repository: "nope", Title: "x"})
	wantKind(t, err, github.KindTaskValidation)

	if calls != 0 {
		t.Errorf("network touched %d times before validation, want 0", calls)
	}
}

func TestCreateIssueEmbedsTaskID(t *testing.T) {
	var sentBody string
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		sentBody = req.Body

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"number": 7, "state": "open", "body": %q}`, req.Body)
	})

	result, err := srv.CreateIssue(context.Background(), CreateIssueParams{
		Repository: "acme/widgets",
		Title:      "Standalone issue",
		Body:       "details",
		TaskID:     "T9",
	})
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if !result.Success {
		t.Error("Success = false")
	}
	if github.ParseTaskID(sentBody) != "T9" {
		t.Errorf("sent body lacks task marker:\n%s", sentBody)
	}
	if result.Issue.TaskID != "T9" {
		t.Errorf("Issue.TaskID = %q, want T9", result.Issue.TaskID)
	}
}

func TestGetIssueValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.GetIssue(context.Background(), GetIssueParams{Repository: "acme/widgets", IssueID: 0})
	wantKind(t, err, github.KindTaskValidation)

	_, err = srv.GetIssue(context.Background(), GetIssueParams{Repository: "bad", IssueID: 3})
	wantKind(t, err, github.KindTaskValidation)
}

func TestConvertTasksValidation(t *testing.T) {
	srv, cfg := newTestServer(t, nil)

	_, err := srv.ConvertTasks(context.Background(), ConvertTasksParams{})
	wantKind(t, err, github.KindTaskValidation)

	_, err = srv.ConvertTasks(context.Background(), ConvertTasksParams{
		Tasks: []github.Task{{ID: "T1", Title: "x"}},
	})
	wantKind(t, err, github.KindTaskValidation) // no repo, no default

	cfg.DefaultRepository = "bad-shape"
	_, err = srv.ConvertTasks(context.Background(), ConvertTasksParams{
		Tasks: []github.Task{{ID: "T1", Title: "x"}},
	})
	wantKind(t, err, github.KindTaskValidation)
}

func TestConvertTasksUsesDefaultRepository(t *testing.T) {
	var path string
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 1, "state": "open"}`)
	})
	cfg.DefaultRepository = "acme/widgets"

	result, err := srv.ConvertTasks(context.Background(), ConvertTasksParams{
		Tasks: []github.Task{{ID: "T1", Title: "One"}},
	})
	if err != nil {
		t.Fatalf("ConvertTasks failed: %v", err)
	}
	if path != "/repos/acme/widgets/issues" {
		t.Errorf("path = %s, want default repository", path)
	}
	if !result.Success || result.Summary.Created != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestConfigStatus(t *testing.T) {
	srv, cfg := newTestServer(t, nil)
	cfg.DefaultRepository = "acme/widgets"

	result, err := srv.ConfigStatus(context.Background())
	if err != nil {
		t.Fatalf("ConfigStatus failed: %v", err)
	}
	if !result.Configured {
		t.Error("Configured = false")
	}
	if result.AuthType != "pat" || result.DefaultRepo != "acme/widgets" {
		t.Errorf("result = %+v", result)
	}
	if result.ServerName != "speckit-github" || result.Environment != "test" {
		t.Errorf("result = %+v", result)
	}
	if result.TimeoutMS != 5000 {
		t.Errorf("TimeoutMS = %d, want 5000", result.TimeoutMS)
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		name    string
		params  ConfigSetParams
		wantErr bool
		check   func(*testing.T, *config.Config)
	}{
		{
			name:   "default repository",
			params: ConfigSetParams{Key: "default_repository", Value: "acme/gadgets"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.DefaultRepository != "acme/gadgets" {
					t.Errorf("DefaultRepository = %s", cfg.DefaultRepository)
				}
			},
		},
		{
			name:    "malformed repository",
			params:  ConfigSetParams{Key: "default_repository", Value: "nope"},
			wantErr: true,
		},
		{
			name:   "timeout",
			params: ConfigSetParams{Key: "request_timeout_ms", Value: "10000"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.RequestTimeout != 10*time.Second {
					t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
				}
			},
		},
		{
			name:    "non-numeric timeout",
			params:  ConfigSetParams{Key: "request_timeout_ms", Value: "soon"},
			wantErr: true,
		},
		{
			name:   "max retries",
			params: ConfigSetParams{Key: "max_retries", Value: "5"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.MaxRetries != 5 {
					t.Errorf("MaxRetries = %d", cfg.MaxRetries)
				}
			},
		},
		{
			name:    "unknown key",
			params:  ConfigSetParams{Key: "color", Value: "blue"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, cfg := newTestServer(t, nil)

			result, err := srv.ConfigSet(context.Background(), tt.params)
			if tt.wantErr {
				wantKind(t, err, github.KindTaskValidation)
				return
			}
			if err != nil {
				t.Fatalf("ConfigSet failed: %v", err)
			}
			if !result.Success || result.Key != tt.params.Key {
				t.Errorf("result = %+v", result)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

// Run with -race: config_set must be safe to call while other
// operations are in flight on the HTTP transport's goroutines.
func TestConfigSetConcurrentWithRequests(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rate_limit" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"resources": {"core": {"limit": 5000, "remaining": 4000, "reset": 1700000000}}}`)
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(4)
		go func(ms string) {
			defer wg.Done()
			if _, err := srv.ConfigSet(ctx, ConfigSetParams{Key: "request_timeout_ms", Value: ms}); err != nil {
				t.Errorf("ConfigSet timeout: %v", err)
			}
		}(strconv.Itoa(1000 + i))
		go func() {
			defer wg.Done()
			if _, err := srv.ConfigSet(ctx, ConfigSetParams{Key: "max_retries", Value: "3"}); err != nil {
				t.Errorf("ConfigSet retries: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := srv.AuthStatus(ctx); err != nil {
				t.Errorf("AuthStatus: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := srv.ConfigStatus(ctx); err != nil {
				t.Errorf("ConfigStatus: %v", err)
			}
		}()
	}
	wg.Wait()

	result, err := srv.ConfigStatus(ctx)
	if err != nil {
		t.Fatalf("ConfigStatus failed: %v", err)
	}
	if result.TimeoutMS < 1000 || result.TimeoutMS >= 1050 {
		t.Errorf("TimeoutMS = %d, want one of the raced writes", result.TimeoutMS)
	}
}

func TestRegisterAll(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := NewRegistry()
	srv.RegisterAll(reg)

	want := []string{
		"auth_status", "config_set", "config_status", "convert_tasks",
		"create_issue", "get_issue", "list_repositories",
	}
	ops := reg.Operations()
	if len(ops) != len(want) {
		t.Fatalf("got %d operations, want %d", len(ops), len(want))
	}
	for i, op := range ops {
		if op.Name != want[i] {
			t.Errorf("operation %d = %s, want %s", i, op.Name, want[i])
		}
	}
}

func TestRegistryHandlerRejectsMalformedPayload(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := NewRegistry()
	srv.RegisterAll(reg)

	op, ok := reg.Lookup("create_issue")
	if !ok {
		t.Fatal("create_issue not registered")
	}

	_, err := op.Handler(context.Background(), json.RawMessage(`{not json`))
	wantKind(t, err, github.KindTaskValidation)
}

func TestConfigStatusTimestampFormat(t *testing.T) {
	orig := now
	now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { now = orig }()

	srv, _ := newTestServer(t, nil)
	result, err := srv.ConfigStatus(context.Background())
	if err != nil {
		t.Fatalf("ConfigStatus failed: %v", err)
	}
	if result.Timestamp != "2025-06-01T12:00:00Z" {
		t.Errorf("Timestamp = %q, want RFC3339 UTC", result.Timestamp)
	}
}
