package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keplerhq/kepler/insight"
)

func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/workspaces", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProjectID string `json:"project_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
			http.Error(w, "missing project_id", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Workspace{Ready: true})
	})
	mux.HandleFunc("/workspaces/proj-1/exec", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ExecResult{Stdout: "main.go\n", ExitCode: 0})
	})
	mux.HandleFunc("/workspaces/proj-1/read", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Path == "missing.go" {
			http.Error(w, "no such file", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"content": "package main"})
	})
	mux.HandleFunc("/workspaces/proj-1/repos", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Repository insight.Repository `json:"repository"`
			Credential string             `json:"credential"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		action := ActionFetched
		if req.Repository.Name == "known" {
			action = ActionRefreshed
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"action": string(action)})
	})

	return httptest.NewServer(mux)
}

func TestHTTPClientWorkspace(t *testing.T) {
	ts := fakeService(t)
	defer ts.Close()
	client := NewHTTPClient(ts.URL, 0)

	ws, err := client.CreateOrReuseWorkspace(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("CreateOrReuseWorkspace failed: %v", err)
	}
	if !ws.Ready {
		t.Error("expected workspace ready")
	}
}

func TestHTTPClientExecAndRead(t *testing.T) {
	ts := fakeService(t)
	defer ts.Close()
	client := NewHTTPClient(ts.URL, 0)

	result, err := client.ExecCommand(context.Background(), "proj-1", "ls")
	if err != nil {
		t.Fatalf("ExecCommand failed: %v", err)
	}
	if result.Stdout != "main.go\n" || result.ExitCode != 0 {
		t.Errorf("unexpected exec result: %+v", result)
	}

	content, err := client.ReadFile(context.Background(), "proj-1", "main.go")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if content != "package main" {
		t.Errorf("unexpected content: %q", content)
	}

	if _, err := client.ReadFile(context.Background(), "proj-1", "missing.go"); err == nil {
		t.Error("expected error for missing file")
	} else if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestHTTPClientAcquireRepository(t *testing.T) {
	ts := fakeService(t)
	defer ts.Close()
	client := NewHTTPClient(ts.URL, 0)

	action, err := client.AcquireRepository(context.Background(), "proj-1",
		insight.Repository{Name: "backend"}, "")
	if err != nil {
		t.Fatalf("AcquireRepository failed: %v", err)
	}
	if action != ActionFetched {
		t.Errorf("expected fetched, got %s", action)
	}

	action, err = client.AcquireRepository(context.Background(), "proj-1",
		insight.Repository{Name: "known"}, "token")
	if err != nil {
		t.Fatalf("AcquireRepository failed: %v", err)
	}
	if action != ActionRefreshed {
		t.Errorf("expected refreshed, got %s", action)
	}
}

func TestToolsCallThroughClient(t *testing.T) {
	client := &MockClient{
		ExecResults: map[string]ExecResult{"ls": {Stdout: "go.mod\n"}},
		Files:       map[string]string{"go.mod": "module example.com/app"},
	}
	tools := Tools(client, "proj-1")
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}

	byName := map[string]int{}
	for i, tool := range tools {
		byName[tool.Name()] = i
	}

	out, err := tools[byName["exec_command"]].Call(context.Background(),
		map[string]interface{}{"command": "ls"})
	if err != nil {
		t.Fatalf("exec tool failed: %v", err)
	}
	if out["stdout"] != "go.mod\n" {
		t.Errorf("unexpected exec output: %v", out)
	}

	out, err = tools[byName["read_file"]].Call(context.Background(),
		map[string]interface{}{"path": "go.mod"})
	if err != nil {
		t.Fatalf("read tool failed: %v", err)
	}
	if out["content"] != "module example.com/app" {
		t.Errorf("unexpected read output: %v", out)
	}

	if _, err := tools[byName["exec_command"]].Call(context.Background(), map[string]interface{}{}); err == nil {
		t.Error("exec tool must reject a missing command")
	}
}
