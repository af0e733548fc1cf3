package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledgerline/depgraph/pkg/graph"
)

const testModel = `
def value(self, get):
    return get(self.name, "price") * get(self.name, "quantity")

def fib(self, get, n):
    if n < 2:
        return n
    return get(self.name, "fib", n - 1) + get(self.name, "fib", n - 2)

def scaled(self, get, factor = 1):
    return get(self.name, "price") * factor

declare_class("Stock", attrs = {
    "price":    declare_settable(),
    "quantity": declare_settable(),
    "value":    declare_property(value),
    "fib":      declare_callable(fib),
    "scaled":   declare_subgraph_property(scaled, defaults = {"factor": 2}),
})
`

const testEntities = `
entities: {
	AAPL: {class: "Stock", attributes: {price: 10, quantity: 3}}
}
`

const testScenario = `
name: price-crash
overrides:
  - {entity: AAPL, attr: price, value: 5.0}
reads:
  - {entity: AAPL, attr: value}
  - {entity: AAPL, attr: fib, args: [10]}
`

type workspace struct {
	dir      string
	db       string
	model    string
	entities string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:      dir,
		db:       filepath.Join(dir, "depgraph.db"),
		model:    filepath.Join(dir, "model.star"),
		entities: filepath.Join(dir, "entities"),
	}
	if err := os.MkdirAll(ws.entities, 0o755); err != nil {
		t.Fatalf("Failed to create entities dir: %v", err)
	}
	files := map[string]string{
		ws.model:                                testModel,
		filepath.Join(ws.entities, "stock.cue"): testEntities,
		filepath.Join(dir, "crash.yaml"):        testScenario,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	return ws
}

// run executes one command against the workspace and returns its stdout.
func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{version: "test"}
	cmd := newRootCommand(a, "none", "never")

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args,
		"--config", filepath.Join(ws.dir, "absent.toml"),
		"--db", ws.db,
		"--model", ws.model,
		"--log-level", "error",
	))

	err := cmd.ExecuteContext(context.Background())
	if terr := a.teardown(); terr != nil {
		t.Errorf("Teardown failed: %v", terr)
	}
	return out.String(), err
}

func (ws *workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := ws.run(t, args...)
	if err != nil {
		t.Fatalf("%s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestInit(t *testing.T) {
	ws := newWorkspace(t)
	cfgPath := filepath.Join(ws.dir, "depgraph.toml")

	a := &app{version: "test"}
	cmd := newRootCommand(a, "none", "never")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", "--config", cfgPath, "--db", ws.db, "--log-level", "error"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	_ = a.teardown()

	if !strings.Contains(out.String(), "Created config file") {
		t.Errorf("Expected config file to be created, got:\n%s", out.String())
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(data), ws.db) {
		t.Errorf("Expected config to name the database, got:\n%s", data)
	}
	if _, err := os.Stat(ws.db); err != nil {
		t.Errorf("Expected database file: %v", err)
	}
}

func TestImportAndGet(t *testing.T) {
	ws := newWorkspace(t)

	out := ws.mustRun(t, "import", ws.entities)
	if !strings.Contains(out, "1 imported, 0 unchanged") {
		t.Errorf("Unexpected import output:\n%s", out)
	}
	out = ws.mustRun(t, "import", ws.entities)
	if !strings.Contains(out, "0 imported, 1 unchanged") {
		t.Errorf("Expected second import to be a no-op, got:\n%s", out)
	}

	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"get", "AAPL.value"}, want: "30"},
		{args: []string{"get", "AAPL.fib", "10"}, want: "55"},
		{args: []string{"get", "AAPL.scaled"}, want: "20"},
		{args: []string{"get", "AAPL.scaled", "--kw", "factor=3"}, want: "30"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out := ws.mustRun(t, tt.args...)
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("Expected %s, got %q", tt.want, out)
			}
		})
	}

	_, err := ws.run(t, "get", "AAPL.nope")
	if !graph.HasCode(err, graph.ErrCodeAttributeNotFound) {
		t.Errorf("Expected ATTRIBUTE_NOT_FOUND, got %v", err)
	}
}

func TestImport_UnknownClass(t *testing.T) {
	ws := newWorkspace(t)
	bad := filepath.Join(ws.dir, "bad.cue")
	if err := os.WriteFile(bad, []byte(`entities: {X: {class: "Bond"}}`), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := ws.run(t, "import", bad)
	if !graph.HasCode(err, graph.ErrCodeUnknownClass) {
		t.Errorf("Expected UNKNOWN_CLASS, got %v", err)
	}
}

func TestSetPersistsAndAudits(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.entities)

	out := ws.mustRun(t, "set", "AAPL.quantity", "4", "--show", "AAPL.value")
	if !strings.Contains(out, "AAPL.value = 40") {
		t.Errorf("Expected dependent value to be recomputed, got:\n%s", out)
	}
	if out := ws.mustRun(t, "get", "AAPL.value"); strings.TrimSpace(out) != "40" {
		t.Errorf("Expected persisted write, got %q", out)
	}

	_, err := ws.run(t, "set", "AAPL.value", "1")
	if !graph.HasCode(err, graph.ErrCodeNotSettable) {
		t.Errorf("Expected NOT_SETTABLE, got %v", err)
	}

	_, err = ws.run(t, "set", "AAPL.price", "12", "--protected", "Stock.price")
	if !graph.HasCode(err, graph.ErrCodeWriteDenied) {
		t.Fatalf("Expected WRITE_DENIED, got %v", err)
	}
	if out := ws.mustRun(t, "get", "AAPL.price"); strings.TrimSpace(out) != "10" {
		t.Errorf("Expected denied write to change nothing, got %q", out)
	}

	out = ws.mustRun(t, "audit", "--json")
	var entries []struct {
		Action   string  `json:"action"`
		TargetID *string `json:"target_id"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("Failed to decode audit output: %v\n%s", err, out)
	}
	want := []string{"write.denied", "entity.set", "entity.imported"}
	if len(entries) != len(want) {
		t.Fatalf("Expected %d audit entries, got %d:\n%s", len(want), len(entries), out)
	}
	for i, action := range want {
		if entries[i].Action != action {
			t.Errorf("Entry %d: expected %s, got %s", i, action, entries[i].Action)
		}
	}
	if entries[0].TargetID == nil || *entries[0].TargetID != "AAPL.price" {
		t.Errorf("Expected denial to target AAPL.price, got %v", entries[0].TargetID)
	}
}

func TestScenario(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.entities)

	out := ws.mustRun(t, "scenario", filepath.Join(ws.dir, "crash.yaml"), "--json")
	var report struct {
		Scenario string `json:"scenario"`
		Results  []struct {
			Attr     string `json:"attr"`
			Base     any    `json:"base"`
			Scenario any    `json:"scenario"`
			Changed  bool   `json:"changed"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Failed to decode scenario output: %v\n%s", err, out)
	}
	if report.Scenario != "price-crash" || len(report.Results) != 2 {
		t.Fatalf("Unexpected report: %+v", report)
	}
	value := report.Results[0]
	if value.Base != 30.0 || value.Scenario != 15.0 || !value.Changed {
		t.Errorf("Expected value 30 -> 15, got %+v", value)
	}
	if report.Results[1].Changed {
		t.Errorf("Expected fib to be unaffected, got %+v", report.Results[1])
	}

	// Overrides never reach the database.
	if out := ws.mustRun(t, "get", "AAPL.price"); strings.TrimSpace(out) != "10" {
		t.Errorf("Expected stored price to be untouched, got %q", out)
	}
}

func TestDeps(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.entities)

	out := ws.mustRun(t, "deps", "AAPL.value", "--json")
	var levels [][]string
	if err := json.Unmarshal([]byte(out), &levels); err != nil {
		t.Fatalf("Failed to decode deps output: %v\n%s", err, out)
	}
	if len(levels) != 2 || len(levels[0]) != 2 || levels[1][0] != "AAPL.value" {
		t.Errorf("Expected two levels topped by AAPL.value, got %v", levels)
	}

	out = ws.mustRun(t, "deps", "AAPL.value", "--child-attr", "price")
	if strings.TrimSpace(out) != "AAPL" {
		t.Errorf("Expected AAPL, got %q", out)
	}

	out = ws.mustRun(t, "deps", "AAPL.scaled", "--kw", "factor=3", "--child-attr", "price")
	if strings.TrimSpace(out) != "AAPL" {
		t.Errorf("Expected AAPL from the keyword node, got %q", out)
	}

	out = ws.mustRun(t, "deps", "AAPL.fib", "4", "--child-attr", "fib")
	if strings.TrimSpace(out) != "AAPL" {
		t.Errorf("Expected AAPL from the callable node, got %q", out)
	}

	out = ws.mustRun(t, "deps", "AAPL.value", "--dot")
	if !strings.Contains(out, "digraph") {
		t.Errorf("Expected DOT output, got:\n%s", out)
	}
}

func TestInvalidate(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.entities)

	out := ws.mustRun(t, "invalidate", "AAPL.price", "--eval", "AAPL.value", "--json")
	var report struct {
		Invalidated []string `json:"invalidated"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	found := false
	for _, id := range report.Invalidated {
		if id == "AAPL.value" {
			found = true
		}
		if id == "AAPL.quantity" {
			t.Errorf("Expected AAPL.quantity to stay cached, got %v", report.Invalidated)
		}
	}
	if !found {
		t.Errorf("Expected AAPL.value to be invalidated, got %v", report.Invalidated)
	}
}

func TestPolicies(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.entities)

	out := ws.mustRun(t, "policies", "list", "--json")
	var policies []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &policies); err != nil {
		t.Fatalf("Failed to decode policies: %v\n%s", err, out)
	}
	if len(policies) != 2 || policies[0].Name != "numeric-inputs" || policies[1].Name != "protected-attributes" {
		t.Errorf("Expected the built-in policies, got %+v", policies)
	}

	tests := []struct {
		name  string
		args  []string
		allow bool
	}{
		{name: "number", args: []string{"AAPL.price", "12"}, allow: true},
		{name: "string", args: []string{"AAPL.price", "abc"}, allow: false},
		{name: "string override", args: []string{"AAPL.price", "abc", "--override"}, allow: false},
		{name: "other attribute", args: []string{"AAPL.quantity", "abc"}, allow: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"policies", "check"}, tt.args...)
			out := ws.mustRun(t, append(args, "--numeric", "price")...)
			if got := strings.Contains(out, "allowed"); got != tt.allow {
				t.Errorf("Expected allowed=%v, got:\n%s", tt.allow, out)
			}
		})
	}
}
