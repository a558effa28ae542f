package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmux/tool"
	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

const (
	cliHelperEnv  = "GO_WANT_TOOLMUX_CLI_PROVIDER"
	cliHelperName = "TOOLMUX_CLI_PROVIDER_NAME"
)

// newTestRoot creates a fresh command tree. Each test gets an isolated tree
// to avoid shared flag state.
func newTestRoot() *cobra.Command {
	return NewRootCmd("test")
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestFile creates a temporary file with the given content and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

type testProvider struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func helperProvider(id string) testProvider {
	return testProvider{
		ID:      id,
		Command: os.Args[0],
		Args:    []string{"-test.run=TestCLIProviderHelperProcess", "--"},
		Env: map[string]string{
			cliHelperEnv:  "1",
			cliHelperName: id,
		},
	}
}

// writeProviderConfig writes a JSON provider config for the given providers.
func writeProviderConfig(t *testing.T, providers ...testProvider) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"timeout_ms": 10000,
		"providers":  providers,
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return writeTestFile(t, "toolmux.json", string(data))
}

func requireExitCode(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected exit code %d, got nil error", want)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error type = %T (%v), want *ExitError", err, err)
	}
	if exitErr.Code != want {
		t.Fatalf("exit code = %d (%s), want %d", exitErr.Code, exitErr.Message, want)
	}
}

func TestToolsListsCatalog(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"), helperProvider("text"))

	stdout, _, err := executeCommand(newTestRoot(), "tools", "--config", config)
	if err != nil {
		t.Fatalf("tools error = %v", err)
	}
	for _, want := range []string{"NAME", "PROVIDER", "add", "text", "a:number,b:number", "Adds two numbers."} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("tools output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "add    math") {
		t.Fatalf("shadowed tool listed under first provider:\n%s", stdout)
	}

	stdout, _, err = executeCommand(newTestRoot(), "tools", "--config", config, "--signatures")
	if err != nil {
		t.Fatalf("tools --signatures error = %v", err)
	}
	if !strings.Contains(stdout, "add(number, number)  # Adds two numbers.") {
		t.Fatalf("signatures output = %q", stdout)
	}
}

func TestToolsJSONAndProviderFilter(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"), helperProvider("text"))

	stdout, _, err := executeCommand(newTestRoot(), "tools", "--config", config, "--provider", "math", "--json")
	if err != nil {
		t.Fatalf("tools --json error = %v", err)
	}
	var tools []tool.Descriptor
	if err := json.Unmarshal([]byte(stdout), &tools); err != nil {
		t.Fatalf("Unmarshal(tools) error = %v\n%s", err, stdout)
	}
	if len(tools) == 0 {
		t.Fatal("no tools in JSON output")
	}
	for _, desc := range tools {
		if desc.ProviderID != "math" {
			t.Fatalf("tool %q provider = %q, want math", desc.Name, desc.ProviderID)
		}
	}

	_, _, err = executeCommand(newTestRoot(), "tools", "--config", config, "--provider", "nope")
	requireExitCode(t, err, exitValidation)
}

func TestToolsReportsProviderWarnings(t *testing.T) {
	config := writeProviderConfig(t,
		testProvider{ID: "ghost", Command: "toolmux-test-command-that-does-not-exist"},
		helperProvider("math"),
	)

	stdout, stderr, err := executeCommand(newTestRoot(), "tools", "--config", config)
	if err != nil {
		t.Fatalf("tools error = %v", err)
	}
	if !strings.Contains(stderr, "warning:") || !strings.Contains(stderr, "ghost") {
		t.Fatalf("stderr = %q, want warning for ghost", stderr)
	}
	if !strings.Contains(stdout, "add") {
		t.Fatalf("usable providers missing from output:\n%s", stdout)
	}
}

func TestCall(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"expression", []string{"add(45, 55)"}, "100"},
		{"positional", []string{"add", "2", "3"}, "5"},
		{"string literal", []string{"codes", `"AB"`}, "[\n  65,\n  66\n]"},
		{"no args", []string{"ping"}, `"pong"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"call", "--config", config}, tt.args...)
			stdout, _, err := executeCommand(newTestRoot(), args...)
			if err != nil {
				t.Fatalf("call error = %v", err)
			}
			if got := strings.TrimSpace(stdout); got != tt.want {
				t.Fatalf("call output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallArgsJSONPrintsEnvelope(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"))

	stdout, _, err := executeCommand(newTestRoot(), "call", "--config", config, "add", "--args-json", `{"a": 1, "b": 2}`)
	if err != nil {
		t.Fatalf("call --args-json error = %v", err)
	}
	var env tool.Envelope
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		t.Fatalf("Unmarshal(envelope) error = %v\n%s", err, stdout)
	}
	if text, _ := env.FirstText(); text != `{"result":3}` {
		t.Fatalf("envelope text = %q", text)
	}
}

func TestCallErrors(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"))

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown tool", []string{"call", "--config", config, "nope(1)"}, exitToolNotFound},
		{"non-literal argument", []string{"call", "--config", config, "add(x, 1)"}, exitInputParse},
		{"bad literal", []string{"call", "--config", config, "add", "1", "two"}, exitInputParse},
		{"arity", []string{"call", "--config", config, "add", "1"}, exitInputParse},
		{"timeout", []string{"call", "--config", config, "--timeout", "300ms", "slow"}, exitTimeout},
		{"provider crash", []string{"call", "--config", config, "crash"}, exitProvider},
		{"bad args json", []string{"call", "--config", config, "add", "--args-json", "{"}, exitInputParse},
		{"missing config", []string{"call", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "add(1, 2)"}, exitFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(newTestRoot(), tt.args...)
			requireExitCode(t, err, tt.want)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	empty := writeTestFile(t, "toolmux.yaml", "providers: []\n")
	_, _, err := executeCommand(newTestRoot(), "tools", "--config", empty)
	requireExitCode(t, err, exitValidation)

	malformed := writeTestFile(t, "toolmux.yaml", "providers: [\n")
	_, _, err = executeCommand(newTestRoot(), "tools", "--config", malformed)
	requireExitCode(t, err, exitInputParse)
}

func TestHealth(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"))
	stdout, _, err := executeCommand(newTestRoot(), "health", "--config", config)
	if err != nil {
		t.Fatalf("health error = %v", err)
	}
	if !strings.Contains(stdout, "math") || !strings.Contains(stdout, string(tool.HealthHealthy)) {
		t.Fatalf("health output = %q", stdout)
	}

	broken := writeProviderConfig(t,
		helperProvider("math"),
		testProvider{ID: "ghost", Command: "toolmux-test-command-that-does-not-exist"},
	)
	stdout, _, err = executeCommand(newTestRoot(), "health", "--config", broken)
	requireExitCode(t, err, exitProvider)
	if !strings.Contains(stdout, "ghost") || !strings.Contains(stdout, tool.ToolErrorCodeProviderStartup) {
		t.Fatalf("health output = %q", stdout)
	}

	_, _, err = executeCommand(newTestRoot(), "health", "--config", config, "--schedule", "CRON_TZ=UTC * * * * *")
	requireExitCode(t, err, exitValidation)
}

func TestSnapshotSaveShowFind(t *testing.T) {
	config := writeProviderConfig(t, helperProvider("math"), helperProvider("text"))
	store := filepath.Join(t.TempDir(), "snapshots", "toolmux.db")

	_, _, err := executeCommand(newTestRoot(), "snapshot", "show", "--store", store)
	requireExitCode(t, err, exitFileNotFound)

	stdout, _, err := executeCommand(newTestRoot(), "snapshot", "save", "--config", config, "--store", store)
	if err != nil {
		t.Fatalf("snapshot save error = %v", err)
	}
	if !strings.Contains(stdout, "Saved snapshot") {
		t.Fatalf("snapshot save output = %q", stdout)
	}
	if _, _, err := executeCommand(newTestRoot(), "snapshot", "save", "--config", config, "--store", store, "--keep", "1"); err != nil {
		t.Fatalf("snapshot save --keep error = %v", err)
	}

	stdout, _, err = executeCommand(newTestRoot(), "snapshot", "show", "--store", store)
	if err != nil {
		t.Fatalf("snapshot show error = %v", err)
	}
	for _, want := range []string{"Providers: math, text", "add", "flat"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("snapshot show output missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, err = executeCommand(newTestRoot(), "snapshot", "show", "--store", store, "--json")
	if err != nil {
		t.Fatalf("snapshot show --json error = %v", err)
	}
	var snap tool.Snapshot
	if err := json.Unmarshal([]byte(stdout), &snap); err != nil {
		t.Fatalf("Unmarshal(snapshot) error = %v", err)
	}
	if len(snap.Providers) != 2 || snap.CreatedAt.After(time.Now().Add(time.Minute)) {
		t.Fatalf("snapshot = %+v", snap)
	}

	stdout, _, err = executeCommand(newTestRoot(), "snapshot", "find", "--store", store, "add")
	if err != nil {
		t.Fatalf("snapshot find error = %v", err)
	}
	if !strings.Contains(stdout, "provider: text") {
		t.Fatalf("snapshot find output = %q", stdout)
	}

	_, _, err = executeCommand(newTestRoot(), "snapshot", "find", "--store", store, "nope")
	requireExitCode(t, err, exitToolNotFound)
}

func TestToolExitError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&tool.ToolError{Code: tool.ToolErrorCodeToolNotFound}, exitToolNotFound},
		{&tool.ToolError{Code: tool.ToolErrorCodeTimeout}, exitTimeout},
		{&tool.ToolError{Code: tool.ToolErrorCodeProviderStartup}, exitProvider},
		{&tool.ToolError{Code: tool.ToolErrorCodeProviderCommunication}, exitProvider},
		{&tool.ArgumentCountError{Tool: "add", Expected: 2, Actual: 1}, exitInputParse},
		{errors.New("boom"), exitRuntime},
		{exitError(exitValidation, "bad"), exitValidation},
	}
	for _, tt := range tests {
		if got := toolExitError(tt.err); got.Code != tt.want {
			t.Fatalf("toolExitError(%v).Code = %d, want %d", tt.err, got.Code, tt.want)
		}
	}
}

// TestCLIProviderHelperProcess is not a real test. It is re-executed as an
// MCP provider subprocess by the command tests.
func TestCLIProviderHelperProcess(t *testing.T) {
	if os.Getenv(cliHelperEnv) != "1" {
		return
	}
	name := os.Getenv(cliHelperName)
	schema := func(props string) json.RawMessage {
		return json.RawMessage(`{"type":"object","properties":{` + props + `}}`)
	}
	tools := []mcpclient.Tool{
		{Name: "add", Description: "Adds two numbers.", InputSchema: schema(`"a":{"type":"number"},"b":{"type":"number"}`)},
		{Name: "codes", Description: "Code points.", InputSchema: schema(`"s":{"type":"string"}`)},
		{Name: "ping", InputSchema: schema(``)},
		{Name: "slow", InputSchema: schema(``)},
		{Name: "crash", InputSchema: schema(``)},
	}

	decoder := json.NewDecoder(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)
	for {
		var req mcpclient.Message
		if err := decoder.Decode(&req); err != nil {
			os.Exit(0)
		}
		if req.ID == 0 {
			continue
		}

		var result any
		switch req.Method {
		case "initialize":
			result = mcpclient.InitializeResult{ProtocolVersion: "2025-06-18", ServerInfo: mcpclient.ServerInfo{Name: name}}
		case "tools/list":
			result = mcpclient.ToolsListResult{Tools: tools}
		case "tools/call":
			var params mcpclient.ToolsCallParams
			_ = json.Unmarshal(req.Params, &params)
			var payload any
			switch params.Name {
			case "add":
				a, _ := params.Arguments["a"].(float64)
				b, _ := params.Arguments["b"].(float64)
				payload = map[string]any{"result": a + b}
			case "codes":
				s, _ := params.Arguments["s"].(string)
				codes := []int{}
				for _, r := range s {
					codes = append(codes, int(r))
				}
				payload = codes
			case "ping":
				payload = map[string]any{"reply": "pong"}
			case "slow":
				time.Sleep(time.Minute)
			case "crash":
				os.Exit(1)
			}
			text, _ := json.Marshal(payload)
			result = mcpclient.ToolsCallResult{Content: []mcpclient.ContentBlock{{Type: "text", Text: string(text)}}}
		}

		raw, _ := json.Marshal(result)
		if err := encoder.Encode(mcpclient.Message{JSONRPC: "2.0", ID: req.ID, Result: raw}); err != nil {
			os.Exit(2)
		}
	}
}
