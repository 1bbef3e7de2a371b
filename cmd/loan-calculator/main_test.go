package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iwvelando/loan-calculator/internal/config"
	"github.com/iwvelando/loan-calculator/internal/server"
	"github.com/iwvelando/loan-calculator/pkg/testutil"
	"go.uber.org/zap"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func writeConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	credentials := filepath.Join(dir, "credentials.yaml")
	path := filepath.Join(dir, "loan-calculator.yaml")
	contents := fmt.Sprintf(`backend:
  baseUrl: %s
  timeout: 5s
store:
  type: file
  path: %s
logging:
  level: error
output:
  format: pretty
support:
  whatsAppNumber: "+254 114 825 652"
  message: Need help
`, baseURL, credentials)
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path, credentials
}

func execute(t *testing.T, configPath, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--config", configPath)
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func expectSuccess(t *testing.T, r result, contains ...string) {
	t.Helper()
	if r.code != 0 {
		t.Fatalf("exit code %d, stderr: %s", r.code, r.stderr)
	}
	for _, want := range contains {
		if !strings.Contains(r.stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, r.stdout)
		}
	}
}

func TestQuoteCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")

	r := execute(t, cfg, "", "quote", "--principal", "100000", "--years", "2")
	expectSuccess(t, r, "KES 4,477.26", "7% a year", "KES 107,454.24")

	r = execute(t, cfg, "", "quote", "--principal", "100000", "--rate", "3", "--months", "24", "--output-format", "json")
	if r.code != 0 {
		t.Fatalf("exit code %d, stderr: %s", r.code, r.stderr)
	}
	var quote map[string]interface{}
	if err := json.Unmarshal([]byte(r.stdout), &quote); err != nil {
		t.Fatalf("invalid JSON %q: %v", r.stdout, err)
	}
	if quote["annualInterestRatePercent"] != 3.0 || quote["numberOfPayments"] != 24.0 {
		t.Errorf("unexpected quote %v", quote)
	}

	r = execute(t, cfg, "", "quote", "--principal", "10000", "--months", "12", "--frequency", "weekly")
	expectSuccess(t, r, "Weekly payment", "KES 199.25")
}

func TestQuoteCommandErrors(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no applicable rate", []string{"quote", "--principal", "5", "--years", "1"}, "Error: no interest rate is offered for 5.00"},
		{"zero term", []string{"quote", "--principal", "50000", "--rate", "5"}, "Error: loan term must be at least one month"},
		{"bad frequency", []string{"quote", "--principal", "50000", "--years", "1", "--frequency", "hourly"}, "repaymentFrequency"},
		{"unknown policy", []string{"quote", "--principal", "50000", "--years", "1", "--policy", "nope"}, `unknown rate policy "nope"`},
		{"missing principal", []string{"quote", "--years", "1"}, `required flag(s) "principal" not set`},
		{"bad output format", []string{"quote", "--principal", "50000", "--years", "1", "--output-format", "xml"}, "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := execute(t, cfg, "", tt.args...)
			if r.code != 1 {
				t.Fatalf("exit code %d, expected 1", r.code)
			}
			if !strings.Contains(r.stderr, tt.want) {
				t.Errorf("stderr %q does not contain %q", r.stderr, tt.want)
			}
		})
	}
}

func TestScheduleCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")
	r := execute(t, cfg, "", "schedule", "--principal", "12000", "--rate", "0", "--years", "1", "--start", "2026-11", "--output-format", "csv")
	expectSuccess(t, r, "period,dueDate,payment,principal,interest,remainingPrincipal", "1,2026-11,1000.00,1000.00,0.00,11000.00", "12,2027-10,1000.00,1000.00,0.00,0.00")
}

func TestRateCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")
	expectSuccess(t, execute(t, cfg, "", "rate"), "standard-v1", "KES 500,000.00 | KES 1,000,000.00 | 3%")
	expectSuccess(t, execute(t, cfg, "", "rate", "750000"), "KES 750,000.00 is charged 3% a year")

	r := execute(t, cfg, "", "rate", "lots")
	if r.code != 1 || !strings.Contains(r.stderr, `principal "lots" is not a number`) {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestAffordCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")

	r := execute(t, cfg, "", "afford", "--budget", "4477.26", "--years", "2", "--policy", "standard-v1")
	expectSuccess(t, r, "--- Affordable loan ---", "5% a year (standard-v1)")

	r = execute(t, cfg, "", "afford", "--budget", "1000000", "--months", "12", "--output-format", "json")
	expectSuccess(t, r, `"value": 1000000`, `"converged": true`)

	r = execute(t, cfg, "", "afford", "--budget", "100", "--months", "12")
	if r.code == 0 || !strings.Contains(r.stderr, "too small") {
		t.Errorf("small budget: code %d, stderr %q", r.code, r.stderr)
	}
}

func TestHelpLinkCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")
	expectSuccess(t, execute(t, cfg, "", "help-link"), "https://wa.me/254114825652?text=Need%20help")
}

func TestApplyPreview(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1/api")
	r := execute(t, cfg, "", "apply", "--preview",
		"--full-name", "Jane Doe", "--email", "jane@example.com", "--phone", "0712345678",
		"--amount", "50000", "--term", "36", "--purpose", "School fees")
	expectSuccess(t, r, "Monthly payment | KES 1,543.85", "KES 55,578.60")
}

func TestAccountFlow(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	cfg, credentials := writeConfig(t, fake.URL())

	r := execute(t, cfg, "s3cret-pass\n", "register",
		"--first-name", "Jane", "--last-name", "Doe", "--username", "jane", "--email", "jane@example.com", "--password-stdin")
	expectSuccess(t, r, "Welcome Jane")
	if _, err := os.Stat(credentials); err != nil {
		t.Fatalf("credentials were not saved: %v", err)
	}

	expectSuccess(t, execute(t, cfg, "", "status"), "Logged in as customer 1.", "Session valid until")

	r = execute(t, cfg, "", "apply",
		"--full-name", "Jane Doe", "--email", "jane@example.com", "--phone", "0712345678",
		"--amount", "50000", "--term", "36", "--frequency", "Monthly", "--purpose", "School fees")
	expectSuccess(t, r, "--- Loan report ---", "KES 55,578.60", "MONTHLY")

	expectSuccess(t, execute(t, cfg, "", "statement"), "Total borrowed KES 50,000.00, total to repay KES 55,578.60")

	fake.ExpireSessions()
	r = execute(t, cfg, "", "statement")
	if r.code != 1 {
		t.Fatalf("statement with a dead session exited %d", r.code)
	}
	if strings.Count(r.stderr, "Your session has expired") != 1 || strings.Contains(r.stderr, "Error:") {
		t.Errorf("expected exactly one expiry notice, got %q", r.stderr)
	}
	expectSuccess(t, execute(t, cfg, "", "status"), "Not logged in")

	r = execute(t, cfg, "wrong\n", "login", "--username", "jane", "--password-stdin")
	if r.code != 1 || !strings.Contains(r.stderr, "Error: Invalid username or password") {
		t.Errorf("unexpected bad login result %+v", r)
	}

	expectSuccess(t, execute(t, cfg, "s3cret-pass\n", "login", "--username", "jane", "--password-stdin"), "Logged in as jane.")
	expectSuccess(t, execute(t, cfg, "", "statement"), "School fees")
	expectSuccess(t, execute(t, cfg, "", "logout"), "Logged out.")

	r = execute(t, cfg, "", "statement")
	if r.code != 1 || !strings.Contains(r.stderr, "Error: please log in first") {
		t.Errorf("unexpected anonymous statement result %+v", r)
	}
}

func TestLoginNeedsTerminalOrStdin(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	cfg, _ := writeConfig(t, fake.URL())
	r := execute(t, cfg, "", "login", "--username", "jane")
	if r.code != 1 || !strings.Contains(r.stderr, "use --password-stdin") {
		t.Errorf("unexpected result %+v", r)
	}
	if len(fake.Requests()) != 0 {
		t.Errorf("login without a password reached the backend")
	}
}

func TestBackendUnavailable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	address := listener.Addr().String()
	_ = listener.Close()

	cfg, _ := writeConfig(t, "http://"+address+"/api")
	r := execute(t, cfg, "s3cret-pass\n", "login", "--username", "jane", "--password-stdin")
	if r.code != 1 || !strings.Contains(r.stderr, "(please try again)") {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestInitializeLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LoggingConfig
		override string
		wantErr  bool
	}{
		{"defaults", config.LoggingConfig{}, "", false},
		{"json debug", config.LoggingConfig{Level: "debug", Format: "json"}, "", false},
		{"override", config.LoggingConfig{Level: "debug"}, "warning", false},
		{"bad level", config.LoggingConfig{Level: "loud"}, "", true},
		{"bad override", config.LoggingConfig{}, "verbose", true},
		{"bad format", config.LoggingConfig{Format: "xml"}, "", true},
		{"file output", config.LoggingConfig{OutputFile: filepath.Join(t.TempDir(), "logs", "cli.log")}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initializeLogger(tt.cfg, tt.override)
			if (err != nil) != tt.wantErr {
				t.Fatalf("initializeLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if logger != nil {
				_ = logger.Sync()
			}
		})
	}
}

func TestServe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	serverConfig, err := server.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, zap.NewNop(), listener, server.NewHandler(nil, nil, 0, "test"), serverConfig.Timeouts)
	}()

	url := "http://" + listener.Addr().String() + "/api/version"
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `"version":"test"`) {
		t.Errorf("unexpected body %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not stop after cancel")
	}
}
