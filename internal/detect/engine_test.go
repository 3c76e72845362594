package detect

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"ssh-sentry/internal/explain"
	"ssh-sentry/internal/geo"
	"ssh-sentry/internal/ingest"
	"ssh-sentry/internal/notify"
	"ssh-sentry/internal/parser"
	"ssh-sentry/internal/ratelimit"
	"ssh-sentry/internal/types"
)

var scenario = []string{
	"May  1 10:00:00 web01 sshd[1234]: Accepted publickey for alice from 203.0.113.5 port 22 ssh2",
	"May  1 10:00:05 web01 sshd[1235]: Failed password for invalid user root from 198.51.100.9 port 22 ssh2",
	"May  1 10:00:09 web01 sshd[1236]: Accepted password for root from 198.51.100.9 port 22 ssh2",
}

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }
func (staticProvider) Lookup(_ context.Context, ip string) (string, error) {
	return "Testland, " + ip, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Send(_ context.Context, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func allEnabled() types.NotifyConfig {
	return types.NotifyConfig{Login: true, Failed: true, Logout: true, Workers: 2}
}

func newLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.NewLimiter(ratelimit.Policy{Login: 300, Failed: 0, Logout: 300, RootBypass: true}, nil)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	return l
}

func TestEngine_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Text string `json:"text"`
		}
		json.Unmarshal(body, &req)
		mu.Lock()
		texts = append(texts, req.Text)
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := notify.NewTelegram(types.TelegramConfig{
		BotToken: "token",
		ChatID:   "1",
		APIURL:   srv.URL,
		Timeout:  time.Second,
	})
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), tg)

	lines := make(chan ingest.LogLine, len(scenario))
	for _, l := range scenario {
		lines <- ingest.LogLine{Source: "file", Content: l}
	}
	close(lines)

	e.Run(context.Background(), lines)
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 3 {
		t.Fatalf("Expected 3 notification attempts, got %d", len(texts))
	}

	var rootMsgs int
	for _, txt := range texts {
		if strings.Contains(txt, "ROOT ACCESS") && strings.Contains(txt, "Method: password") {
			rootMsgs++
		}
	}
	if rootMsgs != 1 {
		t.Errorf("Expected the root login message to carry the priority annotation, got %v", texts)
	}
}

func TestEngine_FailedAlwaysNotifies(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), n)

	for i := 0; i < 3; i++ {
		if !e.ProcessLine(scenario[1]) {
			t.Errorf("Failed login %d should be dispatched", i+1)
		}
	}
	e.Wait()
	if n.count() != 3 {
		t.Errorf("Expected 3 sends, got %d", n.count())
	}
}

func TestEngine_SuppressesRepeatedLogin(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), n)

	if !e.ProcessLine(scenario[0]) {
		t.Error("First login should be dispatched")
	}
	if e.ProcessLine(scenario[0]) {
		t.Error("Repeated login within window should be suppressed")
	}
	e.Wait()
	if n.count() != 1 {
		t.Errorf("Expected 1 send, got %d", n.count())
	}
}

func TestEngine_ToggleAndIrrelevantLines(t *testing.T) {
	n := &recordingNotifier{}
	toggles := allEnabled()
	toggles.Login = false
	e := NewEngine(toggles, parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), n)

	for _, line := range []string{
		scenario[0],
		"May  1 10:00:00 web01 CRON[1]: pam_unix(cron:session): session opened for user root",
		"May  1 10:00:00 web01 sshd[1]: Server listening on 0.0.0.0 port 22.",
		"",
	} {
		if e.ProcessLine(line) {
			t.Errorf("Line should not be dispatched: %q", line)
		}
	}
	e.Wait()
	if n.count() != 0 {
		t.Errorf("Expected no sends, got %d", n.count())
	}
}

func TestEngine_LocalAddressNotLookedUp(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), n)

	e.ProcessLine("May  1 10:00:00 web01 sshd[1]: Accepted password for bob from 192.168.1.20 port 22 ssh2")
	e.Wait()

	if n.count() != 1 || !strings.Contains(n.msgs[0], geo.LocalMarker) {
		t.Errorf("Expected local marker in message, got %v", n.msgs)
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, make(chan ingest.LogLine))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	e.Wait()
}

func TestEngine_SetToggles(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), n)

	off := allEnabled()
	off.Failed = false
	e.SetToggles(off)
	if e.ProcessLine(scenario[1]) {
		t.Error("Failed login should not be dispatched once disabled")
	}

	e.SetToggles(allEnabled())
	if !e.ProcessLine(scenario[1]) {
		t.Error("Failed login should be dispatched once re-enabled")
	}
	e.Wait()
	if n.count() != 1 {
		t.Errorf("Expected 1 send, got %d", n.count())
	}
}

func TestEngine_FileTailerScenario(t *testing.T) {
	const warmUp = "ssh-sentry tail ready"

	path := filepath.Join(t.TempDir(), "auth.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	tailer := ingest.NewFileTailer(path)
	tailed, err := tailer.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tailer.Stop()

	n := &recordingNotifier{}
	e := NewEngine(allEnabled(), parser.NewSSHParser(), newLimiter(t),
		geo.NewResolver(staticProvider{}), explain.NewTemplateFormatter(), n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Forward tailed lines to the engine, noting when the tailer is positioned
	ready := make(chan struct{})
	lines := make(chan ingest.LogLine)
	go func() {
		seen := false
		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-tailed:
				if !ok {
					return
				}
				if !seen && l.Content == warmUp {
					seen = true
					close(ready)
				}
				select {
				case lines <- l:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		e.Run(ctx, lines)
		close(runDone)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(10 * time.Second)
wait:
	for {
		select {
		case <-ready:
			break wait
		case <-ticker.C:
			fh.WriteString(warmUp + "\n")
		case <-deadline:
			t.Fatal("Timed out waiting for the tailer")
		}
	}

	for _, l := range scenario {
		fh.WriteString(l + "\n")
	}

	for n.count() < 3 {
		select {
		case <-ticker.C:
		case <-deadline:
			t.Fatalf("Expected 3 sends, got %d", n.count())
		}
	}

	cancel()
	<-runDone
	e.Wait()

	if n.count() != 3 {
		t.Errorf("Expected exactly 3 sends, got %d", n.count())
	}
}
