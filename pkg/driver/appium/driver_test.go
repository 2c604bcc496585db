package appium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/gesture"
	"github.com/devicelab-dev/touchflow/pkg/locator"
)

// fakeAppium serves a scrollable list: each /actions call moves to the next screen.
type fakeAppium struct {
	mu       sync.Mutex
	screens  [][]string // node texts per screen
	screen   int
	finds    []string
	gestures int
	clicked  []string
	session  string
}

var containsText = regexp.MustCompile(`contains\(@(text|content-desc), '([^']*)'\)`)

func (f *fakeAppium) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		prefix := "/session/" + f.session
		if !strings.HasPrefix(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{
				"error": "invalid session id", "message": "session is either terminated or not started",
			}})
			return
		}
		path := strings.TrimPrefix(r.URL.Path, prefix)

		switch {
		case path == "/source":
			var b strings.Builder
			b.WriteString("<hierarchy>")
			for _, text := range f.screens[f.screen] {
				fmt.Fprintf(&b, `<node class="android.widget.TextView" text="%s"/>`, text)
			}
			b.WriteString("</hierarchy>")
			writeJSON(w, map[string]interface{}{"value": b.String()})

		case path == "/element":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.finds = append(f.finds, body["value"])
			m := containsText.FindStringSubmatch(body["value"])
			if m != nil && m[1] == "text" {
				for i, text := range f.screens[f.screen] {
					if strings.Contains(text, m[2]) {
						writeJSON(w, map[string]interface{}{"value": map[string]interface{}{
							w3cElementKey: fmt.Sprintf("%d-%d", f.screen, i),
						}})
						return
					}
				}
			}
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{
				"error": "no such element", "message": "An element could not be located",
			}})

		case path == "/actions":
			f.gestures++
			if f.screen < len(f.screens)-1 {
				f.screen++
			}
			writeJSON(w, map[string]interface{}{"value": nil})

		case strings.HasSuffix(path, "/click"):
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/element/"), "/click")
			f.clicked = append(f.clicked, id)
			writeJSON(w, map[string]interface{}{"value": nil})

		case strings.HasSuffix(path, "/text"):
			writeJSON(w, map[string]interface{}{"value": "Harry Potter"})

		default:
			t.Logf("unhandled %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newFakeDriver(t *testing.T, f *fakeAppium) *Driver {
	t.Helper()
	f.session = "s1"
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	c := NewClient(server.URL)
	c.sessionID = "s1"
	c.platform = "android"
	return &Driver{client: c, platform: "android"}
}

func TestDriver_SelectorAndroid(t *testing.T) {
	d := &Driver{platform: "android"}
	tests := []struct {
		name     string
		loc      core.Locator
		strategy string
		value    string
	}{
		{"text", core.TextContains("Continue"), "xpath", "//*[contains(@text, 'Continue')]"},
		{"content-desc", core.AttributeContains("", "Search"), "xpath", "//*[contains(@content-desc, 'Search')]"},
		{"apostrophe", core.TextContains("Don't allow"), "xpath", `//*[contains(@text, "Don't allow")]`},
		{"id", core.ID("com.gtl.nextory:id/login"), "id", "com.gtl.nextory:id/login"},
		{"class", core.ClassName("android.widget.EditText"), "class name", "android.widget.EditText"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy, value, err := d.selector(tt.loc)
			if err != nil {
				t.Fatalf("selector() error = %v", err)
			}
			if strategy != tt.strategy || value != tt.value {
				t.Errorf("selector() = %q, %q, want %q, %q", strategy, value, tt.strategy, tt.value)
			}
		})
	}
}

func TestDriver_SelectorIOS(t *testing.T) {
	d := &Driver{platform: "ios"}

	strategy, value, _ := d.selector(core.TextContains(`Say "hi"`))
	if strategy != "-ios predicate string" || value != `label CONTAINS "Say \"hi\"" OR value CONTAINS "Say \"hi\""` {
		t.Errorf("text selector = %q, %q", strategy, value)
	}
	strategy, value, _ = d.selector(core.AttributeContains("", "Search"))
	if strategy != "xpath" || value != "//*[contains(@label, 'Search')]" {
		t.Errorf("description selector = %q, %q", strategy, value)
	}
	if strategy, _, _ = d.selector(core.ID("login")); strategy != "accessibility id" {
		t.Errorf("id strategy = %q", strategy)
	}
}

func TestDriver_FindElementMapsNotFound(t *testing.T) {
	d := newFakeDriver(t, &fakeAppium{screens: [][]string{{"Login"}}})

	if _, err := d.FindElement(core.TextContains("Register")); !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("FindElement() error = %v, want ErrElementNotFound", err)
	}
	h, err := d.FindElement(core.TextContains("Log"))
	if err != nil || h != "0-0" {
		t.Errorf("FindElement() = %q, %v", h, err)
	}
}

func TestDriver_InvalidSessionIsSessionError(t *testing.T) {
	d := newFakeDriver(t, &fakeAppium{screens: [][]string{{"Login"}}})
	d.client.sessionID = "gone"

	_, err := d.Snapshot()
	if !errors.Is(err, core.ErrDeviceDisconnected) || !core.IsSessionError(err) {
		t.Errorf("Snapshot() error = %v, want session error", err)
	}
}

func TestDriver_ReadText(t *testing.T) {
	d := newFakeDriver(t, &fakeAppium{screens: [][]string{{"Harry Potter"}}})

	text, err := d.ReadText("0-0")
	if err != nil || text != "Harry Potter" {
		t.Errorf("ReadText() = %q, %v", text, err)
	}
}

func TestDriver_ScrollingLocator(t *testing.T) {
	f := &fakeAppium{screens: [][]string{
		{"Continue", "Browse"},
		{"Popular", "New"},
		{"Harry Potter", "Lord of the Rings"},
	}}
	d := newFakeDriver(t, f)

	l := locator.New(d, gesture.New(d))
	if err := l.LocateAndActivate(context.Background(), "Harry Potter", 5); err != nil {
		t.Fatalf("LocateAndActivate() error = %v", err)
	}

	if f.gestures != 2 {
		t.Errorf("gestures = %d, want 2", f.gestures)
	}
	if len(f.clicked) != 1 || f.clicked[0] != "2-0" {
		t.Errorf("clicked = %v, want [2-0]", f.clicked)
	}
}

func TestDriver_ScrollingLocatorExhausted(t *testing.T) {
	f := &fakeAppium{screens: [][]string{{"Continue"}, {"Popular"}}}
	d := newFakeDriver(t, f)

	err := locator.New(d, gesture.New(d)).LocateAndActivate(context.Background(), "Missing Book", 3)

	var nf *core.NotFoundError
	if !errors.As(err, &nf) || nf.AttemptsUsed != 3 {
		t.Fatalf("error = %v, want NotFoundError after 3 attempts", err)
	}
	if f.gestures != 3 {
		t.Errorf("gestures = %d, want 3", f.gestures)
	}
	if len(f.clicked) != 0 {
		t.Errorf("clicked = %v, want none", f.clicked)
	}
}

// sessionServer refuses the first drop connections to /session by closing
// them, then creates sessions; other paths answer with an empty value.
func sessionServer(t *testing.T, drop int, reject bool) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/session" {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n <= drop {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
				return
			}
			if reject {
				w.WriteHeader(http.StatusBadRequest)
				writeJSON(w, map[string]interface{}{"value": map[string]interface{}{
					"error": "session not created", "message": "bad capabilities",
				}})
				return
			}
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{
				"sessionId": "s1", "capabilities": map[string]interface{}{"platformName": "Android"},
			}})
			return
		}
		writeJSON(w, map[string]interface{}{"value": nil})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func noBackOff(t *testing.T) {
	t.Helper()
	orig := sessionBackOff
	sessionBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	t.Cleanup(func() { sessionBackOff = orig })
}

func TestDial_RetriesUnreachableServer(t *testing.T) {
	noBackOff(t)
	server, calls := sessionServer(t, 2, false)

	d, err := Dial(context.Background(), server.URL, map[string]interface{}{"platformName": "Android"}, 3)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if d.Client().SessionID() != "s1" {
		t.Errorf("session = %q", d.Client().SessionID())
	}
	if *calls != 3 {
		t.Errorf("session requests = %d, want 3", *calls)
	}
}

func TestDial_GivesUpAfterRetries(t *testing.T) {
	noBackOff(t)
	server, calls := sessionServer(t, 100, false)

	_, err := Dial(context.Background(), server.URL, nil, 2)
	if !errors.Is(err, core.ErrServerUnreachable) {
		t.Errorf("error = %v, want ErrServerUnreachable", err)
	}
	if *calls != 3 {
		t.Errorf("session requests = %d, want 3", *calls)
	}
}

func TestDial_RejectedCapabilitiesNotRetried(t *testing.T) {
	noBackOff(t)
	server, calls := sessionServer(t, 0, true)

	_, err := Dial(context.Background(), server.URL, nil, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, core.ErrServerUnreachable) {
		t.Errorf("error = %v, want the server's rejection", err)
	}
	if *calls != 1 {
		t.Errorf("session requests = %d, want 1", *calls)
	}
}

func TestDial_CancelledContext(t *testing.T) {
	noBackOff(t)
	server, _ := sessionServer(t, 100, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Dial(ctx, server.URL, nil, 5); err == nil {
		t.Error("expected error with cancelled context")
	}
}
