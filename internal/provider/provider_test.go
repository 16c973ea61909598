package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/metrics"
)

// fakeAPI is an OpenAI-compatible server that records what it was sent.
type fakeAPI struct {
	mu       sync.Mutex
	bodies   []map[string]any
	forms    []map[string]string
	paths    []string
	failWith int
	srv      *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	api.srv = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) url() string { return a.srv.URL + "/" }

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.paths = append(a.paths, r.URL.Path)
	failWith := a.failWith
	a.mu.Unlock()

	if failWith != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failWith)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		return
	}

	switch r.URL.Path {
	case "/chat/completions":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.bodies = append(a.bodies, body)
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"the reply"}}]}`))

	case "/audio/transcriptions":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.mu.Lock()
		a.forms = append(a.forms, map[string]string{
			"model":    r.FormValue("model"),
			"language": r.FormValue("language"),
		})
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"spoken words"}`))

	default:
		http.NotFound(w, r)
	}
}

func (a *fakeAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.paths)
}

func (a *fakeAPI) lastBody(t *testing.T) map[string]any {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.bodies) == 0 {
		t.Fatal("no chat request received")
	}
	return a.bodies[len(a.bodies)-1]
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (p *recordingPublisher) Publish(ctx context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func newDispatcher(settings config.Settings, pub events.Publisher) (*Dispatcher, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d := New(func(context.Context) (config.Settings, error) { return settings, nil }, pub, m,
		option.WithMaxRetries(0))
	return d, m
}

func TestChatUsesDefaultProviderAndPreferredModel(t *testing.T) {
	api := newFakeAPI(t)
	settings := config.Settings{
		DefaultChatProvider: "OpenAI",
		AIConfigs: []config.AIConfig{{
			Provider:           "OpenAI",
			APIKey:             "sk-test",
			OpenAIBaseURL:      api.url(),
			ChatModels:         []string{"gpt-4o-mini", "gpt-4o"},
			PreferredChatModel: "gpt-4o",
		}},
	}
	d, m := newDispatcher(settings, nil)

	resp := d.Interaction(context.Background(), "be brief", "hello")
	if resp.Status != Success || resp.Text != "the reply" {
		t.Fatalf("resp = %+v", resp)
	}

	body := api.lastBody(t)
	if body["model"] != "gpt-4o" {
		t.Errorf("model = %v, want gpt-4o", body["model"])
	}
	if body["max_tokens"] != float64(defaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", body["max_tokens"], defaultMaxTokens)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("OpenAI", "SUCCESS")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
}

func TestChatProviderSpecificRequests(t *testing.T) {
	tests := []struct {
		provider string
		check    func(t *testing.T, body map[string]any)
	}{
		{"Anthropic", func(t *testing.T, body map[string]any) {
			if body["max_tokens"] != float64(1024) {
				t.Errorf("max_tokens = %v, want 1024", body["max_tokens"])
			}
		}},
		{"Perplexity", func(t *testing.T, body map[string]any) {
			if body["search_recency_filter"] != "month" {
				t.Errorf("search_recency_filter = %v", body["search_recency_filter"])
			}
			if body["return_images"] != false || body["return_related_questions"] != false {
				t.Errorf("search flags = %v %v", body["return_images"], body["return_related_questions"])
			}
			if _, ok := body["max_tokens"]; ok {
				t.Errorf("unexpected max_tokens %v", body["max_tokens"])
			}
		}},
		{"DeepInfra", func(t *testing.T, body map[string]any) {
			if body["max_tokens"] != float64(500) {
				t.Errorf("max_tokens = %v, want configured 500", body["max_tokens"])
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			api := newFakeAPI(t)
			acct := config.AIConfig{
				Provider:      tt.provider,
				APIKey:        "key",
				OpenAIBaseURL: api.url(),
				MaxTokens:     500,
				ChatModels:    []string{"m1"},
			}
			d, _ := newDispatcher(config.Settings{AIConfigs: []config.AIConfig{acct}}, nil)

			resp := d.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, &acct, "m1")
			if resp.Status != Success {
				t.Fatalf("resp = %+v", resp)
			}
			tt.check(t, api.lastBody(t))
		})
	}
}

func TestChatFallsBackToAnyConfiguredModel(t *testing.T) {
	api := newFakeAPI(t)
	settings := config.Settings{
		DefaultChatProvider: "Anthropic",
		AIConfigs: []config.AIConfig{
			{Provider: "Anthropic", ChatModels: []string{"claude"}},
			{Provider: "Groq", APIKey: "gsk", OpenAIBaseURL: api.url(), ChatModels: []string{"llama"}},
		},
	}
	d, _ := newDispatcher(settings, nil)

	resp := d.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "")
	if resp.Status != Success {
		t.Fatalf("resp = %+v", resp)
	}
	if got := api.lastBody(t)["model"]; got != "llama" {
		t.Fatalf("model = %v, want llama", got)
	}
}

func TestChatFailures(t *testing.T) {
	api := newFakeAPI(t)
	openAI := config.AIConfig{
		Provider:      "OpenAI",
		APIKey:        "sk",
		OpenAIBaseURL: api.url(),
		ChatModels:    []string{"gpt-4o"},
	}

	tests := []struct {
		name     string
		settings config.Settings
		model    string
	}{
		{"no accounts", config.Settings{}, ""},
		{"no keys", config.Settings{AIConfigs: []config.AIConfig{{Provider: "OpenAI", ChatModels: []string{"gpt-4o"}}}}, ""},
		{"unlisted model", config.Settings{DefaultChatProvider: "OpenAI", AIConfigs: []config.AIConfig{openAI}}, "gpt-5"},
		{"no chat handler", config.Settings{AIConfigs: []config.AIConfig{{Provider: "AssemblyAI", APIKey: "k", ChatModels: []string{"x"}}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDispatcher(tt.settings, nil)
			resp := d.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, tt.model)
			if resp.Status != Failure || resp.Error != ErrNoChatModel.Error() {
				t.Fatalf("resp = %+v", resp)
			}
		})
	}
	if api.calls() != 0 {
		t.Fatalf("server called %d times", api.calls())
	}
}

func TestChatUpstreamErrorIsFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.mu.Lock()
	api.failWith = http.StatusInternalServerError
	api.mu.Unlock()
	acct := config.AIConfig{Provider: "OpenAI", APIKey: "sk", OpenAIBaseURL: api.url(), ChatModels: []string{"gpt-4o"}}
	d, m := newDispatcher(config.Settings{DefaultChatProvider: "OpenAI", AIConfigs: []config.AIConfig{acct}}, nil)

	resp := d.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "")
	if resp.Status != Failure || resp.Error == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("OpenAI", "FAILURE")); got != 1 {
		t.Fatalf("failure count = %v, want 1", got)
	}
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lecture.wav")
	if err := os.WriteFile(path, []byte("RIFF0000WAVEfmt "), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeModels(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		language string
	}{
		{"OpenAI", "whisper-1", "en"},
		{"Groq", "whisper-large-v3", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			api := newFakeAPI(t)
			settings := config.Settings{
				DefaultTranscribeProvider: tt.provider,
				AIConfigs: []config.AIConfig{{
					Provider:      tt.provider,
					APIKey:        "key",
					OpenAIBaseURL: api.url(),
					Transcribe:    true,
				}},
			}
			d, _ := newDispatcher(settings, nil)

			resp := d.Transcribe(context.Background(), writeAudio(t))
			if resp.Status != Success || resp.Text != "spoken words" {
				t.Fatalf("resp = %+v", resp)
			}
			api.mu.Lock()
			form := api.forms[0]
			api.mu.Unlock()
			if form["model"] != tt.model || form["language"] != tt.language {
				t.Fatalf("form = %v", form)
			}
		})
	}
}

func TestTranscribeWithoutProvider(t *testing.T) {
	settings := config.Settings{
		DefaultTranscribeProvider: "OpenAI",
		AIConfigs: []config.AIConfig{
			{Provider: "OpenAI", Transcribe: true},
			{Provider: "Groq", APIKey: "gsk", Transcribe: false},
		},
	}
	d, _ := newDispatcher(settings, nil)

	resp := d.Transcribe(context.Background(), writeAudio(t))
	if resp.Status != Failure || resp.Error != ErrNoTranscriber.Error() {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPendingRequestsArePublished(t *testing.T) {
	api := newFakeAPI(t)
	pub := &recordingPublisher{}
	acct := config.AIConfig{Provider: "OpenAI", APIKey: "sk", OpenAIBaseURL: api.url(), ChatModels: []string{"gpt-4o"}}
	d, _ := newDispatcher(config.Settings{DefaultChatProvider: "OpenAI", AIConfigs: []config.AIConfig{acct}}, pub)

	d.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var got [][]string
	for _, m := range pub.msgs {
		if m.Channel != events.ChannelPendingRequests {
			t.Fatalf("channel = %q", m.Channel)
		}
		got = append(got, m.Payload.([]string))
	}
	want := [][]string{{"OpenAI request"}, {}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	if len(d.Pending().List()) != 0 {
		t.Fatal("pending list not empty after request")
	}
}

func TestFailuresArePublishedAsErrors(t *testing.T) {
	pub := &recordingPublisher{}
	d, _ := newDispatcher(config.Settings{}, pub)

	resp := d.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "")
	if resp.Status != Failure {
		t.Fatalf("resp = %+v", resp)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var errs []string
	for _, m := range pub.msgs {
		if m.Channel == events.ChannelSessionError {
			if m.Session != "" {
				t.Errorf("provider error tagged with session %q", m.Session)
			}
			errs = append(errs, m.Payload.(string))
		}
	}
	if len(errs) != 1 || errs[0] != ErrNoChatModel.Error() {
		t.Fatalf("errors published = %q", errs)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Message) error {
	return errors.New("broker down")
}

func TestPendingLogsPublishFailures(t *testing.T) {
	var buf bytes.Buffer
	p := NewPending(failingPublisher{})
	p.log = zerolog.New(&buf)

	id := p.Add("Transcribe Request")
	if got := p.List(); len(got) != 1 {
		t.Fatalf("list = %v", got)
	}
	p.Remove(id)

	if n := bytes.Count(buf.Bytes(), []byte("Failed to publish pending requests")); n != 2 {
		t.Errorf("logged %d publish failures, want 2: %s", n, buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("broker down")) {
		t.Errorf("log is missing the cause: %s", buf.String())
	}
}

func TestChooseModel(t *testing.T) {
	acct := config.AIConfig{ChatModels: []string{"a", "b"}, PreferredChatModel: "b"}
	tests := []struct {
		name      string
		acct      config.AIConfig
		requested string
		want      string
		ok        bool
	}{
		{"listed request", acct, "a", "a", true},
		{"unlisted request", acct, "z", "z", false},
		{"preferred", acct, "", "b", true},
		{"preferred not listed", config.AIConfig{ChatModels: []string{"a"}, PreferredChatModel: "z"}, "", "a", true},
		{"no models", config.AIConfig{}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := chooseModel(tt.acct, tt.requested)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Fatalf("chooseModel = %q %v, want %q %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
