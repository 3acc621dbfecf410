package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelab/curator/client"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/threshold"
	"github.com/curatelab/curator/tracker"
)

const paragraph = "Go interfaces are satisfied implicitly, which keeps packages decoupled and makes testing with small fakes straightforward. "

func articleHTML(title string, images ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><article><h1>" + title + "</h1>")
	for i := 0; i < 6; i++ {
		b.WriteString("<p>" + strings.Repeat(paragraph, 3) + "</p>")
	}
	for _, src := range images {
		b.WriteString(`<img src="` + src + `" alt="Diagram of the pipeline">`)
	}
	b.WriteString("</article></body></html>")
	return b.String()
}

// fakeSource serves canned HTML per URL
type fakeSource struct {
	mu    sync.Mutex
	pages map[string]string
}

func (f *fakeSource) Fetch(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("HTTP error: 404")
	}
	return io.NopCloser(strings.NewReader(page)), nil
}

// fakeBackend records calls and returns configured scores
type fakeBackend struct {
	mu          sync.Mutex
	connected   bool
	pageScores  map[string]int
	imageScores map[string]int
	blockURL    string
	started     chan string
	submitErr   error
	submits     []models.Submission
	pushed      []int
	urls        []string
	pageCalls   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		connected:   true,
		pageScores:  map[string]int{},
		imageScores: map[string]int{},
		started:     make(chan string, 16),
	}
}

func (f *fakeBackend) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	f.mu.Lock()
	if req.Type == models.RequestTypeImage {
		s, ok := f.imageScores[req.URL]
		f.mu.Unlock()
		if !ok {
			return nil, errors.New("image analysis failed")
		}
		return &models.AnalysisResult{Score: s, Method: "llava", Summary: "image"}, nil
	}
	f.pageCalls = append(f.pageCalls, req.URL)
	s := f.pageScores[req.URL]
	block := req.URL == f.blockURL
	f.mu.Unlock()

	f.started <- req.URL
	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("analyze %s: %w", req.URL, ctx.Err())
	}
	return &models.AnalysisResult{Score: s, Summary: "Solid article", Method: "llama3.2:1b", Model: "llama3.2:1b", Tags: []string{"go"}, Category: "tech"}, nil
}

func (f *fakeBackend) Submit(ctx context.Context, sub models.Submission) (*models.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, sub)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.SubmitResponse{Action: "created"}, nil
}

func (f *fakeBackend) UserURLs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, client.ErrNotConnected
	}
	return f.urls, nil
}

func (f *fakeBackend) SetThreshold(ctx context.Context, value int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, value)
	return value, nil
}

func (f *fakeBackend) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeBackend) pageCallList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pageCalls...)
}

type fixture struct {
	session *Session
	backend *fakeBackend
	source  *fakeSource
	tracker *tracker.Tracker
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	tr, err := tracker.New(context.Background(), tracker.NewMemoryStore())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.UpdateDebounce = 20 * time.Millisecond
	cfg.ActivateDebounce = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		backend: newFakeBackend(),
		source:  &fakeSource{pages: map[string]string{}},
		tracker: tr,
	}
	f.session = NewSession(cfg, f.source, f.backend, tr)
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) page(url string, score int, images ...string) {
	f.source.mu.Lock()
	f.source.pages[url] = articleHTML("Understanding Go interfaces in practice", images...)
	f.source.mu.Unlock()
	f.backend.mu.Lock()
	f.backend.pageScores[url] = score
	f.backend.mu.Unlock()
}

func TestProcessSubmitsQualifyingPageWithVisual(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/go-interfaces"
	img1 := "https://cdn.example.com/photos/diagram-1.png"
	img2 := "https://cdn.example.com/photos/diagram-2.png"
	img3 := "https://cdn.example.com/photos/diagram-3.png"
	f.page(url, 80, img1, img2, img3)
	f.backend.imageScores[img1] = 50
	f.backend.imageScores[img2] = 60 // img3 fails and is left out

	pa, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)

	assert.Equal(t, 80, pa.TextScore)
	assert.Equal(t, 70, pa.Result.Score) // round(0.6*80 + 0.4*55)
	assert.Equal(t, "llama3.2:1b+vision", pa.Result.Method)
	assert.Contains(t, pa.Result.Summary, "Visual analysis: 2 items, avg score: 55")
	assert.True(t, pa.Qualified)
	assert.Equal(t, DecisionSubmitted, pa.Decision)

	require.Equal(t, 1, f.backend.submitCount())
	sub := f.backend.submits[0]
	assert.Equal(t, float64(70), sub.Score)
	assert.True(t, sub.IsQualified)
	require.NotNil(t, sub.Analysis)
	assert.Equal(t, threshold.Default, sub.Analysis.Threshold)
	assert.Equal(t, 80, sub.Analysis.TextScore)
	assert.Len(t, sub.Analysis.Visual, 2)
	assert.Equal(t, []string{"go"}, sub.Analysis.Tags)

	assert.Equal(t, tracker.Confirmed, f.tracker.State(url))
}

func TestProcessBelowThresholdDoesNotSubmit(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/thin"
	f.page(url, 40)

	pa, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)

	assert.False(t, pa.Qualified)
	assert.Equal(t, DecisionBelowThreshold, pa.Decision)
	assert.Equal(t, 0, f.backend.submitCount())
	assert.Equal(t, tracker.NotSubmitted, f.tracker.State(url))
}

func TestProcessDuplicateCountsAsSuccess(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/dup"
	f.page(url, 90)
	f.backend.submitErr = client.ErrDuplicate

	pa, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)
	assert.Equal(t, DecisionDuplicate, pa.Decision)
	assert.Equal(t, tracker.Confirmed, f.tracker.State(url))
}

func TestProcessSubmitFailureReleasesPending(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/flaky"
	f.page(url, 90)
	f.backend.submitErr = &client.StatusError{StatusCode: 500, Message: "database error"}

	pa, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.Error(t, err)
	assert.Equal(t, DecisionFailed, pa.Decision)
	assert.Equal(t, tracker.NotSubmitted, f.tracker.State(url))

	f.backend.submitErr = nil
	pa, err = f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)
	assert.Equal(t, DecisionSubmitted, pa.Decision)
}

func TestProcessUnauthorizedLeavesTrackerUntouched(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/auth"
	f.page(url, 90)
	f.backend.submitErr = client.ErrNotConnected

	_, err := f.session.AnalyzeNow(context.Background(), url, false)
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.Equal(t, tracker.NotSubmitted, f.tracker.State(url))
}

func TestProcessSkipsTrackedURL(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/seen"
	f.page(url, 90)
	require.NoError(t, f.tracker.MarkConfirmed(context.Background(), url+"/"))

	pa, err := f.session.process(context.Background(), url, processOptions{})
	require.NoError(t, err)
	assert.Equal(t, DecisionTracked, pa.Decision)
	assert.Empty(t, f.backend.pageCallList(), "tracked urls are not re-analyzed")
	assert.Equal(t, 0, f.backend.submitCount())
}

func TestProcessNotConnected(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.connected = false
	url := "https://blog.example.com/offline"
	f.page(url, 90)

	_, err := f.session.AnalyzeNow(context.Background(), url, false)
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.Empty(t, f.backend.pageCallList())
}

func TestProcessTooShort(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/short"
	f.source.pages[url] = "<html><head><title>Short</title></head><body><p>Just a line.</p></body></html>"

	_, err := f.session.AnalyzeNow(context.Background(), url, false)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestProcessRejectsInternalPages(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.session.AnalyzeNow(context.Background(), "chrome://settings", false)
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestManualSaveIgnoresThreshold(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/personal"
	f.page(url, 30)

	pa, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)
	require.Equal(t, DecisionBelowThreshold, pa.Decision)

	saved, err := f.session.SaveLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionSubmitted, saved.Decision)
	assert.Equal(t, 1, f.backend.submitCount())
	assert.Equal(t, DecisionSubmitted, f.session.Status().LastAnalysis.Decision)
}

func TestSaveLastWithoutAnalysis(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.session.SaveLast(context.Background())
	assert.ErrorIs(t, err, ErrNoAnalysis)
}

func TestAutoSubmitDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AutoSubmit = false })
	url := "https://blog.example.com/review-first"
	f.page(url, 90)

	pa, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)
	assert.Equal(t, DecisionAnalyzed, pa.Decision)
	assert.Equal(t, 0, f.backend.submitCount())

	pa, err = f.session.AnalyzeNow(context.Background(), url, true)
	require.NoError(t, err)
	assert.Equal(t, DecisionSubmitted, pa.Decision)
}

func TestThresholdReevaluation(t *testing.T) {
	tests := []struct {
		threshold float64
		qualified bool
	}{
		{threshold: 60, qualified: true},
		{threshold: 70, qualified: false},
		{threshold: 0.65, qualified: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.threshold), func(t *testing.T) {
			f := newFixture(t, func(c *Config) { c.AutoSubmit = false })
			url := "https://blog.example.com/sixty-five"
			f.page(url, 65)

			_, err := f.session.SetThreshold(context.Background(), tt.threshold)
			require.NoError(t, err)

			pa, err := f.session.AnalyzeNow(context.Background(), url, false)
			require.NoError(t, err)
			assert.Equal(t, 65, pa.Result.Score)
			assert.Equal(t, tt.qualified, pa.Qualified)
		})
	}
}

func TestDebounceRunsOnlyLatestEvent(t *testing.T) {
	f := newFixture(t, nil)
	for _, u := range []string{"https://a.example.com/1", "https://a.example.com/2", "https://a.example.com/3"} {
		f.page(u, 90)
	}

	f.session.OnTabUpdated(1, "https://a.example.com/1")
	f.session.OnTabUpdated(1, "https://a.example.com/2")
	f.session.OnTabActivated(1, "https://a.example.com/3")

	assert.Eventually(t, func() bool { return f.backend.submitCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"https://a.example.com/3"}, f.backend.pageCallList())
	assert.Equal(t, 1, f.backend.submitCount())
}

func TestDebounceIsPerTab(t *testing.T) {
	f := newFixture(t, nil)
	f.page("https://a.example.com/x", 90)
	f.page("https://a.example.com/y", 90)

	f.session.OnTabUpdated(1, "https://a.example.com/x")
	f.session.OnTabUpdated(2, "https://a.example.com/y")

	assert.Eventually(t, func() bool { return f.backend.submitCount() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewEventCancelsInFlightAnalysis(t *testing.T) {
	f := newFixture(t, nil)
	slow := "https://a.example.com/slow"
	fast := "https://a.example.com/fast"
	f.page(slow, 90)
	f.page(fast, 90)
	f.backend.blockURL = slow

	f.session.OnTabUpdated(7, slow)
	select {
	case got := <-f.backend.started:
		require.Equal(t, slow, got)
	case <-time.After(2 * time.Second):
		t.Fatal("slow analysis never started")
	}

	f.session.OnTabUpdated(7, fast)

	assert.Eventually(t, func() bool { return f.backend.submitCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.backend.mu.Lock()
	assert.Equal(t, fast, f.backend.submits[0].URL)
	f.backend.mu.Unlock()
	assert.Equal(t, tracker.NotSubmitted, f.tracker.State(slow))
	assert.Equal(t, tracker.Confirmed, f.tracker.State(fast))
}

func TestTabClosedDropsScheduledWork(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.UpdateDebounce = 50 * time.Millisecond })
	f.page("https://a.example.com/closed", 90)

	f.session.OnTabUpdated(3, "https://a.example.com/closed")
	f.session.OnTabClosed(3)

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, f.backend.pageCallList())
}

func TestStartReconcilesAndPushesThreshold(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Threshold = 62 })
	f.backend.urls = []string{"https://a.example.com/old/"}

	require.NoError(t, f.session.Start(context.Background()))

	assert.Equal(t, tracker.Confirmed, f.tracker.State("https://a.example.com/old"))
	assert.Equal(t, []int{62}, f.backend.pushed)
}

func TestStartWithoutCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.connected = false

	require.NoError(t, f.session.Start(context.Background()))
	assert.Empty(t, f.backend.pushed)
}

func TestSetThreshold(t *testing.T) {
	f := newFixture(t, nil)

	v, err := f.session.SetThreshold(context.Background(), 0.7)
	require.NoError(t, err)
	assert.Equal(t, 70, v)
	assert.Equal(t, 70, f.session.Threshold())
	assert.Equal(t, []int{70}, f.backend.pushed)

	_, err = f.session.SetThreshold(context.Background(), 101)
	assert.ErrorIs(t, err, threshold.ErrOutOfRange)
	assert.Equal(t, 70, f.session.Threshold())

	f.backend.connected = false
	v, err = f.session.SetThreshold(context.Background(), 40)
	require.NoError(t, err)
	assert.Equal(t, 40, v)
	assert.Equal(t, []int{70}, f.backend.pushed, "offline changes are not pushed")
}

func TestInvalidConfiguredThresholdFallsBack(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Threshold = 250 })
	assert.Equal(t, threshold.Default, f.session.Threshold())
}

func TestStatusAndClearCache(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://blog.example.com/status"
	f.page(url, 90)

	_, err := f.session.AnalyzeNow(context.Background(), url, false)
	require.NoError(t, err)

	st := f.session.Status()
	assert.True(t, st.Authenticated)
	assert.Equal(t, threshold.Default, st.Threshold)
	assert.Equal(t, "llama3.2:1b", st.Model)
	assert.Equal(t, 1, st.Confirmed)
	require.NotNil(t, st.LastAnalysis)
	assert.Equal(t, url, st.LastAnalysis.URL)

	require.NoError(t, f.session.ClearCache(context.Background()))
	st = f.session.Status()
	assert.Nil(t, st.LastAnalysis)
	assert.Equal(t, 0, st.Confirmed)
}
