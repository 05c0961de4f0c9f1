package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

const testAPIKey = "test-key"

// fakeVT mimics the submit and analysis endpoints of the VirusTotal v3 API.
type fakeVT struct {
	srv *httptest.Server

	mu           sync.Mutex
	submitStatus int
	pollStatus   int
	statuses     []string // one per poll, the last one repeats
	malicious    int
	suspicious   int
	submitted    []string
	polls        int
}

func newFakeVT(t *testing.T) *fakeVT {
	t.Helper()
	f := &fakeVT{
		submitStatus: http.StatusOK,
		pollStatus:   http.StatusOK,
		statuses:     []string{"completed"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /urls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("x-apikey") != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.submitted = append(f.submitted, r.FormValue("url"))
		if f.submitStatus != http.StatusOK {
			w.WriteHeader(f.submitStatus)
			return
		}
		fmt.Fprintf(w, `{"data":{"type":"analysis","id":"u-1","links":{"self":%q}}}`, f.srv.URL+"/analyses/u-1")
	})
	mux.HandleFunc("GET /analyses/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		if f.pollStatus != http.StatusOK {
			w.WriteHeader(f.pollStatus)
			return
		}
		status := f.statuses[min(f.polls, len(f.statuses))-1]
		var body struct {
			Data struct {
				Attributes struct {
					Status string         `json:"status"`
					Stats  map[string]int `json:"stats"`
				} `json:"attributes"`
			} `json:"data"`
		}
		body.Data.Attributes.Status = status
		body.Data.Attributes.Stats = map[string]int{
			"harmless":   70,
			"malicious":  f.malicious,
			"suspicious": f.suspicious,
			"undetected": 10,
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeVT) set(fn func(f *fakeVT)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeVT) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeVT) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func scanConfig(baseURL string) config.ScanConfig {
	return config.ScanConfig{
		APIKey:      testAPIKey,
		BaseURL:     baseURL,
		Interval:    10 * time.Millisecond,
		MaxAttempts: 3,
		Workers:     2,
		QueueSize:   10,
	}
}

func newRepo(t *testing.T) *sqlite.SQLiteRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	repo, err := sqlite.NewSQLiteRepository(fmt.Sprintf("file:scanner_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seed(t *testing.T, repo *sqlite.SQLiteRepository, shortID, destination string) ports.ScanJob {
	t.Helper()
	link := &domain.ShortLink{ShortID: shortID, Destination: destination, Created: time.Now().UTC()}
	require.NoError(t, repo.Create(context.Background(), link))
	return ports.ScanJob{LinkID: link.ID, ShortID: shortID, Destination: destination}
}

func isBlocked(t *testing.T, repo *sqlite.SQLiteRepository, id int64) bool {
	t.Helper()
	link, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return link.IsBlocked
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Get(context.Context, string) (*domain.RedirectTarget, bool) { return nil, false }
func (c *recordingCache) Set(context.Context, *domain.RedirectTarget)                 {}
func (c *recordingCache) Invalidate(_ context.Context, ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
}

func TestCheckVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		malicious  int
		suspicious int
		want       Verdict
	}{
		{"clean", 0, 0, VerdictPassed},
		{"malicious", 3, 0, VerdictFailed},
		{"suspicious only", 0, 1, VerdictFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt := newFakeVT(t)
			vt.set(func(f *fakeVT) { f.malicious, f.suspicious = tt.malicious, tt.suspicious })
			s := New(scanConfig(vt.srv.URL), nil, zap.NewNop())

			got, err := s.Check(context.Background(), "http://example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"http://example.com"}, vt.submissions())
			assert.Equal(t, 1, vt.pollCount())
		})
	}
}

func TestCheckKeepsPollingUntilCompleted(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) { f.statuses = []string{"queued", "in-progress", "completed"} })
	s := New(scanConfig(vt.srv.URL), nil, zap.NewNop())

	got, err := s.Check(context.Background(), "http://example.com")
	require.NoError(t, err)
	assert.Equal(t, VerdictPassed, got)
	assert.Equal(t, 3, vt.pollCount())
}

func TestCheckFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fakeVT)
		wantErr   error
		wantPolls int
	}{
		{
			name:      "submit rejected",
			setup:     func(f *fakeVT) { f.submitStatus = http.StatusTooManyRequests },
			wantErr:   ErrSubmit,
			wantPolls: 0,
		},
		{
			name:      "poll rejected",
			setup:     func(f *fakeVT) { f.pollStatus = http.StatusInternalServerError },
			wantErr:   ErrPoll,
			wantPolls: 1,
		},
		{
			name:      "never completes",
			setup:     func(f *fakeVT) { f.statuses = []string{"queued"} },
			wantErr:   ErrMaxAttempts,
			wantPolls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt := newFakeVT(t)
			vt.set(tt.setup)
			s := New(scanConfig(vt.srv.URL), nil, zap.NewNop())

			_, err := s.Check(context.Background(), "http://example.com")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantPolls, vt.pollCount())
		})
	}
}

func TestCheckUnreachableService(t *testing.T) {
	vt := newFakeVT(t)
	vt.srv.Close()
	s := New(scanConfig(vt.srv.URL), nil, zap.NewNop())

	_, err := s.Check(context.Background(), "http://example.com")
	assert.ErrorIs(t, err, ErrSubmit)
}

func TestRunBlocksFailedLink(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) { f.malicious = 5 })
	repo := newRepo(t)
	job := seed(t, repo, "evil000", "http://evil.example")
	cache := &recordingCache{}
	s := New(scanConfig(vt.srv.URL), repo, zap.NewNop(), WithRedirectCache(cache))

	res, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, Result{Verdict: VerdictFailed, Blocked: true}, res)
	assert.True(t, isBlocked(t, repo, job.LinkID))
	assert.Equal(t, []string{"evil000"}, cache.invalidated)
}

func TestRunBlocksRenamedLinkByID(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) { f.malicious = 1 })
	repo := newRepo(t)
	job := seed(t, repo, "before0", "http://evil.example")

	link, err := repo.GetByID(context.Background(), job.LinkID)
	require.NoError(t, err)
	link.ShortID = "after00"
	require.NoError(t, repo.Update(context.Background(), link))

	cache := &recordingCache{}
	s := New(scanConfig(vt.srv.URL), repo, zap.NewNop(), WithRedirectCache(cache))
	res, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.True(t, isBlocked(t, repo, job.LinkID))
	assert.ElementsMatch(t, []string{"before0", "after00"}, cache.invalidated)
}

func TestRunDiscardsVerdictForChangedDestination(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) { f.malicious = 1 })
	repo := newRepo(t)
	job := seed(t, repo, "moved00", "http://evil.example")

	link, err := repo.GetByID(context.Background(), job.LinkID)
	require.NoError(t, err)
	link.Destination = "http://fine.example"
	require.NoError(t, repo.Update(context.Background(), link))

	s := New(scanConfig(vt.srv.URL), repo, zap.NewNop())
	res, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, Result{Verdict: VerdictFailed, Blocked: false}, res)
	assert.False(t, isBlocked(t, repo, job.LinkID))
}

func TestRunLeavesLinkOpenOnScanError(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) {
		f.malicious = 1
		f.statuses = []string{"queued"}
	})
	repo := newRepo(t)
	job := seed(t, repo, "slow000", "http://evil.example")
	s := New(scanConfig(vt.srv.URL), repo, zap.NewNop())

	_, err := s.Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.False(t, isBlocked(t, repo, job.LinkID))
}

func TestDisabledScanner(t *testing.T) {
	repo := newRepo(t)
	job := seed(t, repo, "nokey00", "http://evil.example")

	cfg := scanConfig("http://127.0.0.1:0")
	cfg.APIKey = ""
	s := New(cfg, repo, zap.NewNop())
	assert.False(t, s.Enabled())

	s.Start(context.Background())
	s.Enqueue(job)
	s.Stop()

	_, err := s.Check(context.Background(), job.Destination)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, isBlocked(t, repo, job.LinkID))
}

func TestWorkersBlockInBackground(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) {
		f.malicious = 2
		f.statuses = []string{"queued", "completed"}
	})
	repo := newRepo(t)
	bad := seed(t, repo, "bad0000", "http://evil.example")
	s := New(scanConfig(vt.srv.URL), repo, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()
	s.Enqueue(bad)

	require.Eventually(t, func() bool {
		return isBlocked(t, repo, bad.LinkID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	cfg := scanConfig("http://127.0.0.1:0")
	cfg.QueueSize = 1
	s := New(cfg, nil, zap.NewNop())

	// not started, so nothing drains the queue
	for i := 0; i < 3; i++ {
		s.Enqueue(ports.ScanJob{LinkID: int64(i), ShortID: "q", Destination: "http://a.com"})
	}
	assert.Len(t, s.jobs, 1)
}

func TestStopCancelsInFlightScans(t *testing.T) {
	vt := newFakeVT(t)
	vt.set(func(f *fakeVT) { f.statuses = []string{"queued"} })
	repo := newRepo(t)
	job := seed(t, repo, "hang000", "http://evil.example")

	cfg := scanConfig(vt.srv.URL)
	cfg.Interval = time.Hour
	s := New(cfg, repo, zap.NewNop())
	s.Start(context.Background())
	s.Enqueue(job)

	require.Eventually(t, func() bool { return len(vt.submissions()) == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	s.Enqueue(job)
	assert.Empty(t, s.jobs)
	assert.False(t, isBlocked(t, repo, job.LinkID))
}
