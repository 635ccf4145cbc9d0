package synthesis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/utterlabs/utter/fault"
	"github.com/utterlabs/utter/speech"
	"github.com/utterlabs/utter/spec"
	"github.com/utterlabs/utter/subscription"
	"github.com/utterlabs/utter/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGate struct {
	entitlement *subscription.Entitlement
	err         error

	mu    sync.Mutex
	calls int
}

func (f *fakeGate) Resolve(ctx context.Context, userID string) (*subscription.Entitlement, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.entitlement, nil
}

// fakeLedger keeps a single running counter the way the real ledger keeps a
// per-period row, with Commit applying an atomic increment
type fakeLedger struct {
	mu    sync.Mutex
	used  int64
	limit int64

	checkErr  error
	commitErr error

	commits []int64
}

func (f *fakeLedger) CheckQuota(ctx context.Context, userID, subscriptionID string, requestedChars, planLimit int64) (*usage.Quota, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q := usage.Evaluate(f.used, requestedChars, planLimit)
	q.Record = &usage.Record{
		ID:     "record-1",
		UserID: userID,
	}
	return &q, nil
}

func (f *fakeLedger) Commit(ctx context.Context, record *usage.Record, billedChars, durationSeconds int64) (*usage.Record, error) {
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used += billedChars
	f.commits = append(f.commits, billedChars)
	updated := *record
	updated.CharactersUsed = f.used
	return &updated, nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*Job

	createErr error
	countErr  error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*Job)}
}

func (f *fakeJobs) Create(ctx context.Context, job *Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobs) Finalize(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.jobs[job.ID]
	if !ok || stored.Status != StatusProcessing {
		return fmt.Errorf("job %s is not processing", job.ID)
	}
	stored.Status = StatusCompleted
	stored.StorageKey = job.StorageKey
	stored.DurationSeconds = job.DurationSeconds
	stored.FileSizeBytes = job.FileSizeBytes
	return nil
}

func (f *fakeJobs) Fail(ctx context.Context, jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.jobs[jobID]
	if !ok || stored.Status != StatusProcessing {
		return fmt.Errorf("job %s is not processing", jobID)
	}
	stored.Status = StatusFailed
	stored.ErrorMessage = message
	return nil
}

func (f *fakeJobs) CountProcessing(ctx context.Context, userID, excludeJobID string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, job := range f.jobs {
		if job.UserID == userID && job.Status == StatusProcessing && job.ID != excludeJobID {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) get(jobID string) *Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID]
}

func (f *fakeJobs) single() *Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		return job
	}
	return nil
}

type fakeCatalog struct {
	voices []speech.Voice
	err    error
}

func (f *fakeCatalog) List(ctx context.Context) ([]speech.Voice, error) {
	return f.voices, f.err
}

type fakeSynthesizer struct {
	billed int64
	err    error

	mu       sync.Mutex
	requests []speech.Request
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req speech.Request) (*speech.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	billed := f.billed
	if billed == 0 {
		billed = int64(len(req.Text))
	}
	return &speech.Result{
		Audio:            []byte("riff-data"),
		ContentType:      req.Format.ContentType(),
		BilledCharacters: billed,
	}, nil
}

type fakeStore struct {
	storeErr error
	signErr  error
}

func (f *fakeStore) Store(ctx context.Context, audio []byte, userID, filename, contentType string) (string, error) {
	if f.storeErr != nil {
		return "", f.storeErr
	}
	return fmt.Sprintf("audio/%s/key-%s", userID, filename), nil
}

func (f *fakeStore) SignedURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example.com/" + key, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*spec.JobEvent
}

func (f *fakePublisher) PublishJobEvent(event *spec.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) byStatus(status Status) []*spec.JobEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]*spec.JobEvent, 0)
	for _, e := range f.events {
		if e.Status == string(status) {
			matched = append(matched, e)
		}
	}
	return matched
}

type harness struct {
	gate        *fakeGate
	ledger      *fakeLedger
	jobs        *fakeJobs
	catalog     *fakeCatalog
	synthesizer *fakeSynthesizer
	store       *fakeStore
	publisher   *fakePublisher

	orchestrator *Orchestrator
}

func activeEntitlement(features subscription.Features) *subscription.Entitlement {
	return &subscription.Entitlement{
		Subscription: &subscription.Subscription{
			ID:     "sub-1",
			UserID: "user-1",
			PlanID: "starter",
			Status: subscription.StateActive,
		},
		Plan: subscription.Plan{
			ID:       "starter",
			Name:     "Starter",
			Features: features,
		},
	}
}

func defaultVoices() []speech.Voice {
	return []speech.Voice{
		{ID: "Amy", SupportedEngines: []string{"standard", "neural"}},
		{ID: "Brian", SupportedEngines: []string{"standard"}},
		{ID: "Joanna", SupportedEngines: []string{"standard", "neural"}},
	}
}

func newHarness(t *testing.T, features subscription.Features) *harness {
	t.Helper()
	h := &harness{
		gate:        &fakeGate{entitlement: activeEntitlement(features)},
		ledger:      &fakeLedger{limit: features.CharactersPerMonth},
		jobs:        newFakeJobs(),
		catalog:     &fakeCatalog{voices: defaultVoices()},
		synthesizer: &fakeSynthesizer{},
		store:       &fakeStore{},
		publisher:   &fakePublisher{},
	}
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Gate:        h.gate,
		Ledger:      h.ledger,
		Jobs:        h.jobs,
		Voices:      h.catalog,
		Synthesizer: h.synthesizer,
		Store:       h.store,
		Publisher:   h.publisher,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	h.orchestrator = orchestrator
	return h
}

func starterFeatures() subscription.Features {
	return subscription.Features{
		CharactersPerMonth: 5000,
		AudioFormats:       []string{"mp3", "wav"},
	}
}

func TestProcessValidation(t *testing.T) {
	h := newHarness(t, starterFeatures())

	cases := []struct {
		name string
		req  Request
		kind fault.Kind
	}{
		{"EmptyText", Request{Voice: "Joanna"}, fault.KindInvalidInput},
		{"WhitespaceText", Request{Text: "   \n ", Voice: "Joanna"}, fault.KindInvalidInput},
		{"MissingVoice", Request{Text: "hello"}, fault.KindInvalidInput},
		{"UnknownFormat", Request{Text: "hello", Voice: "Joanna", OutputFormat: "flac"}, fault.KindUnsupportedFormat},
		{"UnknownEngine", Request{Text: "hello", Voice: "Joanna", Engine: "generative"}, fault.KindUnsupportedEngine},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := h.orchestrator.Process(context.Background(), "user-1", c.req)
			require.Error(t, err)
			assert.Equal(t, c.kind, fault.KindOf(err))
		})
	}

	// none of the rejections above may leave any record behind
	assert.Empty(t, h.jobs.jobs)
	assert.Empty(t, h.ledger.commits)
}

func TestProcessNoSubscription(t *testing.T) {
	h := newHarness(t, starterFeatures())
	h.gate.entitlement = nil
	h.gate.err = fault.New(fault.KindNoSubscription, "no subscription found for user")

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{Text: "hello", Voice: "Joanna"})
	require.Error(t, err)
	assert.Equal(t, fault.KindNoSubscription, fault.KindOf(err))
	assert.Empty(t, h.jobs.jobs)
	assert.Empty(t, h.synthesizer.requests)
}

func TestProcessPlanFormatRestriction(t *testing.T) {
	h := newHarness(t, subscription.Features{
		CharactersPerMonth: 5000,
		AudioFormats:       []string{"mp3"},
	})

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:         "hello",
		Voice:        "Joanna",
		OutputFormat: "wav",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindUnsupportedFormat, fault.KindOf(err))
	assert.Empty(t, h.jobs.jobs)
}

func TestProcessQuotaDenial(t *testing.T) {
	h := newHarness(t, starterFeatures())
	h.ledger.used = 4990

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "twenty chars of text",
		Voice: "Joanna",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindQuotaExceeded, fault.KindOf(err))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	require.NotNil(t, fe.Quota)
	assert.Equal(t, int64(4990), fe.Quota.CharactersUsed)
	assert.Equal(t, int64(10), fe.Quota.Remaining)
	assert.InDelta(t, 99.8, fe.Quota.UsagePercentage, 0.001)

	// denial happens before any job record or provider call
	assert.Empty(t, h.jobs.jobs)
	assert.Empty(t, h.synthesizer.requests)
	assert.Empty(t, h.ledger.commits)
}

func TestProcessVoiceResolution(t *testing.T) {
	t.Run("UnknownVoice", func(t *testing.T) {
		h := newHarness(t, starterFeatures())
		_, err := h.orchestrator.Process(context.Background(), "user-1", Request{Text: "hello", Voice: "Zelda"})
		require.Error(t, err)
		assert.Equal(t, fault.KindInvalidVoice, fault.KindOf(err))
	})

	t.Run("EngineMismatch", func(t *testing.T) {
		h := newHarness(t, starterFeatures())
		_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
			Text:   "hello",
			Voice:  "Brian",
			Engine: "neural",
		})
		require.Error(t, err)
		assert.Equal(t, fault.KindUnsupportedEngine, fault.KindOf(err))
	})

	t.Run("PlanRestrictsCatalogDepth", func(t *testing.T) {
		features := starterFeatures()
		features.VoicesAvailable = 2 // Amy, Brian only
		h := newHarness(t, features)
		_, err := h.orchestrator.Process(context.Background(), "user-1", Request{Text: "hello", Voice: "Joanna"})
		require.Error(t, err)
		assert.Equal(t, fault.KindInvalidVoice, fault.KindOf(err))
	})

	t.Run("SelectorIsCaseInsensitive", func(t *testing.T) {
		h := newHarness(t, starterFeatures())
		receipt, err := h.orchestrator.Process(context.Background(), "user-1", Request{Text: "hello", Voice: "joanna"})
		require.NoError(t, err)
		assert.Equal(t, "Joanna", receipt.Voice.ID)
	})
}

func TestProcessHappyPath(t *testing.T) {
	h := newHarness(t, starterFeatures())

	receipt, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "The quick brown fox jumps over the lazy dog",
		Voice: "Joanna",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.JobID)
	assert.Contains(t, receipt.Filename, ".mp3")
	assert.Contains(t, receipt.RetrievalURL, "https://signed.example.com/")
	assert.Equal(t, int64(len("riff-data")), receipt.FileSizeBytes)
	assert.Equal(t, int64(4), receipt.DurationSeconds) // 9 words at 150 wpm

	job := h.jobs.get(receipt.JobID)
	require.NotNil(t, job)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.NotEmpty(t, job.StorageKey)

	require.Len(t, h.ledger.commits, 1)
	assert.Equal(t, int64(43), h.ledger.commits[0])

	assert.Equal(t, int64(43), receipt.Usage.CharactersUsed)
	assert.Equal(t, int64(5000-43), receipt.Usage.Remaining)

	completed := h.publisher.byStatus(StatusCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, receipt.JobID, completed[0].JobID)
	assert.Equal(t, int64(43), completed[0].BilledCharacters)
}

func TestProcessCommitUsesProviderBilledCount(t *testing.T) {
	h := newHarness(t, starterFeatures())
	// the provider bills fewer characters than the submitted length
	h.synthesizer.billed = 11

	receipt, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "seventeen chars!!",
		Voice: "Joanna",
	})
	require.NoError(t, err)

	require.Len(t, h.ledger.commits, 1)
	assert.Equal(t, int64(11), h.ledger.commits[0])
	assert.Equal(t, int64(11), receipt.Usage.CharactersUsed)
}

func TestProcessProviderFailure(t *testing.T) {
	h := newHarness(t, starterFeatures())
	h.synthesizer.err = fault.New(fault.KindSynthesisProviderError, "provider timed out")

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "hello there",
		Voice: "Joanna",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindSynthesisProviderError, fault.KindOf(err))

	job := h.jobs.single()
	require.NotNil(t, job)
	assert.Equal(t, StatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)

	// a failed synthesis must not consume quota
	assert.Empty(t, h.ledger.commits)
	assert.Equal(t, int64(0), h.ledger.used)

	failed := h.publisher.byStatus(StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].JobID)
}

func TestProcessStorageFailure(t *testing.T) {
	h := newHarness(t, starterFeatures())
	h.store.storeErr = fault.New(fault.KindStorageError, "bucket unavailable")

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "hello there",
		Voice: "Joanna",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindStorageError, fault.KindOf(err))

	job := h.jobs.single()
	require.NotNil(t, job)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Empty(t, h.ledger.commits)
}

func TestProcessConcurrencyDenial(t *testing.T) {
	features := starterFeatures()
	features.ConcurrencyLimit = 1
	h := newHarness(t, features)

	// a job already in flight for this user
	require.NoError(t, h.jobs.Create(context.Background(), &Job{
		ID:     "inflight-1",
		UserID: "user-1",
		Status: StatusProcessing,
	}))

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "hello there",
		Voice: "Joanna",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindConcurrencyLimitExceeded, fault.KindOf(err))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	require.NotNil(t, fe.Concurrency)
	assert.Equal(t, int64(1), fe.Concurrency.Active)
	assert.Equal(t, int64(1), fe.Concurrency.Allowed)

	// the rejected request's own record must land failed, not linger processing
	var rejected *Job
	for _, job := range h.jobs.jobs {
		if job.ID != "inflight-1" {
			rejected = job
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, StatusFailed, rejected.Status)

	// provider untouched, quota untouched
	assert.Empty(t, h.synthesizer.requests)
	assert.Empty(t, h.ledger.commits)
}

func TestProcessAnotherUserDoesNotCountAgainstAdmission(t *testing.T) {
	features := starterFeatures()
	features.ConcurrencyLimit = 1
	h := newHarness(t, features)

	require.NoError(t, h.jobs.Create(context.Background(), &Job{
		ID:     "inflight-other",
		UserID: "user-2",
		Status: StatusProcessing,
	}))

	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  "hello there",
		Voice: "Joanna",
	})
	require.NoError(t, err)
}

func TestProcessConcurrentCommitsAreNotLost(t *testing.T) {
	features := starterFeatures()
	features.CharactersPerMonth = 1000000
	features.ConcurrencyLimit = 64
	h := newHarness(t, features)

	const workers = 16
	text := "exactly twenty chars" // 20 characters

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orchestrator.Process(context.Background(), "user-1", Request{
				Text:  text,
				Voice: "Joanna",
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, int64(workers*20), h.ledger.used)
	assert.Len(t, h.ledger.commits, workers)
}

func TestProcessTextCeiling(t *testing.T) {
	h := newHarness(t, starterFeatures())

	huge := make([]byte, MaxTextLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := h.orchestrator.Process(context.Background(), "user-1", Request{
		Text:  string(huge),
		Voice: "Joanna",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestBuildFilename(t *testing.T) {
	at := time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "speech-20260115-103000.mp3", buildFilename(at, "mp3"))
}
