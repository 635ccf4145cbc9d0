package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/utterlabs/utter/fault"
	"github.com/utterlabs/utter/speech"
	"github.com/utterlabs/utter/spec"
	"github.com/utterlabs/utter/storage"
	"github.com/utterlabs/utter/subscription"
	"github.com/utterlabs/utter/usage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntitlementResolver resolves a user's subscription and plan before admission
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (*subscription.Entitlement, error)
}

// Ledger is the quota side of the pipeline. CheckQuota is a best-effort
// pre-check; Commit is the atomic post-synthesis accounting write.
type Ledger interface {
	CheckQuota(ctx context.Context, userID, subscriptionID string, requestedChars, planLimit int64) (*usage.Quota, error)
	Commit(ctx context.Context, record *usage.Record, billedChars, durationSeconds int64) (*usage.Record, error)
}

// JobStore persists the job lifecycle record
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Finalize(ctx context.Context, job *Job) error
	Fail(ctx context.Context, jobID, message string) error
	CountProcessing(ctx context.Context, userID, excludeJobID string) (int64, error)
}

// ArtifactStore persists synthesized audio and mints retrieval links
type ArtifactStore interface {
	Store(ctx context.Context, audio []byte, userID, filename, contentType string) (string, error)
	SignedURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// EventPublisher announces terminal job states. Publishing is best effort
// and never fails the pipeline.
type EventPublisher interface {
	PublishJobEvent(event *spec.JobEvent) error
}

// OrchestratorOptions contains the dependencies for the Orchestrator
type OrchestratorOptions struct {
	Gate        EntitlementResolver
	Ledger      Ledger
	Jobs        JobStore
	Voices      speech.VoiceCatalog
	Synthesizer speech.Synthesizer
	Store       ArtifactStore
	Publisher   EventPublisher
	Logger      *zap.Logger

	SignedURLTTL   time.Duration // defaults to storage.DefaultSignedURLTTL
	WordsPerMinute int           // defaults to speech.DefaultWordsPerMinute
}

// Orchestrator sequences one synthesis request end to end: entitlement,
// quota pre-check, admission, provider call, artifact persistence, and the
// usage commit. Every exit path after the job record exists leaves it in a
// terminal state.
type Orchestrator struct {
	OrchestratorOptions
}

// NewOrchestrator will create an Orchestrator for synthesis requests
func NewOrchestrator(option OrchestratorOptions) (*Orchestrator, error) {
	if option.Gate == nil {
		return nil, fmt.Errorf("nil Gate is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Jobs == nil {
		return nil, fmt.Errorf("nil Jobs is invalid")
	}
	if option.Voices == nil {
		return nil, fmt.Errorf("nil Voices is invalid")
	}
	if option.Synthesizer == nil {
		return nil, fmt.Errorf("nil Synthesizer is invalid")
	}
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Publisher == nil {
		return nil, fmt.Errorf("nil Publisher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.SignedURLTTL <= 0 {
		option.SignedURLTTL = storage.DefaultSignedURLTTL
	}
	if option.WordsPerMinute <= 0 {
		option.WordsPerMinute = speech.DefaultWordsPerMinute
	}
	return &Orchestrator{
		OrchestratorOptions: option,
	}, nil
}

// Request is one synthesis request as submitted by an authenticated user
type Request struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	OutputFormat string `json:"outputFormat"`
	Engine       string `json:"engine"`
}

// Receipt summarizes a completed job together with the updated usage snapshot
type Receipt struct {
	JobID           string       `json:"jobId"`
	Filename        string       `json:"filename"`
	RetrievalURL    string       `json:"retrievalUrl"`
	DurationSeconds int64        `json:"durationSeconds"`
	FileSizeBytes   int64        `json:"fileSizeBytes"`
	Voice           speech.Voice `json:"voice"`
	CreatedAt       time.Time    `json:"createdAt"`
	Usage           usage.Quota  `json:"usage"`
}

// Process runs the full pipeline for one request. Validation and entitlement
// failures return before any state change; once the job record exists, every
// failure persists a failed job and never touches the ledger.
func (o *Orchestrator) Process(ctx context.Context, userID string, req Request) (*Receipt, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fault.New(fault.KindInvalidInput, "text is required")
	}
	requestedChars := int64(utf8.RuneCountInString(text))
	if requestedChars > MaxTextLength {
		return nil, fault.New(fault.KindInvalidInput, fmt.Sprintf("text exceeds the %d character ceiling", MaxTextLength))
	}
	if strings.TrimSpace(req.Voice) == "" {
		return nil, fault.New(fault.KindInvalidInput, "voice is required")
	}
	format, err := speech.ParseFormat(req.OutputFormat)
	if err != nil {
		return nil, err
	}
	engine, err := speech.ParseEngine(req.Engine)
	if err != nil {
		return nil, err
	}

	ent, err := o.Gate.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan := ent.Plan

	if len(plan.Features.AudioFormats) > 0 && !plan.Features.AllowsFormat(string(format)) {
		return nil, fault.New(fault.KindUnsupportedFormat, fmt.Sprintf("plan %s does not include %s output", plan.Name, format))
	}

	quota, err := o.Ledger.CheckQuota(ctx, userID, ent.Subscription.ID, requestedChars, plan.Features.CharactersPerMonth)
	if err != nil {
		return nil, err
	}
	if !quota.Allowed {
		return nil, fault.New(fault.KindQuotaExceeded, "monthly character quota exceeded").
			WithQuota(fault.QuotaTelemetry{
				CharactersUsed:  quota.CharactersUsed,
				CharactersLimit: quota.CharactersLimit,
				Remaining:       quota.Remaining,
				UsagePercentage: quota.UsagePercentage,
			})
	}

	voice, err := o.resolveVoice(ctx, req.Voice, engine, plan.Features.VoicesAvailable)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:            uuid.New().String(),
		UserID:        userID,
		Filename:      buildFilename(now, string(format)),
		OriginalText:  text,
		TextLength:    requestedChars,
		VoiceSelector: voice.ID,
		AudioFormat:   string(format),
		Engine:        string(engine),
		Status:        StatusProcessing,
	}
	if err := o.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	logger := o.Logger.With(
		zap.String("UserID", userID),
		zap.String("JobID", job.ID),
	)

	active, err := o.Jobs.CountProcessing(ctx, userID, job.ID)
	if err != nil {
		o.failJob(ctx, job, "cannot verify concurrent jobs")
		return nil, err
	}
	allowed := plan.Features.EffectiveConcurrencyLimit()
	if active >= allowed {
		admissionErr := fault.New(fault.KindConcurrencyLimitExceeded, "too many synthesis jobs in flight").
			WithConcurrency(fault.ConcurrencyTelemetry{
				Active:  active,
				Allowed: allowed,
			})
		o.failJob(ctx, job, admissionErr.Message)
		return nil, admissionErr
	}

	result, err := o.Synthesizer.Synthesize(ctx, speech.Request{
		Text:    text,
		VoiceID: voice.ID,
		Format:  format,
		Engine:  engine,
	})
	if err != nil {
		// failed synthesis must not consume quota
		o.failJob(ctx, job, err.Error())
		return nil, err
	}

	durationSeconds := speech.EstimateDuration(text, o.WordsPerMinute)

	key, err := o.Store.Store(ctx, result.Audio, userID, job.Filename, result.ContentType)
	if err != nil {
		o.failJob(ctx, job, err.Error())
		return nil, err
	}

	retrievalURL, err := o.Store.SignedURL(ctx, key, job.Filename, o.SignedURLTTL)
	if err != nil {
		o.failJob(ctx, job, err.Error())
		return nil, err
	}

	job.StorageKey = key
	job.DurationSeconds = durationSeconds
	job.FileSizeBytes = int64(len(result.Audio))
	if err := o.Jobs.Finalize(ctx, job); err != nil {
		o.failJob(ctx, job, "cannot finalize job record")
		return nil, err
	}
	job.Status = StatusCompleted

	// the provider's billed count is authoritative here, not the request length
	updated, err := o.Ledger.Commit(ctx, quota.Record, result.BilledCharacters, durationSeconds)
	if err != nil {
		logger.Error("Job completed but usage commit failed",
			zap.Int64("BilledCharacters", result.BilledCharacters),
			zap.Error(err),
		)
		return nil, err
	}

	o.publish(job, result.BilledCharacters)

	snapshot := usage.Evaluate(updated.CharactersUsed, 0, plan.Features.CharactersPerMonth)
	return &Receipt{
		JobID:           job.ID,
		Filename:        job.Filename,
		RetrievalURL:    retrievalURL,
		DurationSeconds: durationSeconds,
		FileSizeBytes:   job.FileSizeBytes,
		Voice:           *voice,
		CreatedAt:       job.CreatedAt,
		Usage:           snapshot,
	}, nil
}

// resolveVoice finds the requested voice among the catalog entries the plan
// exposes. maxVoices > 0 restricts resolution to the first N voices.
func (o *Orchestrator) resolveVoice(ctx context.Context, selector string, engine speech.Engine, maxVoices int) (*speech.Voice, error) {
	voices, err := o.Voices.List(ctx)
	if err != nil {
		return nil, err
	}
	if maxVoices > 0 && len(voices) > maxVoices {
		voices = voices[:maxVoices]
	}
	for i := range voices {
		if strings.EqualFold(voices[i].ID, selector) {
			if !voices[i].SupportsEngine(engine) {
				return nil, fault.New(fault.KindUnsupportedEngine, fmt.Sprintf("voice %s does not support the %s engine", voices[i].ID, engine))
			}
			return &voices[i], nil
		}
	}
	return nil, fault.New(fault.KindInvalidVoice, fmt.Sprintf("voice %q is not available", selector))
}

// failJob drives the record to its terminal failed state. The write must
// land even when the caller is about to propagate another error.
func (o *Orchestrator) failJob(ctx context.Context, job *Job, message string) {
	if err := o.Jobs.Fail(ctx, job.ID, message); err != nil {
		o.Logger.Error("Unable to mark job as failed",
			zap.String("JobID", job.ID),
			zap.Error(err),
		)
	}
	job.Status = StatusFailed
	job.ErrorMessage = message
	o.publish(job, 0)
}

func (o *Orchestrator) publish(job *Job, billedChars int64) {
	event := &spec.JobEvent{
		JobID:            job.ID,
		UserID:           job.UserID,
		Status:           string(job.Status),
		AudioFormat:      job.AudioFormat,
		BilledCharacters: billedChars,
		ErrorMessage:     job.ErrorMessage,
		OccurredAt:       time.Now(),
	}
	if err := o.Publisher.PublishJobEvent(event); err != nil {
		o.Logger.Error("Unable to publish job event",
			zap.String("JobID", job.ID),
			zap.Error(err),
		)
		// fail through: events are advisory, the database is the source of truth
	}
}
