package synthesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/utterlabs/utter/auth"
	"github.com/utterlabs/utter/fault"
	resp "github.com/utterlabs/utter/response"
	"github.com/utterlabs/utter/storage"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Orchestrator   *Orchestrator
	JobManager     *Manager
	StorageManager *storage.Manager
	Logger         *zap.Logger
}

// Service is the synthesis API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the synthesis API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Orchestrator == nil {
		return nil, fmt.Errorf("nil Orchestrator is invalid")
	}
	if option.JobManager == nil {
		return nil, fmt.Errorf("nil JobManager is invalid")
	}
	if option.StorageManager == nil {
		return nil, fmt.Errorf("nil StorageManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) synthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	receipt, err := s.Orchestrator.Process(ctx, claims.ID, req)
	if err != nil {
		var fe *fault.Error
		if !errors.As(err, &fe) {
			s.Logger.Error("Synthesis pipeline returned unexpected error",
				zap.String("UserID", claims.ID),
				zap.Error(err),
			)
		}
		resp.WriteError(w, r, resp.FromFault(err))
		return
	}

	resp.WriteResponse(w, r, receipt)
}

func (s *Service) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	before := r.URL.Query().Get("before")

	var parsedTime time.Time
	if before != "" {
		var err error
		parsedTime, err = time.Parse(time.RFC3339Nano, before)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid before param"))
			return
		}
	}

	results, err := s.JobManager.List(ctx, ListOption{
		UserID: claims.ID,
		Before: parsedTime,
		Limit:  10,
	})
	if err != nil {
		s.Logger.Error("Unable to list jobs by user id",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of jobs"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// ownedJob loads a job scoped to the caller, writing NotFound envelopes on miss
func (s *Service) ownedJob(w http.ResponseWriter, r *http.Request) (*Job, bool) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	jobID := chi.URLParam(r, "id")

	job, err := s.JobManager.GetByID(ctx, jobID)
	if err != nil {
		s.Logger.Error("Unable to query job",
			zap.String("JobID", jobID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the job"))
		return nil, false
	}
	if job == nil || job.UserID != claims.ID {
		resp.WriteError(w, r, resp.ErrNotFound().
			WithKind(fault.KindNotFound).
			AddMessages("Cannot find job with specific ID"))
		return nil, false
	}
	return job, true
}

func (s *Service) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	resp.WriteResponse(w, r, job)
}

func (s *Service) downloadJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	if job.Status != StatusCompleted {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Job has no downloadable artifact"))
		return
	}

	url, err := s.StorageManager.SignedURL(ctx, job.StorageKey, job.Filename, 0)
	if err != nil {
		s.Logger.Error("Unable to sign retrieval URL",
			zap.String("JobID", job.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromFault(err))
		return
	}

	if err := s.JobManager.RecordDownload(ctx, job.ID); err != nil {
		s.Logger.Error("Unable to record download",
			zap.String("JobID", job.ID),
			zap.Error(err),
		)
		// fail through: the signed URL is already minted, counters are advisory
	}

	job.RetrievalURL = url
	resp.WriteResponse(w, r, job)
}

func (s *Service) deleteJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	if len(job.StorageKey) > 0 {
		if err := s.StorageManager.Delete(ctx, job.StorageKey); err != nil {
			// best-effort cleanup: the record delete below must still succeed
			s.Logger.Error("Unable to delete artifact",
				zap.String("JobID", job.ID),
				zap.String("StorageKey", job.StorageKey),
				zap.Error(err),
			)
		}
	}

	if err := s.JobManager.DeleteRecord(ctx, job.ID, claims.ID); err != nil {
		s.Logger.Error("Unable to delete job",
			zap.String("JobID", job.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to delete job"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under synthesis API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listJobs)
	r.Post("/", s.synthesize)
	r.Get("/{id}", s.getJob)
	r.Get("/{id}/download", s.downloadJob)
	r.Delete("/{id}", s.deleteJob)

	return r
}
