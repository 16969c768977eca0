// Package analysis runs detectors and root-cause engines against a freshly
// loaded ledger snapshot per call.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/jobs"
	"github.com/dvloznov/expense-insight/internal/logger"
	"github.com/dvloznov/expense-insight/internal/profile"
	"github.com/dvloznov/expense-insight/internal/rca"
)

// ErrMissingPeriods is returned for a pair job without both periods.
var ErrMissingPeriods = errors.New("from and to periods are required")

// SnapshotLoader produces one ledger snapshot per call.
type SnapshotLoader interface {
	Load(ctx context.Context) (domain.Snapshot, error)
}

// Archiver stores a finished report and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, id string, createdAt time.Time, report any) (string, error)
}

// ErrorResult is the payload returned in place of a report when an analysis
// cannot run.
type ErrorResult struct {
	Error string `json:"error"`
}

// Service wires the ledger loader to the analysis engines.
type Service struct {
	loader       SnapshotLoader
	params       anomaly.Params
	orchestrator rca.Orchestrator
	archiver     Archiver
}

// Option configures a Service.
type Option func(*Service)

// WithParams sets the default detector parameters.
func WithParams(p anomaly.Params) Option {
	return func(s *Service) { s.params = p.WithDefaults() }
}

// WithEngine sets the root-cause engine settings.
func WithEngine(e rca.Engine) Option {
	return func(s *Service) { s.orchestrator.Engine = e }
}

// WithArchiver enables archiving of job results.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// NewService creates a service reading snapshots from loader.
func NewService(loader SnapshotLoader, opts ...Option) *Service {
	s := &Service{
		loader:       loader,
		params:       anomaly.DefaultParams(),
		orchestrator: rca.NewOrchestrator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Params returns the service defaults with o applied.
func (s *Service) Params(o anomaly.Overrides) anomaly.Params {
	return o.Apply(s.params)
}

// Detect runs the named detection method. Unknown methods, invalid
// parameters and engine panics come back as an ErrorResult; only ledger
// failures are returned as errors.
func (s *Service) Detect(ctx context.Context, method string, o anomaly.Overrides) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ErrorResult{Error: recovered(ctx, "detect", r)}, nil
		}
	}()

	detector, lookupErr := anomaly.Lookup(method)
	if lookupErr != nil {
		return ErrorResult{Error: fmt.Sprintf("Unknown method %s", method)}, nil
	}
	p := s.Params(o)
	if err := p.Validate(); err != nil {
		return ErrorResult{Error: err.Error()}, nil
	}

	snap, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("Detect: %w", err)
	}
	return detector.Detect(ctx, snap, p), nil
}

// RCA explains the change between two periods.
func (s *Service) RCA(ctx context.Context, from, to string) (out domain.AttributionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = domain.AttributionResult{Error: recovered(ctx, "rca", r)}, nil
		}
	}()

	snap, err := s.load(ctx)
	if err != nil {
		return domain.AttributionResult{}, fmt.Errorf("RCA: %w", err)
	}
	return s.orchestrator.Engine.Analyze(ctx, snap, from, to), nil
}

// DynamicRCA explains every consecutive pair of observed periods.
func (s *Service) DynamicRCA(ctx context.Context) (out rca.TimelineResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = rca.TimelineResult{Error: recovered(ctx, "dynamic rca", r)}, nil
		}
	}()

	snap, err := s.load(ctx)
	if err != nil {
		return rca.TimelineResult{}, fmt.Errorf("DynamicRCA: %w", err)
	}
	return s.orchestrator.Run(ctx, snap), nil
}

// Profile summarizes the ledger.
func (s *Service) Profile(ctx context.Context) (out *profile.Profile, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = &profile.Profile{Error: recovered(ctx, "profile", r)}, nil
		}
	}()

	snap, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("Profile: %w", err)
	}
	return profile.Build(ctx, snap), nil
}

// Breakdown groups the ledger by one dimension.
func (s *Service) Breakdown(ctx context.Context, dimension string, topN int) (out profile.BreakdownResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = profile.BreakdownResult{Error: recovered(ctx, "breakdown", r)}, nil
		}
	}()

	snap, err := s.load(ctx)
	if err != nil {
		return profile.BreakdownResult{}, fmt.Errorf("Breakdown: %w", err)
	}
	return profile.Breakdown(ctx, snap, dimension, topN), nil
}

// HandleJob runs an async analysis job, storing the marshaled report on the
// job and archiving it when an archiver is configured.
func (s *Service) HandleJob(ctx context.Context, job *jobs.AnalysisJob) error {
	log := logger.FromContext(ctx)

	var (
		report any
		err    error
	)
	switch job.Type {
	case jobs.JobTypeComprehensive:
		report, err = s.Detect(ctx, string(anomaly.MethodComprehensive), job.Params.Overrides)
	case jobs.JobTypeDynamicRCA:
		report, err = s.DynamicRCA(ctx)
	case jobs.JobTypeRCAPair:
		if job.Params.FromPeriod == "" || job.Params.ToPeriod == "" {
			return fmt.Errorf("HandleJob: %w", ErrMissingPeriods)
		}
		report, err = s.RCA(ctx, job.Params.FromPeriod, job.Params.ToPeriod)
	default:
		return fmt.Errorf("HandleJob: unsupported job type %q", job.Type)
	}
	if err != nil {
		return fmt.Errorf("HandleJob: %w", err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("HandleJob: marshaling report: %w", err)
	}
	job.Result = data

	if s.archiver != nil {
		uri, err := s.archiver.Archive(ctx, job.JobID, job.CreatedAt, report)
		if err != nil {
			return fmt.Errorf("HandleJob: %w", err)
		}
		job.ReportURI = uri
		log.Info().Str("report_uri", uri).Msg("Report archived")
	}
	return nil
}

func (s *Service) load(ctx context.Context) (domain.Snapshot, error) {
	snap, err := s.loader.Load(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("loading ledger: %w", err)
	}
	return snap, nil
}

func recovered(ctx context.Context, op string, r any) string {
	log := logger.FromContext(ctx)
	log.Error().
		Str("operation", op).
		Interface("panic", r).
		Msg("Analysis panicked")
	return fmt.Sprintf("%s failed: %v", op, r)
}
