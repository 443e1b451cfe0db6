package cascade

import (
	"context"
	"sort"
	"sync"

	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/pkg/dbctx"
)

// EventLog is the context-first view of a player's append-only event log.
type EventLog interface {
	Load(ctx context.Context, playerID, campaignID string) ([]domain.ProgressEvent, error)
	Append(ctx context.Context, playerID, campaignID string, expectedVersion int64, events []domain.ProgressEvent) error
	Players(ctx context.Context, campaignID string) ([]string, error)
}

// RunStore checkpoints pipeline runs.
type RunStore interface {
	Save(ctx context.Context, run *domain.CampaignRun) error
	Get(ctx context.Context, campaignID string) (*domain.CampaignRun, error)
}

// ReportStore keeps validation reports.
type ReportStore interface {
	Save(ctx context.Context, report *domain.ValidationReport) error
	Latest(ctx context.Context, campaignID string) (*domain.ValidationReport, error)
}

type repoEventLog struct{ repo ProgressEventRepo }

func NewEventLog(repo ProgressEventRepo) EventLog { return &repoEventLog{repo: repo} }

func (l *repoEventLog) Load(ctx context.Context, playerID, campaignID string) ([]domain.ProgressEvent, error) {
	recs, err := l.repo.ListByPlayer(dbctx.New(ctx), playerID, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProgressEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Event())
	}
	return out, nil
}

func (l *repoEventLog) Append(ctx context.Context, playerID, campaignID string, expectedVersion int64, events []domain.ProgressEvent) error {
	recs := make([]*domain.ProgressEventRecord, 0, len(events))
	for _, e := range events {
		recs = append(recs, domain.ProgressEventRecordOf(e))
	}
	return l.repo.Append(dbctx.New(ctx), playerID, campaignID, expectedVersion, recs)
}

func (l *repoEventLog) Players(ctx context.Context, campaignID string) ([]string, error) {
	return l.repo.ListPlayers(dbctx.New(ctx), campaignID)
}

type repoRunStore struct{ repo CampaignRunRepo }

func NewRunStore(repo CampaignRunRepo) RunStore { return &repoRunStore{repo: repo} }

func (s *repoRunStore) Save(ctx context.Context, run *domain.CampaignRun) error {
	return s.repo.Upsert(dbctx.New(ctx), run)
}

func (s *repoRunStore) Get(ctx context.Context, campaignID string) (*domain.CampaignRun, error) {
	return s.repo.GetByCampaign(dbctx.New(ctx), campaignID)
}

type repoReportStore struct{ repo ValidationReportRepo }

func NewReportStore(repo ValidationReportRepo) ReportStore { return &repoReportStore{repo: repo} }

func (s *repoReportStore) Save(ctx context.Context, report *domain.ValidationReport) error {
	return s.repo.Create(dbctx.New(ctx), report)
}

func (s *repoReportStore) Latest(ctx context.Context, campaignID string) (*domain.ValidationReport, error) {
	return s.repo.Latest(dbctx.New(ctx), campaignID)
}

// MemoryEventLog is an in-process EventLog with the same version check as
// the Postgres repo.
type MemoryEventLog struct {
	mu     sync.Mutex
	events map[string][]domain.ProgressEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: map[string][]domain.ProgressEvent{}}
}

func (l *MemoryEventLog) Load(ctx context.Context, playerID, campaignID string) ([]domain.ProgressEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ProgressEvent(nil), l.events[playerID+"|"+campaignID]...), nil
}

func (l *MemoryEventLog) Append(ctx context.Context, playerID, campaignID string, expectedVersion int64, events []domain.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := playerID + "|" + campaignID
	cur := l.events[key]
	var version int64
	if n := len(cur); n > 0 {
		version = cur[n-1].Seq
	}
	if version != expectedVersion {
		return domain.GraphConflictError("progress_event.append",
			"player %s expected version %d, found %d", playerID, expectedVersion, version)
	}
	l.events[key] = append(cur, events...)
	return nil
}

func (l *MemoryEventLog) Players(ctx context.Context, campaignID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, evs := range l.events {
		if len(evs) > 0 && evs[0].CampaignID == campaignID {
			out = append(out, evs[0].PlayerID)
		}
	}
	sort.Strings(out)
	return out, nil
}

type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]domain.CampaignRun
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: map[string]domain.CampaignRun{}}
}

func (s *MemoryRunStore) Save(_ context.Context, run *domain.CampaignRun) error {
	if run == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.CampaignID] = *run
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, campaignID string) (*domain.CampaignRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[campaignID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

type MemoryReportStore struct {
	mu      sync.Mutex
	reports map[string][]*domain.ValidationReport
}

func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: map[string][]*domain.ValidationReport{}}
}

func (s *MemoryReportStore) Save(_ context.Context, report *domain.ValidationReport) error {
	if report == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.CampaignID] = append(s.reports[report.CampaignID], report)
	return nil
}

func (s *MemoryReportStore) Latest(_ context.Context, campaignID string) (*domain.ValidationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.reports[campaignID]
	if len(rs) == 0 {
		return nil, nil
	}
	return rs[len(rs)-1], nil
}
