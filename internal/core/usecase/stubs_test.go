package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

var testLog = zerolog.New(io.Discard)

type txStub struct {
	mu    sync.Mutex
	calls int
}

func (t *txStub) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return fn(ctx)
}

type inboxStub struct {
	mu   sync.Mutex
	rows map[string]domain.CommandRecord

	// racer, when set, is stored by the next Insert, which then reports a
	// lost race.
	racer       *domain.CommandRecord
	completeErr error
	failErr     error
	inserts     int
	purged      []domain.CommandStatus
}

func newInboxStub() *inboxStub {
	return &inboxStub{rows: map[string]domain.CommandRecord{}}
}

func (s *inboxStub) FindByIDForUpdate(_ context.Context, id string) (domain.CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return domain.CommandRecord{}, fmt.Errorf("%w: command %s", domain.ErrNotFound, id)
	}
	return rec, nil
}

func (s *inboxStub) FindByIdentityForUpdate(_ context.Context, key, commandType, scope string) (domain.CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.rows {
		if rec.IdempotencyKey == key && rec.CommandType == commandType && rec.ScopeKey == scope {
			return rec, nil
		}
	}
	return domain.CommandRecord{}, fmt.Errorf("%w: command identity", domain.ErrNotFound)
}

func (s *inboxStub) Insert(_ context.Context, rec domain.CommandRecord) (domain.CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.racer != nil {
		s.rows[s.racer.CommandID] = *s.racer
		s.racer = nil
		return domain.CommandRecord{}, domain.ErrDuplicateCommand
	}
	for _, existing := range s.rows {
		if existing.IdempotencyKey == rec.IdempotencyKey && existing.CommandType == rec.CommandType && existing.ScopeKey == rec.ScopeKey {
			return domain.CommandRecord{}, domain.ErrDuplicateCommand
		}
	}
	if rec.CommandID == "" {
		rec.CommandID = uuid.NewString()
	}
	s.rows[rec.CommandID] = rec
	return rec, nil
}

func (s *inboxStub) Claim(_ context.Context, id string, from []domain.CommandStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if rec.Status == st {
			rec.Status = domain.CommandProcessing
			s.rows[id] = rec
			return true, nil
		}
	}
	return false, nil
}

func (s *inboxStub) Complete(_ context.Context, id string, result domain.CommandResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	rec, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.CommandSucceeded
	rec.Result = result
	rec.ErrorMessage = ""
	rec.ProcessedAt = &at
	s.rows[id] = rec
	return nil
}

func (s *inboxStub) Fail(_ context.Context, id string, msg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	rec, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.CommandFailed
	rec.ErrorMessage = msg
	rec.ProcessedAt = &at
	s.rows[id] = rec
	return nil
}

func (s *inboxStub) Get(ctx context.Context, id string) (domain.CommandRecord, error) {
	return s.FindByIDForUpdate(ctx, id)
}

func (s *inboxStub) PurgeExpired(_ context.Context, before time.Time, statuses []domain.CommandStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = statuses
	var n int64
	for id, rec := range s.rows {
		if !rec.ExpiresAt.Before(before) {
			continue
		}
		for _, st := range statuses {
			if rec.Status == st {
				delete(s.rows, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *inboxStub) status(id string) domain.CommandStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Status
}

type occurrenceStoreStub struct {
	mu   sync.Mutex
	rows map[string]domain.Occurrence
	seq  int
}

func newOccurrenceStoreStub() *occurrenceStoreStub {
	return &occurrenceStoreStub{rows: map[string]domain.Occurrence{}}
}

func (s *occurrenceStoreStub) Save(_ context.Context, occ domain.Occurrence) (domain.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if occ.ID == "" {
		for _, existing := range s.rows {
			if existing.ExternalID == occ.ExternalID {
				return domain.Occurrence{}, domain.ErrDuplicateExternalID
			}
		}
		s.seq++
		occ.ID = fmt.Sprintf("occ-%03d", s.seq)
		occ.CreatedAt = time.Now().UTC()
	}
	occ.UpdatedAt = time.Now().UTC()
	occ.IsFinal = occ.StatusCode.IsFinal()
	s.rows[occ.ID] = occ
	return occ, nil
}

func (s *occurrenceStoreStub) FindByID(_ context.Context, id string) (domain.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	occ, ok := s.rows[id]
	if !ok {
		return domain.Occurrence{}, fmt.Errorf("%w: occurrence %s", domain.ErrNotFound, id)
	}
	return occ, nil
}

func (s *occurrenceStoreStub) FindByIDForUpdate(ctx context.Context, id string) (domain.Occurrence, error) {
	return s.FindByID(ctx, id)
}

func (s *occurrenceStoreStub) FindByExternalID(_ context.Context, externalID string) (domain.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, occ := range s.rows {
		if occ.ExternalID == externalID {
			return occ, nil
		}
	}
	return domain.Occurrence{}, fmt.Errorf("%w: occurrence %s", domain.ErrNotFound, externalID)
}

func (s *occurrenceStoreStub) List(_ context.Context, filter domain.OccurrenceFilter) ([]domain.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Occurrence
	for _, occ := range s.rows {
		if filter.Status != "" && occ.StatusCode != filter.Status {
			continue
		}
		if filter.AfterID != "" && occ.ID <= filter.AfterID {
			continue
		}
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type dispatchStoreStub struct {
	mu   sync.Mutex
	rows map[string]domain.Dispatch
	seq  int
}

func newDispatchStoreStub() *dispatchStoreStub {
	return &dispatchStoreStub{rows: map[string]domain.Dispatch{}}
}

func (s *dispatchStoreStub) Save(_ context.Context, d domain.Dispatch) (domain.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		s.seq++
		d.ID = fmt.Sprintf("dsp-%03d", s.seq)
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = time.Now().UTC()
	d.IsActive = d.StatusCode.IsActive()
	s.rows[d.ID] = d
	return d, nil
}

func (s *dispatchStoreStub) FindByID(_ context.Context, id string) (domain.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return domain.Dispatch{}, fmt.Errorf("%w: dispatch %s", domain.ErrNotFound, id)
	}
	return d, nil
}

func (s *dispatchStoreStub) FindByIDForUpdate(ctx context.Context, id string) (domain.Dispatch, error) {
	return s.FindByID(ctx, id)
}

func (s *dispatchStoreStub) FindByOccurrenceIDAndResourceCode(_ context.Context, occurrenceID, resourceCode string) (domain.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.rows {
		if d.OccurrenceID == occurrenceID && d.ResourceCode == resourceCode {
			return d, nil
		}
	}
	return domain.Dispatch{}, fmt.Errorf("%w: dispatch", domain.ErrNotFound)
}

func (s *dispatchStoreStub) FindByResourceCode(_ context.Context, resourceCode string) ([]domain.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dispatch
	for _, d := range s.rows {
		if d.ResourceCode == resourceCode {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *dispatchStoreStub) ListByOccurrence(_ context.Context, occurrenceID string) ([]domain.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dispatch
	for _, d := range s.rows {
		if d.OccurrenceID == occurrenceID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type auditStoreStub struct {
	mu        sync.Mutex
	entries   []domain.AuditEntry
	appendErr error
	filters   []domain.AuditFilter
}

func (s *auditStoreStub) Append(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *auditStoreStub) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

type invalidatorStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *invalidatorStub) Invalidate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

type jobQueueStub struct {
	mu   sync.Mutex
	jobs []domain.CommandJob
	seq  int64

	fetchLimits []int
	done        []int64
	retried     []retryMark
	dead        []deadMark
}

type retryMark struct {
	id          int64
	attempts    int
	nextAttempt time.Time
	errMsg      string
}

type deadMark struct {
	id       int64
	attempts int
	errMsg   string
}

func (q *jobQueueStub) Enqueue(_ context.Context, cmd domain.InboundCommand) (domain.CommandJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	job := domain.CommandJob{
		ID:            q.seq,
		CommandID:     cmd.CommandID,
		PayloadJSON:   mustJSON(cmd),
		Status:        domain.JobPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
	}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *jobQueueStub) FetchDue(_ context.Context, now time.Time, limit int) ([]domain.CommandJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetchLimits = append(q.fetchLimits, limit)
	var out []domain.CommandJob
	for _, j := range q.jobs {
		if j.Status != domain.JobPending || j.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, j)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (q *jobQueueStub) MarkDone(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, id)
	return q.set(id, func(j *domain.CommandJob) { j.Status = domain.JobDone })
}

func (q *jobQueueStub) MarkRetry(_ context.Context, id int64, attempts int, next time.Time, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, retryMark{id: id, attempts: attempts, nextAttempt: next, errMsg: errMsg})
	return q.set(id, func(j *domain.CommandJob) {
		j.Attempts = attempts
		j.NextAttemptAt = next
		j.LastError = errMsg
	})
}

func (q *jobQueueStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, deadMark{id: id, attempts: attempts, errMsg: errMsg})
	return q.set(id, func(j *domain.CommandJob) {
		j.Status = domain.JobDead
		j.Attempts = attempts
		j.LastError = errMsg
	})
}

func (q *jobQueueStub) set(id int64, fn func(*domain.CommandJob)) error {
	for i := range q.jobs {
		if q.jobs[i].ID == id {
			fn(&q.jobs[i])
			return nil
		}
	}
	return errors.New("unknown job id")
}

type lockerStub struct {
	mu       sync.Mutex
	err      error
	keys     []string
	released int
}

func (l *lockerStub) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

var (
	_ ports.CommandInbox     = (*inboxStub)(nil)
	_ ports.OccurrenceStore  = (*occurrenceStoreStub)(nil)
	_ ports.DispatchStore    = (*dispatchStoreStub)(nil)
	_ ports.AuditLogStore    = (*auditStoreStub)(nil)
	_ ports.CacheInvalidator = (*invalidatorStub)(nil)
	_ ports.JobQueue         = (*jobQueueStub)(nil)
	_ ports.ScopeLocker      = (*lockerStub)(nil)
)

// testStack wires the usecases over in-memory stores.
type testStack struct {
	tx          *txStub
	inbox       *inboxStub
	occurrences *occurrenceStoreStub
	dispatches  *dispatchStoreStub
	auditStore  *auditStoreStub
	cache       *invalidatorStub

	audit      *AuditTrail
	ledger     *CommandLedger
	occService *OccurrenceService
	dspService *DispatchService
	router     *CommandRouter
	executor   *CommandExecutor
}

func newTestStack() *testStack {
	s := &testStack{
		tx:          &txStub{},
		inbox:       newInboxStub(),
		occurrences: newOccurrenceStoreStub(),
		dispatches:  newDispatchStoreStub(),
		auditStore:  &auditStoreStub{},
		cache:       &invalidatorStub{},
	}
	s.audit = NewAuditTrail(s.auditStore, testLog)
	s.ledger = NewCommandLedger(s.tx, s.inbox, time.Hour, testLog)
	s.occService = NewOccurrenceService(s.tx, s.occurrences, s.audit)
	s.dspService = NewDispatchService(s.tx, s.occurrences, s.dispatches, s.audit)
	s.router = NewCommandRouter(s.occService, s.dspService, s.cache, testLog)
	s.executor = NewCommandExecutor(s.ledger, s.router, NewMetrics(nil), testLog)
	return s
}

func createOccurrencePayload(externalID string) map[string]any {
	return map[string]any{
		"externalId":  externalID,
		"type":        "incendio_urbano",
		"description": "Fire in building",
		"reportedAt":  "2026-02-01T10:00:00Z",
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
