package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/studiocast/studio/internal/model"
)

// MemoryStore keeps everything in process. Used by tests and single-process development.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*model.RecordingSession
	syncResults map[string]*model.SyncResult
	edls        map[string][]*model.EDL
	transcripts map[string]map[string]*model.Transcript
	jobs        map[string]*model.Job
	active      map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*model.RecordingSession),
		syncResults: make(map[string]*model.SyncResult),
		edls:        make(map[string][]*model.EDL),
		transcripts: make(map[string]map[string]*model.Transcript),
		jobs:        make(map[string]*model.Job),
		active:      make(map[string]string),
	}
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*model.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	return clone(s)
}

func (m *MemoryStore) PutSession(ctx context.Context, session *model.RecordingSession) error {
	cp, err := clone(session)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = cp
	return nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, fn func(*model.RecordingSession) error) (*model.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	working, err := clone(current)
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return clone(current)
		}
		return nil, err
	}
	touch(&working.UpdatedAt)
	m.sessions[id] = working
	return clone(working)
}

func (m *MemoryStore) ListSessions(ctx context.Context, includeArchived bool) ([]*model.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.RecordingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.IsArchived() && !includeArchived {
			continue
		}
		cp, err := clone(s)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetSyncResult(ctx context.Context, sessionID string) (*model.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.syncResults[sessionID]
	if !ok {
		return nil, notFound("sync result", sessionID)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) PutSyncResult(ctx context.Context, result *model.SyncResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncResults[result.SessionID] = result.Clone()
	return nil
}

func (m *MemoryStore) UpdateSyncResult(ctx context.Context, sessionID string, fn func(*model.SyncResult) error) (*model.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.syncResults[sessionID]
	if !ok {
		return nil, notFound("sync result", sessionID)
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return current.Clone(), nil
		}
		return nil, err
	}
	touch(&working.UpdatedAt)
	m.syncResults[sessionID] = working
	return working.Clone(), nil
}

func (m *MemoryStore) GetEDL(ctx context.Context, sessionID string, version int) (*model.EDL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.edls[sessionID]
	if len(versions) == 0 {
		return nil, notFound("edl", sessionID)
	}
	if version == 0 {
		version = len(versions)
	}
	if version < 1 || version > len(versions) {
		return nil, notFound("edl version", sessionID)
	}
	return clone(versions[version-1])
}

func (m *MemoryStore) AppendEDL(ctx context.Context, edl *model.EDL) error {
	cp, err := clone(edl)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := len(m.edls[edl.SessionID])
	if edl.Version != latest+1 {
		return edlVersionConflict(edl.SessionID, edl.Version, latest)
	}
	m.edls[edl.SessionID] = append(m.edls[edl.SessionID], cp)
	return nil
}

func (m *MemoryStore) SetEDLLock(ctx context.Context, sessionID string, version int, locked bool) (*model.EDL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.edls[sessionID]
	if len(versions) == 0 {
		return nil, notFound("edl", sessionID)
	}
	if version != len(versions) {
		return nil, edlVersionConflict(sessionID, version, len(versions))
	}
	e := versions[version-1]
	applyLock(e, locked)
	return clone(e)
}

func (m *MemoryStore) ListEDLVersions(ctx context.Context, sessionID string) ([]*model.EDL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.EDL, 0, len(m.edls[sessionID]))
	for _, e := range m.edls[sessionID] {
		cp, err := clone(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryStore) GetTranscript(ctx context.Context, sessionID, angle string) (*model.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[sessionID][angle]
	if !ok {
		return nil, notFound("transcript", sessionID+"/"+angle)
	}
	return clone(t)
}

func (m *MemoryStore) PutTranscript(ctx context.Context, transcript *model.Transcript) error {
	cp, err := clone(transcript)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transcripts[transcript.SessionID] == nil {
		m.transcripts[transcript.SessionID] = make(map[string]*model.Transcript)
	}
	m.transcripts[transcript.SessionID][transcript.Angle] = cp
	return nil
}

func (m *MemoryStore) ListTranscripts(ctx context.Context, sessionID string) ([]*model.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Transcript, 0, len(m.transcripts[sessionID]))
	for _, t := range m.transcripts[sessionID] {
		cp, err := clone(t)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortTranscripts(out)
	return out, nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	return clone(j)
}

func (m *MemoryStore) PutJob(ctx context.Context, job *model.Job) error {
	cp, err := clone(job)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cp
	return nil
}

func (m *MemoryStore) UpdateJob(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	working, err := clone(current)
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return clone(current)
		}
		return nil, err
	}
	touch(&working.UpdatedAt)
	m.jobs[id] = working
	return clone(working)
}

func (m *MemoryStore) ListJobs(ctx context.Context, sessionID string) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.SessionID != sessionID {
			continue
		}
		cp, err := clone(j)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortJobs(out)
	return out, nil
}

func (m *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) ClaimActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := activeKey(sessionID, jobType)
	if holder, ok := m.active[key]; ok {
		return holder, false, nil
	}
	m.active[key] = jobID
	return jobID, true, nil
}

func (m *MemoryStore) ReleaseActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := activeKey(sessionID, jobType)
	if m.active[key] == jobID {
		delete(m.active, key)
	}
	return nil
}

func (m *MemoryStore) ActiveJob(ctx context.Context, sessionID string, jobType model.JobType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[activeKey(sessionID, jobType)], nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                   { return nil }
