package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

// Rows keep the record as a JSON document next to the columns used for lookups

type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Status    string    `gorm:"size:32;index"`
	Archived  bool      `gorm:"index"`
	CreatedAt time.Time `gorm:"index"`
	Data      string    `gorm:"type:text"`
}

func (sessionRow) TableName() string { return "studio_sessions" }

type syncRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Data      string `gorm:"type:text"`
}

func (syncRow) TableName() string { return "studio_sync_results" }

type edlRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Version   int    `gorm:"primaryKey;autoIncrement:false"`
	Locked    bool
	Data      string `gorm:"type:text"`
}

func (edlRow) TableName() string { return "studio_edl_versions" }

type transcriptRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Angle     string `gorm:"primaryKey;size:32"`
	Data      string `gorm:"type:text"`
}

func (transcriptRow) TableName() string { return "studio_transcripts" }

type jobRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	SessionID string    `gorm:"size:64;index"`
	Type      string    `gorm:"size:16"`
	Status    string    `gorm:"size:16;index"`
	CreatedAt time.Time `gorm:"index"`
	Data      string    `gorm:"type:text"`
}

func (jobRow) TableName() string { return "studio_jobs" }

type activeJobRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	JobType   string `gorm:"primaryKey;size:16"`
	JobID     string `gorm:"size:64"`
}

func (activeJobRow) TableName() string { return "studio_active_jobs" }

// SQLStore keeps records in Postgres or SQLite through gorm
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL connects with the named driver ("postgres" or "sqlite") and migrates the schema
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if driver == "sqlite" {
		// a single writer keeps transactions serialized
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return NewSQLStore(db)
}

// NewSQLStore wraps an open gorm handle and migrates the schema
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&sessionRow{}, &syncRow{}, &edlRow{}, &transcriptRow{}, &jobRow{}, &activeJobRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func dbErr(op string, err error) error {
	return apperr.Transient(fmt.Errorf("failed to %s: %w", op, err))
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sessionToRow(session *model.RecordingSession) (*sessionRow, error) {
	data, err := encode(session)
	if err != nil {
		return nil, err
	}
	return &sessionRow{
		ID:        session.ID,
		Status:    string(session.Status),
		Archived:  session.IsArchived(),
		CreatedAt: session.CreatedAt,
		Data:      data,
	}, nil
}

func jobToRow(job *model.Job) (*jobRow, error) {
	data, err := encode(job)
	if err != nil {
		return nil, err
	}
	return &jobRow{
		ID:        job.ID,
		SessionID: job.SessionID,
		Type:      string(job.Type),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		Data:      data,
	}, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*model.RecordingSession, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("session", id)
		}
		return nil, dbErr("read session", err)
	}
	var session model.RecordingSession
	if err := json.Unmarshal([]byte(row.Data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (s *SQLStore) PutSession(ctx context.Context, session *model.RecordingSession) error {
	row, err := sessionToRow(session)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return dbErr("save session", err)
	}
	return nil
}

func (s *SQLStore) UpdateSession(ctx context.Context, id string, fn func(*model.RecordingSession) error) (*model.RecordingSession, error) {
	var result *model.RecordingSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("session", id)
			}
			return err
		}
		var session model.RecordingSession
		if err := json.Unmarshal([]byte(row.Data), &session); err != nil {
			return err
		}
		if err := fn(&session); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				var current model.RecordingSession
				if err := json.Unmarshal([]byte(row.Data), &current); err != nil {
					return err
				}
				result = &current
				return nil
			}
			return err
		}
		touch(&session.UpdatedAt)
		updated, err := sessionToRow(&session)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		result = &session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, includeArchived bool) ([]*model.RecordingSession, error) {
	var rows []sessionRow
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, dbErr("list sessions", err)
	}
	out := make([]*model.RecordingSession, 0, len(rows))
	for _, row := range rows {
		var session model.RecordingSession
		if err := json.Unmarshal([]byte(row.Data), &session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		out = append(out, &session)
	}
	return out, nil
}

func (s *SQLStore) GetSyncResult(ctx context.Context, sessionID string) (*model.SyncResult, error) {
	var row syncRow
	if err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("sync result", sessionID)
		}
		return nil, dbErr("read sync result", err)
	}
	var result model.SyncResult
	if err := json.Unmarshal([]byte(row.Data), &result); err != nil {
		return nil, fmt.Errorf("failed to decode sync result: %w", err)
	}
	return &result, nil
}

func (s *SQLStore) PutSyncResult(ctx context.Context, result *model.SyncResult) error {
	data, err := encode(result)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&syncRow{SessionID: result.SessionID, Data: data}).Error; err != nil {
		return dbErr("save sync result", err)
	}
	return nil
}

func (s *SQLStore) UpdateSyncResult(ctx context.Context, sessionID string, fn func(*model.SyncResult) error) (*model.SyncResult, error) {
	var result *model.SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row syncRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("sync result", sessionID)
			}
			return err
		}
		var current model.SyncResult
		if err := json.Unmarshal([]byte(row.Data), &current); err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(working); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				result = &current
				return nil
			}
			return err
		}
		touch(&working.UpdatedAt)
		data, err := encode(working)
		if err != nil {
			return err
		}
		if err := tx.Save(&syncRow{SessionID: sessionID, Data: data}).Error; err != nil {
			return err
		}
		result = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func decodeEDL(row *edlRow) (*model.EDL, error) {
	var e model.EDL
	if err := json.Unmarshal([]byte(row.Data), &e); err != nil {
		return nil, fmt.Errorf("failed to decode edl: %w", err)
	}
	return &e, nil
}

func latestEDLVersion(tx *gorm.DB, sessionID string) (int, error) {
	var latest int
	err := tx.Model(&edlRow{}).
		Select("COALESCE(MAX(version), 0)").
		Where("session_id = ?", sessionID).
		Scan(&latest).Error
	return latest, err
}

func (s *SQLStore) GetEDL(ctx context.Context, sessionID string, version int) (*model.EDL, error) {
	var row edlRow
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if version > 0 {
		q = q.Where("version = ?", version)
	} else {
		q = q.Order("version DESC")
	}
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("edl", sessionID)
		}
		return nil, dbErr("read edl", err)
	}
	return decodeEDL(&row)
}

func (s *SQLStore) AppendEDL(ctx context.Context, edl *model.EDL) error {
	data, err := encode(edl)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := latestEDLVersion(tx, edl.SessionID)
		if err != nil {
			return dbErr("read edl version", err)
		}
		if edl.Version != latest+1 {
			return edlVersionConflict(edl.SessionID, edl.Version, latest)
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edlRow{
			SessionID: edl.SessionID,
			Version:   edl.Version,
			Locked:    edl.Locked,
			Data:      data,
		})
		if res.Error != nil {
			return dbErr("append edl", res.Error)
		}
		if res.RowsAffected == 0 {
			// a concurrent writer took this version number
			return edlVersionConflict(edl.SessionID, edl.Version, edl.Version)
		}
		return nil
	})
}

func (s *SQLStore) SetEDLLock(ctx context.Context, sessionID string, version int, locked bool) (*model.EDL, error) {
	var result *model.EDL
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := latestEDLVersion(tx, sessionID)
		if err != nil {
			return err
		}
		if latest == 0 {
			return notFound("edl", sessionID)
		}
		if version != latest {
			return edlVersionConflict(sessionID, version, latest)
		}
		var row edlRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "session_id = ? AND version = ?", sessionID, version).Error; err != nil {
			return err
		}
		e, err := decodeEDL(&row)
		if err != nil {
			return err
		}
		applyLock(e, locked)
		data, err := encode(e)
		if err != nil {
			return err
		}
		if err := tx.Model(&edlRow{}).
			Where("session_id = ? AND version = ?", sessionID, version).
			Updates(map[string]interface{}{"locked": locked, "data": data}).Error; err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) ListEDLVersions(ctx context.Context, sessionID string) ([]*model.EDL, error) {
	var rows []edlRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("version ASC").Find(&rows).Error; err != nil {
		return nil, dbErr("list edl versions", err)
	}
	out := make([]*model.EDL, 0, len(rows))
	for i := range rows {
		e, err := decodeEDL(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLStore) GetTranscript(ctx context.Context, sessionID, angle string) (*model.Transcript, error) {
	var row transcriptRow
	if err := s.db.WithContext(ctx).First(&row, "session_id = ? AND angle = ?", sessionID, angle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("transcript", sessionID+"/"+angle)
		}
		return nil, dbErr("read transcript", err)
	}
	var t model.Transcript
	if err := json.Unmarshal([]byte(row.Data), &t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &t, nil
}

func (s *SQLStore) PutTranscript(ctx context.Context, transcript *model.Transcript) error {
	data, err := encode(transcript)
	if err != nil {
		return err
	}
	row := &transcriptRow{SessionID: transcript.SessionID, Angle: transcript.Angle, Data: data}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return dbErr("save transcript", err)
	}
	return nil
}

func (s *SQLStore) ListTranscripts(ctx context.Context, sessionID string) ([]*model.Transcript, error) {
	var rows []transcriptRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("angle ASC").Find(&rows).Error; err != nil {
		return nil, dbErr("list transcripts", err)
	}
	out := make([]*model.Transcript, 0, len(rows))
	for _, row := range rows {
		var t model.Transcript
		if err := json.Unmarshal([]byte(row.Data), &t); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("job", id)
		}
		return nil, dbErr("read job", err)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(row.Data), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *SQLStore) PutJob(ctx context.Context, job *model.Job) error {
	row, err := jobToRow(job)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return dbErr("save job", err)
	}
	return nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	var result *model.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("job", id)
			}
			return err
		}
		var job model.Job
		if err := json.Unmarshal([]byte(row.Data), &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				var current model.Job
				if err := json.Unmarshal([]byte(row.Data), &current); err != nil {
					return err
				}
				result = &current
				return nil
			}
			return err
		}
		touch(&job.UpdatedAt)
		updated, err := jobToRow(&job)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		result = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) ListJobs(ctx context.Context, sessionID string) ([]*model.Job, error) {
	var rows []jobRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, dbErr("list jobs", err)
	}
	out := make([]*model.Job, 0, len(rows))
	for _, row := range rows {
		var job model.Job
		if err := json.Unmarshal([]byte(row.Data), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		out = append(out, &job)
	}
	sortJobs(out)
	return out, nil
}

func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&jobRow{}, "id = ?", id).Error; err != nil {
		return dbErr("delete job", err)
	}
	return nil
}

func (s *SQLStore) ClaimActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) (string, bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&activeJobRow{
		SessionID: sessionID,
		JobType:   string(jobType),
		JobID:     jobID,
	})
	if res.Error != nil {
		return "", false, dbErr("claim active job", res.Error)
	}
	if res.RowsAffected == 1 {
		return jobID, true, nil
	}

	var row activeJobRow
	if err := db.First(&row, "session_id = ? AND job_type = ?", sessionID, string(jobType)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// released in between; the caller retries
			return "", false, nil
		}
		return "", false, dbErr("read active job", err)
	}
	return row.JobID, false, nil
}

func (s *SQLStore) ReleaseActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND job_type = ? AND job_id = ?", sessionID, string(jobType), jobID).
		Delete(&activeJobRow{}).Error
	if err != nil {
		return dbErr("release active job", err)
	}
	return nil
}

func (s *SQLStore) ActiveJob(ctx context.Context, sessionID string, jobType model.JobType) (string, error) {
	var row activeJobRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ? AND job_type = ?", sessionID, string(jobType)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", dbErr("read active job", err)
	}
	return row.JobID, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
