package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/event"
)

// SQL is an event archive backed by a SQL database. The schema and
// queries are written for postgres (the lib/pq driver).
type SQL struct {
	driver *sql.DB
	logger log.Logger
}

var _ DB = &SQL{}

func NewSQL(driver, datasource string, logger log.Logger) (*SQL, error) {
	db, err := sql.Open(driver, datasource)
	if err != nil {
		return nil, err
	}
	s := &SQL{driver: db, logger: logger}
	if err := s.ensureTables(); err != nil {
		return nil, err
	}
	return s, s.sanityCheck()
}

func (s *SQL) LogEvent(ev event.Event) error {
	var metadata []byte
	if ev.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(ev.Metadata); err != nil {
			return errors.Wrap(err, "marshalling event metadata")
		}
	}
	startedAt := ev.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.driver.Exec(
		`INSERT INTO events
		 (service_ids, type, log_level, message, metadata, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pq.StringArray(ev.ServiceIDs),
		ev.Type,
		ev.LogLevel,
		ev.Message,
		metadata,
		startedAt,
		pq.NullTime{Time: ev.EndedAt.UTC(), Valid: !ev.EndedAt.IsZero()},
	)
	return err
}

const eventColumns = `id, service_ids, type, log_level, message, metadata, started_at, ended_at`

func (s *SQL) AllEvents(ctx context.Context, after event.EventID, limit int64) ([]event.Event, error) {
	if limit > 0 {
		return s.queryEvents(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id > $1 ORDER BY id LIMIT $2`,
			int64(after), limit)
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id > $1 ORDER BY id`,
		int64(after))
}

func (s *SQL) EventsForService(ctx context.Context, service string, after event.EventID, limit int64) ([]event.Event, error) {
	if limit > 0 {
		return s.queryEvents(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id > $1 AND service_ids @> $2 ORDER BY id LIMIT $3`,
			int64(after), pq.StringArray{service}, limit)
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id > $1 AND service_ids @> $2 ORDER BY id`,
		int64(after), pq.StringArray{service})
}

func (s *SQL) GetEvent(ctx context.Context, id event.EventID) (event.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, int64(id))
	if err != nil {
		return event.Event{}, err
	}
	if len(events) == 0 {
		return event.Event{}, errors.Errorf("event %d not found", id)
	}
	return events[0], nil
}

func (s *SQL) Close() error {
	return s.driver.Close()
}

func (s *SQL) queryEvents(ctx context.Context, query string, params ...interface{}) ([]event.Event, error) {
	rows, err := s.driver.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var (
			ev         event.Event
			serviceIDs pq.StringArray
			metadata   []byte
			endedAt    pq.NullTime
		)
		if err := rows.Scan(
			&ev.ID,
			&serviceIDs,
			&ev.Type,
			&ev.LogLevel,
			&ev.Message,
			&metadata,
			&ev.StartedAt,
			&endedAt,
		); err != nil {
			return nil, err
		}
		ev.ServiceIDs = []string(serviceIDs)
		if endedAt.Valid {
			ev.EndedAt = endedAt.Time
		}
		if ev.Metadata, err = event.ParseMetadata(ev.Type, metadata); err != nil {
			return nil, errors.Wrapf(err, "parsing metadata of event %d", ev.ID)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQL) ensureTables() (err error) {
	logger := log.With(s.logger, "method", "ensureTables")
	defer func() {
		if err != nil {
			logger.Log("err", err)
		}
	}()

	tx, err := s.driver.Begin()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(`CREATE TABLE IF NOT EXISTS events
		 (id          SERIAL PRIMARY KEY,
		  service_ids TEXT[] NOT NULL DEFAULT '{}',
		  type        TEXT NOT NULL,
		  log_level   TEXT NOT NULL DEFAULT '',
		  message     TEXT NOT NULL DEFAULT '',
		  metadata    JSONB,
		  started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		  ended_at    TIMESTAMPTZ)`); err != nil {
		tx.Rollback()
		return err
	}
	if _, err = tx.Exec(`CREATE INDEX IF NOT EXISTS events_service_ids
		 ON events USING gin (service_ids)`); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQL) sanityCheck() error {
	rows, err := s.driver.Query(`SELECT ` + eventColumns + ` FROM events LIMIT 1`)
	if err != nil {
		return errors.Wrap(err, "sanity checking events table")
	}
	return rows.Close()
}
