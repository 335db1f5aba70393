package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	appLog "tripline/internal/log"
	"tripline/internal/model"
	"tripline/internal/timeutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS itinerary_events (
	id            TEXT PRIMARY KEY,
	group_id      TEXT NOT NULL,
	type          TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	subtitle      TEXT NOT NULL DEFAULT '',
	date          TEXT NOT NULL DEFAULT '',
	day_key       TEXT NOT NULL DEFAULT '',
	time          TEXT NOT NULL DEFAULT '',
	from_time     TEXT NOT NULL DEFAULT '',
	to_time       TEXT NOT NULL DEFAULT '',
	end_time      TEXT NOT NULL DEFAULT '',
	duration      TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	from_code     TEXT NOT NULL DEFAULT '',
	to_code       TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	has_transfer  BOOLEAN NOT NULL DEFAULT FALSE,
	transfer_date TEXT NOT NULL DEFAULT '',
	transfer_time TEXT NOT NULL DEFAULT '',
	parent_id     TEXT NOT NULL DEFAULT '',
	passengers    TEXT[] NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT '',
	connections   JSONB NOT NULL DEFAULT '[]',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS itinerary_events_group_day ON itinerary_events (group_id, day_key);
`

const columns = `id, group_id, type, title, subtitle, date, day_key, time, from_time, to_time,
	end_time, duration, location, from_code, to_code, city, has_transfer, transfer_date,
	transfer_time, parent_id, passengers, status, connections, updated_at`

// eventRow is the table shape of model.Event. day_key holds the normalized
// YYYY-MM-DD form of date so day queries do not depend on the input format.
type eventRow struct {
	ID           string         `db:"id"`
	GroupID      string         `db:"group_id"`
	Type         string         `db:"type"`
	Title        string         `db:"title"`
	Subtitle     string         `db:"subtitle"`
	Date         string         `db:"date"`
	DayKey       string         `db:"day_key"`
	Time         string         `db:"time"`
	FromTime     string         `db:"from_time"`
	ToTime       string         `db:"to_time"`
	EndTime      string         `db:"end_time"`
	Duration     string         `db:"duration"`
	Location     string         `db:"location"`
	FromCode     string         `db:"from_code"`
	ToCode       string         `db:"to_code"`
	City         string         `db:"city"`
	HasTransfer  bool           `db:"has_transfer"`
	TransferDate string         `db:"transfer_date"`
	TransferTime string         `db:"transfer_time"`
	ParentID     string         `db:"parent_id"`
	Passengers   pq.StringArray `db:"passengers"`
	Status       string         `db:"status"`
	Connections  types.JSONText `db:"connections"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func toRow(e model.Event) (eventRow, error) {
	legs := e.Connections
	if legs == nil {
		legs = []model.FlightLeg{}
	}
	raw, err := json.Marshal(legs)
	if err != nil {
		return eventRow{}, err
	}
	dayKey, ok := timeutil.NormalizeDate(e.Date)
	if !ok {
		dayKey = e.Date
	}
	passengers := pq.StringArray(e.Passengers)
	if passengers == nil {
		passengers = pq.StringArray{}
	}
	return eventRow{
		ID:           e.ID,
		GroupID:      e.GroupID,
		Type:         string(e.Type),
		Title:        e.Title,
		Subtitle:     e.Subtitle,
		Date:         e.Date,
		DayKey:       dayKey,
		Time:         e.Time,
		FromTime:     e.FromTime,
		ToTime:       e.ToTime,
		EndTime:      e.EndTime,
		Duration:     e.Duration,
		Location:     e.Location,
		FromCode:     e.FromCode,
		ToCode:       e.ToCode,
		City:         e.City,
		HasTransfer:  e.HasTransfer,
		TransferDate: e.TransferDate,
		TransferTime: e.TransferTime,
		ParentID:     e.ParentID,
		Passengers:   passengers,
		Status:       string(e.Status),
		Connections:  types.JSONText(raw),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

func (r eventRow) event() (model.Event, error) {
	var legs []model.FlightLeg
	if len(r.Connections) > 0 {
		if err := r.Connections.Unmarshal(&legs); err != nil {
			return model.Event{}, fmt.Errorf("event %s connections: %w", r.ID, err)
		}
	}
	if len(legs) == 0 {
		legs = nil
	}
	var passengers []string
	if len(r.Passengers) > 0 {
		passengers = []string(r.Passengers)
	}
	return model.Event{
		ID:           r.ID,
		GroupID:      r.GroupID,
		Type:         model.EventType(r.Type),
		Title:        r.Title,
		Subtitle:     r.Subtitle,
		Date:         r.Date,
		Time:         r.Time,
		FromTime:     r.FromTime,
		ToTime:       r.ToTime,
		EndTime:      r.EndTime,
		Duration:     r.Duration,
		Location:     r.Location,
		FromCode:     r.FromCode,
		ToCode:       r.ToCode,
		City:         r.City,
		HasTransfer:  r.HasTransfer,
		TransferDate: r.TransferDate,
		TransferTime: r.TransferTime,
		ParentID:     r.ParentID,
		Passengers:   passengers,
		Status:       model.Status(r.Status),
		Connections:  legs,
	}, nil
}

// PostgresRepository stores events in one table with JSONB flight legs.
type PostgresRepository struct {
	db *sqlx.DB
}

// OpenPostgres connects with the given DSN, checks connectivity and makes
// sure the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	r := NewPostgresRepository(db)
	if err := r.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	appLog.Info("database initialized", "table", "itinerary_events")
	return r, nil
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate itinerary_events: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) ListDay(ctx context.Context, groupID, date string) ([]model.Event, error) {
	dayKey, ok := timeutil.NormalizeDate(date)
	if !ok {
		dayKey = date
	}
	query := `SELECT ` + columns + ` FROM itinerary_events WHERE group_id = $1 AND day_key = $2 ORDER BY id`
	return r.list(ctx, query, groupID, dayKey)
}

func (r *PostgresRepository) ListGroup(ctx context.Context, groupID string) ([]model.Event, error) {
	query := `SELECT ` + columns + ` FROM itinerary_events WHERE group_id = $1 ORDER BY day_key, id`
	return r.list(ctx, query, groupID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.event()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (model.Event, error) {
	var row eventRow
	err := r.db.GetContext(ctx, &row, `SELECT `+columns+` FROM itinerary_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, err
	}
	return row.event()
}

func (r *PostgresRepository) Save(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row, err := toRow(*e)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO itinerary_events (` + columns + `)
		VALUES (:id, :group_id, :type, :title, :subtitle, :date, :day_key, :time, :from_time, :to_time,
			:end_time, :duration, :location, :from_code, :to_code, :city, :has_transfer, :transfer_date,
			:transfer_time, :parent_id, :passengers, :status, :connections, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			group_id = EXCLUDED.group_id, type = EXCLUDED.type, title = EXCLUDED.title,
			subtitle = EXCLUDED.subtitle, date = EXCLUDED.date, day_key = EXCLUDED.day_key,
			time = EXCLUDED.time, from_time = EXCLUDED.from_time, to_time = EXCLUDED.to_time,
			end_time = EXCLUDED.end_time, duration = EXCLUDED.duration, location = EXCLUDED.location,
			from_code = EXCLUDED.from_code, to_code = EXCLUDED.to_code, city = EXCLUDED.city,
			has_transfer = EXCLUDED.has_transfer, transfer_date = EXCLUDED.transfer_date,
			transfer_time = EXCLUDED.transfer_time, parent_id = EXCLUDED.parent_id,
			passengers = EXCLUDED.passengers, status = EXCLUDED.status,
			connections = EXCLUDED.connections, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save event %s: %w", e.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM itinerary_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
