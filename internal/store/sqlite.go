package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-engine/internal/model"
	"github.com/sells-group/contact-engine/internal/normalize"
)

// SQLiteStore implements ContactStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	name_key           TEXT NOT NULL DEFAULT '',
	last_name_key      TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	phone_raw          TEXT NOT NULL DEFAULT '',
	company            TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL DEFAULT '',
	lead_sources       TEXT NOT NULL DEFAULT '[]',
	sources_count      INTEGER NOT NULL DEFAULT 0,
	notes              TEXT NOT NULL DEFAULT '',
	assigned_owner     TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	last_activity_date DATETIME,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id                  TEXT PRIMARY KEY,
	contact_id          TEXT NOT NULL REFERENCES contacts(id),
	type                TEXT NOT NULL,
	ts                  DATETIME NOT NULL,
	source_platform     TEXT NOT NULL,
	source_id           TEXT NOT NULL,
	source_contact_id   TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	deal_value          REAL,
	deal_cash_collected REAL,
	deal_status         TEXT,
	UNIQUE(source_platform, source_id)
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone);
CREATE INDEX IF NOT EXISTS idx_contacts_name_key ON contacts(name_key);
CREATE INDEX IF NOT EXISTS idx_contacts_last_name_key ON contacts(last_name_key);
CREATE INDEX IF NOT EXISTS idx_events_contact_id ON events(contact_id);
CREATE INDEX IF NOT EXISTS idx_events_source_contact ON events(source_platform, source_contact_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteContactCols = `id, name, email, phone, phone_raw, company, title,
	lead_sources, sources_count, notes, assigned_owner,
	created_at, last_activity_date, updated_at`

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteContactCols+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) FindCandidates(ctx context.Context, rec model.NormalizedRecord) ([]model.Contact, error) {
	prefix, lastToken := nameSearchKeys(rec)

	// Neutral placeholders keep absent fields from matching empty columns.
	email := rec.Email
	if email == "" {
		email = "\x00"
	}
	phone := rec.Phone
	if phone == "" {
		phone = "\x00"
	}
	if prefix == "" {
		prefix = "\x00"
	}
	if lastToken == "" {
		lastToken = "\x00"
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteContactCols+` FROM contacts
		 WHERE email = ? OR phone = ? OR name_key LIKE ? || '%' OR last_name_key = ?
		 ORDER BY created_at`,
		email, phone, prefix, lastToken)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find candidates iterate")
}

func (s *SQLiteStore) ListContactIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM contacts ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contact ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list contact ids iterate")
}

func (s *SQLiteStore) PersistContact(ctx context.Context, c *model.Contact, isNew bool, platform, sourceContactID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()
	c.UpdatedAt = now
	if isNew {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}

	sourcesJSON, err := json.Marshal(c.LeadSources)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal lead sources")
	}
	nameKey := normalize.NameKey(c.Name)
	_, lastToken := nameSearchKeys(model.NormalizedRecord{NameKey: nameKey})

	var lastActivity any
	if !c.LastActivityDate.IsZero() {
		lastActivity = c.LastActivityDate
	}

	if isNew {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contacts (id, name, name_key, last_name_key, email, phone, phone_raw,
				company, title, lead_sources, sources_count, notes, assigned_owner,
				created_at, last_activity_date, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, nameKey, lastToken, c.Email, c.Phone, c.PhoneRaw,
			c.Company, c.Title, string(sourcesJSON), c.SourcesCount, c.Notes, c.AssignedOwner,
			c.CreatedAt, lastActivity, c.UpdatedAt)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`UPDATE contacts SET name = ?, name_key = ?, last_name_key = ?, email = ?,
				phone = ?, phone_raw = ?, company = ?, title = ?, lead_sources = ?,
				sources_count = ?, notes = ?, assigned_owner = ?, created_at = ?,
				last_activity_date = ?, updated_at = ?
			 WHERE id = ?`,
			c.Name, nameKey, lastToken, c.Email,
			c.Phone, c.PhoneRaw, c.Company, c.Title, string(sourcesJSON),
			c.SourcesCount, c.Notes, c.AssignedOwner, c.CreatedAt,
			lastActivity, c.UpdatedAt, c.ID)
		if err == nil {
			var n int64
			if n, err = res.RowsAffected(); err == nil && n == 0 {
				return 0, eris.Errorf("sqlite: contact not found: %s", c.ID)
			}
		}
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: persist contact %s", c.ID)
	}

	var relinked int64
	if platform != "" && sourceContactID != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET contact_id = ?
			 WHERE source_platform = ? AND source_contact_id = ? AND contact_id != ?`,
			c.ID, platform, sourceContactID, c.ID)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: relink events")
		}
		relinked, _ = res.RowsAffected()
	}

	return relinked, eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) UpsertEvent(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var value, cash, status any
	if e.Deal != nil {
		value, cash, status = e.Deal.Value, e.Deal.CashCollected, string(e.Deal.Status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// (source_platform, source_id) uniquely identifies an event, so
	// re-ingesting the same external id updates in place.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, contact_id, type, ts, source_platform, source_id,
			source_contact_id, subject, deal_value, deal_cash_collected, deal_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_platform, source_id) DO UPDATE SET
			contact_id = excluded.contact_id,
			type = excluded.type,
			ts = excluded.ts,
			source_contact_id = excluded.source_contact_id,
			subject = excluded.subject,
			deal_value = excluded.deal_value,
			deal_cash_collected = excluded.deal_cash_collected,
			deal_status = excluded.deal_status`,
		e.ID, e.ContactID, string(e.Type), e.Timestamp.UTC(), e.SourcePlatform, e.SourceID,
		e.SourceContactID, e.Subject, value, cash, status)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert event %s/%s", e.SourcePlatform, e.SourceID)
	}

	// The contact's last activity tracks its most recent event; the resolver
	// leans on it to break ambiguity ties.
	if e.ContactID != "" {
		ts := e.Timestamp.UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE contacts SET last_activity_date = ?, updated_at = ?
			 WHERE id = ? AND (last_activity_date IS NULL OR last_activity_date < ?)`,
			ts, time.Now().UTC(), e.ContactID, ts)
		if err != nil {
			return eris.Wrapf(err, "sqlite: bump last activity %s", e.ContactID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) EventsForContact(ctx context.Context, contactID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, type, ts, source_platform, source_id, source_contact_id,
			subject, deal_value, deal_cash_collected, deal_status
		 FROM events WHERE contact_id = ? ORDER BY ts`,
		contactID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: events for contact %s", contactID)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: events iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (*model.Contact, error) {
	var c model.Contact
	var sourcesJSON string
	var lastActivity sql.NullTime

	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.PhoneRaw, &c.Company, &c.Title,
		&sourcesJSON, &c.SourcesCount, &c.Notes, &c.AssignedOwner,
		&c.CreatedAt, &lastActivity, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan contact")
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &c.LeadSources); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal lead sources")
	}
	if lastActivity.Valid {
		c.LastActivityDate = lastActivity.Time
	}
	return &c, nil
}

func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var typ string
	var value, cash sql.NullFloat64
	var status sql.NullString

	err := row.Scan(&e.ID, &e.ContactID, &typ, &e.Timestamp, &e.SourcePlatform, &e.SourceID,
		&e.SourceContactID, &e.Subject, &value, &cash, &status)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan event")
	}
	e.Type = model.EventType(typ)
	if e.Type == model.EventDeal {
		e.Deal = &model.DealInfo{
			Value:         value.Float64,
			CashCollected: cash.Float64,
			Status:        model.DealStatus(status.String),
		}
	}
	return &e, nil
}
