package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-engine/internal/db"
	"github.com/sells-group/contact-engine/internal/model"
	"github.com/sells-group/contact-engine/internal/normalize"
)

// PostgresStore implements ContactStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot resolution path.
var preparedStatements = map[string]string{
	"get_contact": `SELECT ` + pgContactCols + ` FROM contacts WHERE id = $1`,
	"find_candidates": `SELECT ` + pgContactCols + ` FROM contacts
		WHERE (email <> '' AND email = $1)
		   OR (phone <> '' AND phone = $2)
		   OR ($3 <> '' AND name_key LIKE $3 || '%')
		   OR ($4 <> '' AND last_name_key = $4)
		ORDER BY created_at`,
	"events_for_contact": `SELECT id, contact_id, type, ts, source_platform, source_id,
		source_contact_id, subject, deal_value, deal_cash_collected, deal_status
		FROM events WHERE contact_id = $1 ORDER BY ts`,
}

const pgContactCols = `id, name, email, phone, phone_raw, company, title,
	lead_sources, sources_count, notes, assigned_owner,
	created_at, last_activity_date, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, primarily for tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
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
	lead_sources       JSONB NOT NULL DEFAULT '[]',
	sources_count      INTEGER NOT NULL DEFAULT 0,
	notes              TEXT NOT NULL DEFAULT '',
	assigned_owner     TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity_date TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id                  TEXT PRIMARY KEY,
	contact_id          TEXT NOT NULL REFERENCES contacts(id),
	type                TEXT NOT NULL,
	ts                  TIMESTAMPTZ NOT NULL,
	source_platform     TEXT NOT NULL,
	source_id           TEXT NOT NULL,
	source_contact_id   TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	deal_value          DOUBLE PRECISION,
	deal_cash_collected DOUBLE PRECISION,
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgContactCols+` FROM contacts WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contact %s", id)
	}
	defer rows.Close()
	contacts, err := collectContacts(rows)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

func (s *PostgresStore) FindCandidates(ctx context.Context, rec model.NormalizedRecord) ([]model.Contact, error) {
	prefix, lastToken := nameSearchKeys(rec)
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgContactCols+` FROM contacts
		 WHERE (email <> '' AND email = $1)
		    OR (phone <> '' AND phone = $2)
		    OR ($3 <> '' AND name_key LIKE $3 || '%')
		    OR ($4 <> '' AND last_name_key = $4)
		 ORDER BY created_at`,
		rec.Email, rec.Phone, prefix, lastToken)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *PostgresStore) ListContactIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM contacts ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contact ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list contact ids iterate")
}

func (s *PostgresStore) PersistContact(ctx context.Context, c *model.Contact, isNew bool, platform, sourceContactID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

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

	nameKey := normalize.NameKey(c.Name)
	_, lastToken := nameSearchKeys(model.NormalizedRecord{NameKey: nameKey})
	sources := c.LeadSources
	if sources == nil {
		sources = []string{}
	}

	var lastActivity any
	if !c.LastActivityDate.IsZero() {
		lastActivity = c.LastActivityDate
	}

	if isNew {
		_, err = tx.Exec(ctx,
			`INSERT INTO contacts (id, name, name_key, last_name_key, email, phone, phone_raw,
				company, title, lead_sources, sources_count, notes, assigned_owner,
				created_at, last_activity_date, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			c.ID, c.Name, nameKey, lastToken, c.Email, c.Phone, c.PhoneRaw,
			c.Company, c.Title, sources, c.SourcesCount, c.Notes, c.AssignedOwner,
			c.CreatedAt, lastActivity, c.UpdatedAt)
	} else {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx,
			`UPDATE contacts SET name = $1, name_key = $2, last_name_key = $3, email = $4,
				phone = $5, phone_raw = $6, company = $7, title = $8, lead_sources = $9,
				sources_count = $10, notes = $11, assigned_owner = $12, created_at = $13,
				last_activity_date = $14, updated_at = $15
			 WHERE id = $16`,
			c.Name, nameKey, lastToken, c.Email,
			c.Phone, c.PhoneRaw, c.Company, c.Title, sources,
			c.SourcesCount, c.Notes, c.AssignedOwner, c.CreatedAt,
			lastActivity, c.UpdatedAt, c.ID)
		if err == nil && tag.RowsAffected() == 0 {
			return 0, eris.Errorf("postgres: contact not found: %s", c.ID)
		}
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: persist contact %s", c.ID)
	}

	var relinked int64
	if platform != "" && sourceContactID != "" {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET contact_id = $1
			 WHERE source_platform = $2 AND source_contact_id = $3 AND contact_id <> $1`,
			c.ID, platform, sourceContactID)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: relink events")
		}
		relinked = tag.RowsAffected()
	}

	return relinked, eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) UpsertEvent(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var value, cash, status any
	if e.Deal != nil {
		value, cash, status = e.Deal.Value, e.Deal.CashCollected, string(e.Deal.Status)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, contact_id, type, ts, source_platform, source_id,
			source_contact_id, subject, deal_value, deal_cash_collected, deal_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (source_platform, source_id) DO UPDATE SET
			contact_id = EXCLUDED.contact_id,
			type = EXCLUDED.type,
			ts = EXCLUDED.ts,
			source_contact_id = EXCLUDED.source_contact_id,
			subject = EXCLUDED.subject,
			deal_value = EXCLUDED.deal_value,
			deal_cash_collected = EXCLUDED.deal_cash_collected,
			deal_status = EXCLUDED.deal_status`,
		e.ID, e.ContactID, string(e.Type), e.Timestamp.UTC(), e.SourcePlatform, e.SourceID,
		e.SourceContactID, e.Subject, value, cash, status)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert event %s/%s", e.SourcePlatform, e.SourceID)
	}

	// The contact's last activity tracks its most recent event; the resolver
	// leans on it to break ambiguity ties.
	if e.ContactID != "" {
		_, err = tx.Exec(ctx,
			`UPDATE contacts SET last_activity_date = $1, updated_at = now()
			 WHERE id = $2 AND (last_activity_date IS NULL OR last_activity_date < $1)`,
			e.Timestamp.UTC(), e.ContactID)
		if err != nil {
			return eris.Wrapf(err, "postgres: bump last activity %s", e.ContactID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) EventsForContact(ctx context.Context, contactID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contact_id, type, ts, source_platform, source_id, source_contact_id,
			subject, deal_value, deal_cash_collected, deal_status
		 FROM events WHERE contact_id = $1 ORDER BY ts`,
		contactID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: events for contact %s", contactID)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: events iterate")
}

// helpers

func collectContacts(rows pgx.Rows) ([]model.Contact, error) {
	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var lastActivity *time.Time
		err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.PhoneRaw, &c.Company, &c.Title,
			&c.LeadSources, &c.SourcesCount, &c.Notes, &c.AssignedOwner,
			&c.CreatedAt, &lastActivity, &c.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		if lastActivity != nil {
			c.LastActivityDate = *lastActivity
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: contacts iterate")
}

func scanPgEvent(rows pgx.Rows) (*model.Event, error) {
	var e model.Event
	var typ string
	var value, cash *float64
	var status *string

	err := rows.Scan(&e.ID, &e.ContactID, &typ, &e.Timestamp, &e.SourcePlatform, &e.SourceID,
		&e.SourceContactID, &e.Subject, &value, &cash, &status)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan event")
	}
	e.Type = model.EventType(typ)
	if e.Type == model.EventDeal {
		e.Deal = &model.DealInfo{}
		if value != nil {
			e.Deal.Value = *value
		}
		if cash != nil {
			e.Deal.CashCollected = *cash
		}
		if status != nil {
			e.Deal.Status = model.DealStatus(*status)
		}
	}
	return &e, nil
}
