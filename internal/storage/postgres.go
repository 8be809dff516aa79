package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/config"
	"github.com/your-org/facelinker/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(cfg.DSN(), cfg.MaxConns)
}

func NewPostgresStoreFromDSN(dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// dbError maps driver errors onto the shared taxonomy.
func dbError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, common.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", op, common.ErrNotFound)
		case "23505", "23502", "22P02": // unique, not null, bad text representation
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, common.ErrInvalidInput)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, common.ErrStorageFailure, err)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, first_name, last_name) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, u.Email, u.FirstName, u.LastName,
	).Scan(&u.CreatedAt)
	if err != nil {
		return dbError("create user", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt)
	if err != nil {
		return nil, dbError("get user", err)
	}
	return u, nil
}

// --- Events ---

const eventColumns = `id, owner_id, title, location, description, starts_at, ends_at, created_at`

func scanEvent(row pgx.Row, ev *models.Event) error {
	return row.Scan(&ev.ID, &ev.OwnerID, &ev.Title, &ev.Location, &ev.Description,
		&ev.StartsAt, &ev.EndsAt, &ev.CreatedAt)
}

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (id, owner_id, title, location, description, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		ev.ID, ev.OwnerID, ev.Title, ev.Location, ev.Description, ev.StartsAt, ev.EndsAt,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return dbError("create event", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ev := &models.Event{}
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if err := scanEvent(row, ev); err != nil {
		return nil, dbError("get event", err)
	}
	return ev, nil
}

// ListEvents returns the owner's events, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, ownerID uuid.UUID) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, dbError("list events", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, dbError("scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list events", err)
	}
	return events, nil
}

// DeleteEvent removes the event; identities and occurrences cascade.
func (s *PostgresStore) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return dbError("delete event", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete event %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// --- Identities ---

// InsertIdentity stores a new identity with its single initial occurrence.
// embedding may be nil.
func (s *PostgresStore) InsertIdentity(ctx context.Context, ident *models.Identity, embedding []float32) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	var vec *pgvector.Vector
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		vec = &v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbError("begin insert identity", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO identities (id, event_id, display_name, exemplar_key, exemplar_embedding)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		ident.ID, ident.EventID, ident.DisplayName, ident.ExemplarKey, vec,
	).Scan(&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return dbError("insert identity", err)
	}

	occ := ident.Occurrences[0]
	if _, err := tx.Exec(ctx,
		`INSERT INTO occurrences (identity_id, event_id, image_id, box_x, box_y, box_width, box_height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ident.ID, ident.EventID, occ.ImageID, occ.Box.X, occ.Box.Y, occ.Box.Width, occ.Box.Height,
	); err != nil {
		return dbError("insert occurrence", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return dbError("commit identity", err)
	}
	return nil
}

// AppendOccurrence adds occ to the end of the identity's occurrence list.
func (s *PostgresStore) AppendOccurrence(ctx context.Context, identityID uuid.UUID, occ models.Occurrence) error {
	if err := occ.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbError("begin append occurrence", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO occurrences (identity_id, event_id, image_id, box_x, box_y, box_width, box_height)
		 SELECT id, event_id, $2, $3, $4, $5, $6 FROM identities WHERE id = $1`,
		identityID, occ.ImageID, occ.Box.X, occ.Box.Y, occ.Box.Width, occ.Box.Height)
	if err != nil {
		return dbError("append occurrence", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append occurrence to %s: %w", identityID, common.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `UPDATE identities SET updated_at = NOW() WHERE id = $1`, identityID); err != nil {
		return dbError("touch identity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return dbError("commit occurrence", err)
	}
	return nil
}

func (s *PostgresStore) RenameIdentity(ctx context.Context, id uuid.UUID, name string) error {
	if err := models.ValidDisplayName(name); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET display_name = $1, updated_at = NOW() WHERE id = $2`, name, id)
	if err != nil {
		return dbError("rename identity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rename identity %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return dbError("delete identity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete identity %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id, display_name, exemplar_key, created_at, updated_at FROM identities WHERE id = $1`, id,
	).Scan(&ident.ID, &ident.EventID, &ident.DisplayName, &ident.ExemplarKey, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return nil, dbError("get identity", err)
	}

	occs, err := s.occurrences(ctx, `WHERE identity_id = $1`, id)
	if err != nil {
		return nil, err
	}
	ident.Occurrences = occs[id]
	return ident, nil
}

// ListIdentities returns the event's identities in creation order.
func (s *PostgresStore) ListIdentities(ctx context.Context, eventID uuid.UUID) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, display_name, exemplar_key, created_at, updated_at
		 FROM identities WHERE event_id = $1 ORDER BY seq`, eventID)
	if err != nil {
		return nil, dbError("list identities", err)
	}
	defer rows.Close()

	idents := []models.Identity{}
	for rows.Next() {
		var ident models.Identity
		if err := rows.Scan(&ident.ID, &ident.EventID, &ident.DisplayName, &ident.ExemplarKey,
			&ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, dbError("scan identity", err)
		}
		idents = append(idents, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list identities", err)
	}

	occs, err := s.occurrences(ctx, `WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, err
	}
	for i := range idents {
		idents[i].Occurrences = occs[idents[i].ID]
	}
	return idents, nil
}

func (s *PostgresStore) occurrences(ctx context.Context, where string, arg any) (map[uuid.UUID][]models.Occurrence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identity_id, image_id, box_x, box_y, box_width, box_height FROM occurrences `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, dbError("list occurrences", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.Occurrence)
	for rows.Next() {
		var (
			id  uuid.UUID
			occ models.Occurrence
		)
		if err := rows.Scan(&id, &occ.ImageID, &occ.Box.X, &occ.Box.Y, &occ.Box.Width, &occ.Box.Height); err != nil {
			return nil, dbError("scan occurrence", err)
		}
		out[id] = append(out[id], occ)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list occurrences", err)
	}
	return out, nil
}

// ListExemplars returns one exemplar per identity of the event in creation order.
// Face.PNG is left empty; Face.Embedding is set when one was stored.
func (s *PostgresStore) ListExemplars(ctx context.Context, eventID uuid.UUID) ([]models.Exemplar, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, exemplar_key, exemplar_embedding FROM identities WHERE event_id = $1 ORDER BY seq`, eventID)
	if err != nil {
		return nil, dbError("list exemplars", err)
	}
	defer rows.Close()

	exemplars := []models.Exemplar{}
	for rows.Next() {
		var (
			ex  models.Exemplar
			vec *pgvector.Vector
		)
		if err := rows.Scan(&ex.IdentityID, &ex.Key, &vec); err != nil {
			return nil, dbError("scan exemplar", err)
		}
		if vec != nil {
			ex.Face.Embedding = vec.Slice()
		}
		exemplars = append(exemplars, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list exemplars", err)
	}
	return exemplars, nil
}

// ListImageOccurrences returns every identity found in one image of the event.
func (s *PostgresStore) ListImageOccurrences(ctx context.Context, eventID uuid.UUID, imageID string) ([]models.ImageOccurrence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT o.identity_id, i.display_name, o.box_x, o.box_y, o.box_width, o.box_height
		 FROM occurrences o
		 JOIN identities i ON i.id = o.identity_id
		 WHERE o.event_id = $1 AND o.image_id = $2
		 ORDER BY i.seq, o.id`, eventID, imageID)
	if err != nil {
		return nil, dbError("list image occurrences", err)
	}
	defer rows.Close()

	out := []models.ImageOccurrence{}
	for rows.Next() {
		var occ models.ImageOccurrence
		if err := rows.Scan(&occ.IdentityID, &occ.DisplayName, &occ.Box.X, &occ.Box.Y, &occ.Box.Width, &occ.Box.Height); err != nil {
			return nil, dbError("scan image occurrence", err)
		}
		out = append(out, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list image occurrences", err)
	}
	return out, nil
}

// Stats reports row counts, used by the admin CLI.
func (s *PostgresStore) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 4)
	for _, table := range []string{"users", "events", "identities", "occurrences"} {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, dbError("count "+table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
