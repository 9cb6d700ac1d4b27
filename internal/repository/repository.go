// Package repository is the pgx-backed store. Every row-level statement
// runs inside an actor-scoped transaction: WithActor binds app.actor_id
// for the transaction, and the installed row policies filter from there.
// The application asserts only the actor's identity; the database looks
// up role and school itself.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pupitre/access/internal/model"
	"pupitre/access/internal/rowfilter"
)

// storeErr translates database failures into the store's error
// vocabulary. 42501 is insufficient_privilege, which is what a row
// policy WITH CHECK raises when a write lands outside the actor's
// scope.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42501" {
		return model.ErrForbidden
	}
	return err
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithActor runs fn inside a transaction with the actor identity bound.
// set_config with is_local=true scopes the setting to the transaction,
// so no actor leaks across pooled connections.
func (s *Store) WithActor(ctx context.Context, actorID string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.actor_id', $1, true)`, actorID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// InstallRowPolicies applies the generated row-filter declarations. This
// is a migration step: run at deploy time, never per request.
func (s *Store) InstallRowPolicies(ctx context.Context) error {
	for _, stmt := range rowfilter.InstallStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const profileColumns = `id, email, first_name, last_name, role, school_id, created_at, updated_at`

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	var role string
	err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &role, &p.SchoolID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Profile{}, err
	}
	parsed, err := model.ParseRole(role)
	if err != nil {
		return model.Profile{}, err
	}
	p.Role = parsed
	return p, nil
}

// GetProfile reads a profile as the given actor. The baseline self
// policy makes an actor's own row visible even before its role is
// known, which is what lets the middleware bootstrap resolution.
func (s *Store) GetProfile(ctx context.Context, actorID, profileID string) (model.Profile, error) {
	var profile model.Profile
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID)
		var err error
		profile, err = scanProfile(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Filtered-to-invisible and genuinely absent are the same answer.
		return model.Profile{}, model.ErrNotFound
	}
	return profile, err
}

func (s *Store) ListProfilesBySchool(ctx context.Context, actorID, schoolID string, limit int) ([]model.Profile, error) {
	if limit <= 0 {
		limit = 200
	}
	var profiles []model.Profile
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+profileColumns+`
			FROM profiles
			WHERE school_id = $1
			ORDER BY last_name, first_name
			LIMIT $2
		`, schoolID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			profile, err := scanProfile(rows)
			if err != nil {
				return err
			}
			profiles = append(profiles, profile)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	return profiles, nil
}

// ProfileUpdate carries the mutable display attributes. Role and school
// are deliberately absent: those change through provisioning, not
// through profile edits.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
}

func (s *Store) UpdateProfile(ctx context.Context, actorID, profileID string, update ProfileUpdate) (model.Profile, error) {
	var profile model.Profile
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE profiles
			SET email = COALESCE($2, email),
			    first_name = COALESCE($3, first_name),
			    last_name = COALESCE($4, last_name),
			    updated_at = $5
			WHERE id = $1
			RETURNING `+profileColumns+`
		`, profileID, update.Email, update.FirstName, update.LastName, time.Now().UTC())
		var err error
		profile, err = scanProfile(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, model.ErrNotFound
	}
	return profile, storeErr(err)
}
