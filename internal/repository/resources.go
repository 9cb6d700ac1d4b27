package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pupitre/access/internal/model"
)

const assessmentColumns = `id, school_id, owner_id, title, subject, created_at, updated_at`

func scanAssessment(row pgx.Row) (model.Assessment, error) {
	var a model.Assessment
	err := row.Scan(&a.ID, &a.SchoolID, &a.OwnerID, &a.Title, &a.Subject, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateAssessment(ctx context.Context, actorID string, assessment model.Assessment) error {
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO assessments (id, school_id, owner_id, title, subject, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, assessment.ID, assessment.SchoolID, assessment.OwnerID, assessment.Title, assessment.Subject, assessment.CreatedAt, assessment.UpdatedAt)
		return err
	})
	return storeErr(err)
}

func (s *Store) GetAssessment(ctx context.Context, actorID, assessmentID string) (model.Assessment, error) {
	var assessment model.Assessment
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, assessmentID)
		var err error
		assessment, err = scanAssessment(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assessment{}, model.ErrNotFound
	}
	return assessment, err
}

func (s *Store) ListAssessmentsBySchool(ctx context.Context, actorID, schoolID string, limit int) ([]model.Assessment, error) {
	if limit <= 0 {
		limit = 200
	}
	var assessments []model.Assessment
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+assessmentColumns+`
			FROM assessments
			WHERE school_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, schoolID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			assessment, err := scanAssessment(rows)
			if err != nil {
				return err
			}
			assessments = append(assessments, assessment)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if assessments == nil {
		assessments = []model.Assessment{}
	}
	return assessments, nil
}

type AssessmentUpdate struct {
	Title   *string
	Subject *string
}

func (s *Store) UpdateAssessment(ctx context.Context, actorID, assessmentID string, update AssessmentUpdate) (model.Assessment, error) {
	var assessment model.Assessment
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE assessments
			SET title = COALESCE($2, title),
			    subject = COALESCE($3, subject),
			    updated_at = $4
			WHERE id = $1
			RETURNING `+assessmentColumns+`
		`, assessmentID, update.Title, update.Subject, time.Now().UTC())
		var err error
		assessment, err = scanAssessment(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assessment{}, model.ErrNotFound
	}
	return assessment, storeErr(err)
}

func (s *Store) DeleteAssessment(ctx context.Context, actorID, assessmentID string) (bool, error) {
	var deleted bool
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM assessments WHERE id = $1`, assessmentID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	return deleted, err
}

const projectColumns = `id, school_id, owner_id, name, summary, created_at, updated_at`

func scanProject(row pgx.Row) (model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.SchoolID, &p.OwnerID, &p.Name, &p.Summary, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreateProject(ctx context.Context, actorID string, project model.Project) error {
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO projects (id, school_id, owner_id, name, summary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, project.ID, project.SchoolID, project.OwnerID, project.Name, project.Summary, project.CreatedAt, project.UpdatedAt)
		return err
	})
	return storeErr(err)
}

func (s *Store) GetProject(ctx context.Context, actorID, projectID string) (model.Project, error) {
	var project model.Project
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
		var err error
		project, err = scanProject(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, model.ErrNotFound
	}
	return project, err
}

func (s *Store) ListProjectsBySchool(ctx context.Context, actorID, schoolID string, limit int) ([]model.Project, error) {
	if limit <= 0 {
		limit = 200
	}
	var projects []model.Project
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+projectColumns+`
			FROM projects
			WHERE school_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, schoolID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			project, err := scanProject(rows)
			if err != nil {
				return err
			}
			projects = append(projects, project)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

type ProjectUpdate struct {
	Name    *string
	Summary *string
}

func (s *Store) UpdateProject(ctx context.Context, actorID, projectID string, update ProjectUpdate) (model.Project, error) {
	var project model.Project
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE projects
			SET name = COALESCE($2, name),
			    summary = COALESCE($3, summary),
			    updated_at = $4
			WHERE id = $1
			RETURNING `+projectColumns+`
		`, projectID, update.Name, update.Summary, time.Now().UTC())
		var err error
		project, err = scanProject(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, model.ErrNotFound
	}
	return project, storeErr(err)
}

func (s *Store) DeleteProject(ctx context.Context, actorID, projectID string) (bool, error) {
	var deleted bool
	err := s.WithActor(ctx, actorID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	return deleted, err
}
