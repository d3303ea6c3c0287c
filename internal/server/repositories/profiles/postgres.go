package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
)

// table describes where one profile variant is stored.
type table struct {
	name       string
	nameColumn string
}

var tables = map[models.Role]table{
	models.RoleConsumer: {name: "consumer_profiles", nameColumn: "fullname"},
	models.RoleMarket:   {name: "market_profiles", nameColumn: "market_name"},
}

func tableFor(role models.Role) (table, error) {
	t, ok := tables[role]
	if !ok {
		return table{}, models.ErrUnknownRole
	}
	return t, nil
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	t, err := tableFor(p.Role)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (user_id, %s, city, district)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`, t.name, t.nameColumn)

	if err := r.db.QueryRowContext(ctx, query, p.UserID, p.Name, p.City, p.District).Scan(&p.ID); err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, role models.Role, userID string) (*models.Profile, error) {
	t, err := tableFor(role)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT id, user_id, %s, city, district, image FROM %s
		 WHERE user_id = $1`, t.nameColumn, t.name)

	p := &models.Profile{Role: role}
	var image sql.NullString
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.City, &p.District, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.Image = image.String
	return p, nil
}

func (r *PostgresRepository) Update(ctx context.Context, p *models.Profile) error {
	t, err := tableFor(p.Role)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE %s SET %s = $2, city = $3, district = $4, updated_at = NOW()
		 WHERE user_id = $1`, t.name, t.nameColumn)

	return r.execOne(ctx, query, p.UserID, p.Name, p.City, p.District)
}

func (r *PostgresRepository) SetImage(ctx context.Context, role models.Role, userID string, image string) error {
	t, err := tableFor(role)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE %s SET image = $2, updated_at = NOW()
		 WHERE user_id = $1`, t.name)

	return r.execOne(ctx, query, userID, image)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
