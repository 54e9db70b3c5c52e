package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/user"
)

var _ user.Repository = (*userRepository)(nil)

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

type userRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Username  string         `db:"username"`
	Email     string         `db:"email"`
	IsActive  bool           `db:"is_active"`
	Roles     pq.StringArray `db:"roles"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (row userRow) toUser() user.User {
	isActive := row.IsActive
	return user.User{
		ID:        row.ID,
		Name:      row.Name,
		Username:  row.Username,
		Email:     row.Email,
		IsActive:  &isActive,
		Roles:     row.Roles,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

const userColumns = `id, name, username, email, is_active, roles, created_at, updated_at`

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	isActive := true
	if usr.IsActive != nil {
		isActive = *usr.IsActive
	}
	query := `INSERT INTO "user" (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := ext(repo.db, exec).ExecContext(ctx, query,
		usr.ID, usr.Name, usr.Username, usr.Email, isActive, pq.StringArray(usr.Roles), usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error) {
	return repo.get(ctx, `SELECT `+userColumns+` FROM "user" WHERE id = $1`, exec, id)
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string, exec ...core.DBExecutor) (user.User, error) {
	return repo.get(ctx, `SELECT `+userColumns+` FROM "user" WHERE username = $1`, exec, username)
}

func (repo *userRepository) get(ctx context.Context, query string, exec []core.DBExecutor, args ...interface{}) (user.User, error) {
	var row userRow
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter *user.QueryFilter, exec ...core.DBExecutor) ([]user.User, error) {
	query := `SELECT ` + userColumns + ` FROM "user"`
	var (
		clauses []string
		args    []interface{}
	)
	if filter != nil {
		if filter.Search != "" {
			args = append(args, "%"+filter.Search+"%")
			n := itoa(len(args))
			clauses = append(clauses, `(name ILIKE $`+n+` OR username ILIKE $`+n+` OR email ILIKE $`+n+`)`)
		}
		if len(filter.Roles) > 0 {
			args = append(args, pq.StringArray(filter.Roles))
			clauses = append(clauses, `roles && $`+itoa(len(args)))
		}
		if filter.IsActive != nil {
			args = append(args, *filter.IsActive)
			clauses = append(clauses, `is_active = $`+itoa(len(args)))
		}
	}
	query += where(clauses) + ` ORDER BY name, id`

	var rows []userRow
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	users := make([]user.User, len(rows))
	for i, row := range rows {
		users[i] = row.toUser()
	}
	return users, nil
}
