package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/user"
)

const userColumns = `id, name, username, email, phone, is_active, roles, password_hash, verification_status, created_at, updated_at, last_login`

type userRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	Username           null.String    `db:"username"`
	Email              null.String    `db:"email"`
	Phone              string         `db:"phone"`
	IsActive           bool           `db:"is_active"`
	Roles              pq.StringArray `db:"roles"`
	PasswordHash       null.Bytes     `db:"password_hash"`
	VerificationStatus string         `db:"verification_status"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	LastLogin          null.Time      `db:"last_login"`
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo userRepository) toRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	status := usr.VerificationStatus
	if status == "" {
		status = user.VerificationUnverified
	}
	return userRow{
		ID:                 usr.ID,
		Name:               usr.Name,
		Username:           null.NewString(usr.Username, usr.Username != ""),
		Email:              null.NewString(usr.Email, usr.Email != ""),
		Phone:              usr.Phone,
		IsActive:           usr.Active(),
		Roles:              roles,
		PasswordHash:       null.NewBytes(usr.PasswordHash, usr.PasswordHash != nil),
		VerificationStatus: status,
		CreatedAt:          usr.CreatedAt.UTC(),
		UpdatedAt:          usr.UpdatedAt.UTC(),
		LastLogin:          null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	usr := user.User{
		ID:                 row.ID,
		Name:               row.Name,
		Username:           row.Username.String,
		Email:              row.Email.String,
		Phone:              row.Phone,
		Roles:              row.Roles,
		VerificationStatus: row.VerificationStatus,
		PasswordHash:       row.PasswordHash.Bytes,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
		LastLogin:          row.LastLogin.Time.UTC(),
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	usr.SetActive(row.IsActive)
	return usr
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	w := new(where)
	w.add("(username = " + w.arg(null.NewString(username, username != "")) +
		" OR email = " + w.arg(null.NewString(email, email != "")) + ")")
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		w.add("NOT (id = ANY(" + w.arg(pq.Array(validUUIDs(ids))) + "::uuid[]))")
	}

	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "user"` + w.String() + ` LIMIT 2`
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username.String == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := repo.toRow(usr)
	q := `INSERT INTO "user" (` + userColumns + `) VALUES (:id, :name, :username, :email, :phone, :is_active, :roles, ` +
		`:password_hash, :verification_status, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	w := new(where)
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := w.arg("%" + filter.Search + "%")
			w.add("(name ILIKE " + val + " OR username ILIKE " + val + " OR email ILIKE " + val + ")")
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleConds := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleConds = append(roleConds, "EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE "+w.arg(role+"%")+")")
			}
			w.add("(" + strings.Join(roleConds, " OR ") + ")")
		}
		if filter.IsActive != nil {
			w.add("is_active = " + w.arg(*filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= " + w.arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= " + w.arg(filter.CreatedTo.UTC()))
		}
	}

	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "user"` + w.String() + orderBy(ordering, "created_at ASC")
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	w := new(where)
	switch {
	case filter.ID != "":
		if !isUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		w.add("id = " + w.arg(filter.ID))
	case filter.Username != "":
		w.add("username = " + w.arg(filter.Username))
	case filter.Email != "":
		w.add("email = " + w.arg(filter.Email))
	case filter.UsernameOrEmail != "":
		val := w.arg(filter.UsernameOrEmail)
		w.add("(username = " + val + " OR email = " + val + ")")
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := `SELECT ` + userColumns + ` FROM "user"` + w.String() + ` LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, w.args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := repo.toRow(usr)
	q := `UPDATE "user" SET name = :name, username = :username, email = :email, phone = :phone, is_active = :is_active, ` +
		`roles = :roles, password_hash = :password_hash, verification_status = :verification_status, ` +
		`updated_at = :updated_at, last_login = :last_login WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if err = checkAffected(res, user.ErrNotFound, "updating user"); err != nil {
		return user.User{}, err
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) SetVerificationStatus(ctx context.Context, id, status string) error {
	if !isUUID(id) {
		return user.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE "user" SET verification_status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "setting verification status")
	}
	return checkAffected(res, user.ErrNotFound, "setting verification status")
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting users")
}
