package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, full_name, email, password_hash, refresh_token, reset_token, reset_token_expires_at, created_at, updated_at`

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}

	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}

	return u, nil
}

func (r *Repository) Create(ctx context.Context, fullName, email, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()

	var u User
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, full_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+userColumns+`
	`, id.String(), fullName, email, passwordHash, now).Scan(
		&u.ID, &u.FullName, &u.Email, &u.PasswordHash,
		&u.RefreshToken, &u.ResetToken, &u.ResetTokenExpiresAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

// UpdateRefreshToken overwrites the single refresh-token slot in one
// statement; passing nil clears it. Last writer wins.
func (r *Repository) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $2, updated_at = $3
		WHERE id = $1
	`, id, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}

	return nil
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) UpdateAccount(ctx context.Context, id, fullName, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = $2, email = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, fullName, email, time.Now().UTC())

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("update account: %w", err)
	}

	return u, nil
}

func (r *Repository) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET reset_token = $2, reset_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id, token, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}

	return nil
}

// ClearExpiredResetTokens reaps reset tokens whose expiry has passed.
// Called from the maintenance endpoint.
func (r *Repository) ClearExpiredResetTokens(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM users
			WHERE reset_token IS NOT NULL
			  AND reset_token_expires_at < NOW()
			ORDER BY reset_token_expires_at ASC
			LIMIT $1
		)
		UPDATE users u
		SET reset_token = NULL, reset_token_expires_at = NULL
		FROM expired
		WHERE u.id = expired.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired reset tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) UpsertProfile(ctx context.Context, userID string, input ProfileInput) (Profile, error) {
	now := time.Now().UTC()

	var p Profile
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_profiles (
			user_id, avatar_public_id, avatar_url, description,
			facebook_link, github_link, twitter_link, instagram_link,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			avatar_public_id = EXCLUDED.avatar_public_id,
			avatar_url = EXCLUDED.avatar_url,
			description = EXCLUDED.description,
			facebook_link = EXCLUDED.facebook_link,
			github_link = EXCLUDED.github_link,
			twitter_link = EXCLUDED.twitter_link,
			instagram_link = EXCLUDED.instagram_link,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, avatar_public_id, avatar_url, description,
			facebook_link, github_link, twitter_link, instagram_link,
			created_at, updated_at
	`, userID, input.AvatarPublicID, input.AvatarURL, input.Description,
		input.FacebookLink, input.GithubLink, input.TwitterLink, input.InstagramLink, now,
	).Scan(
		&p.UserID, &p.AvatarPublicID, &p.AvatarURL, &p.Description,
		&p.FacebookLink, &p.GithubLink, &p.TwitterLink, &p.InstagramLink,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("upsert user profile: %w", err)
	}

	return p, nil
}

func (r *Repository) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, avatar_public_id, avatar_url, description,
			facebook_link, github_link, twitter_link, instagram_link,
			created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &p.AvatarPublicID, &p.AvatarURL, &p.Description,
		&p.FacebookLink, &p.GithubLink, &p.TwitterLink, &p.InstagramLink,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("query user profile: %w", err)
	}

	return p, nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.FullName, &u.Email, &u.PasswordHash,
		&u.RefreshToken, &u.ResetToken, &u.ResetTokenExpiresAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
