package user

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// fakeStore is an in-memory Store used by service and handler tests.
// Failure toggles simulate the durable-write errors the Postgres
// repository can return.
type fakeStore struct {
	users    map[string]*User
	profiles map[string]Profile

	failUpdateRefreshToken error
	failGetByID            error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*User),
		profiles: make(map[string]Profile),
	}
}

func (f *fakeStore) GetByEmail(ctx context.Context, email string) (User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (User, error) {
	if f.failGetByID != nil {
		return User{}, f.failGetByID
	}
	u, ok := f.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return *u, nil
}

func (f *fakeStore) Create(ctx context.Context, fullName, email, passwordHash string) (User, error) {
	if _, err := f.GetByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	}

	now := time.Now().UTC()
	u := &User{
		ID:           fmt.Sprintf("user-%d", len(f.users)+1),
		FullName:     fullName,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[u.ID] = u
	return *u, nil
}

func (f *fakeStore) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	if f.failUpdateRefreshToken != nil {
		return f.failUpdateRefreshToken
	}
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	if token == nil {
		u.RefreshToken = nil
	} else {
		value := *token
		u.RefreshToken = &value
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) UpdateAccount(ctx context.Context, id, fullName, email string) (User, error) {
	u, ok := f.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	for otherID, other := range f.users {
		if otherID != id && other.Email == email {
			return User{}, ErrEmailTaken
		}
	}
	u.FullName = fullName
	u.Email = email
	u.UpdatedAt = time.Now().UTC()
	return *u, nil
}

func (f *fakeStore) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	u.ResetToken = &token
	u.ResetTokenExpiresAt = &expiresAt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) UpsertProfile(ctx context.Context, userID string, input ProfileInput) (Profile, error) {
	now := time.Now().UTC()
	p, ok := f.profiles[userID]
	if !ok {
		p = Profile{UserID: userID, CreatedAt: now}
	}
	p.AvatarPublicID = input.AvatarPublicID
	p.AvatarURL = input.AvatarURL
	p.Description = input.Description
	p.FacebookLink = input.FacebookLink
	p.GithubLink = input.GithubLink
	p.TwitterLink = input.TwitterLink
	p.InstagramLink = input.InstagramLink
	p.UpdatedAt = now
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return Profile{}, sql.ErrNoRows
	}
	return p, nil
}
