package user

import "time"

type User struct {
	ID                  string
	FullName            string
	Email               string
	PasswordHash        string
	RefreshToken        *string
	ResetToken          *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Public is the JSON shape of a user with credentials stripped.
type Public struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Public() Public {
	return Public{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Profile struct {
	UserID         string    `json:"user_id"`
	AvatarPublicID string    `json:"avatar_public_id"`
	AvatarURL      string    `json:"avatar_url"`
	Description    string    `json:"description"`
	FacebookLink   string    `json:"facebook_link"`
	GithubLink     string    `json:"github_link"`
	TwitterLink    string    `json:"twitter_link"`
	InstagramLink  string    `json:"instagram_link"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProfileInput struct {
	AvatarPublicID string
	AvatarURL      string
	Description    string
	FacebookLink   string
	GithubLink     string
	TwitterLink    string
	InstagramLink  string
}
