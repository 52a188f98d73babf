package user

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	maxJSONBodyBytes   = 1 << 20
	maxAvatarSizeBytes = 5 << 20
	minPasswordLength  = 8
	maxPasswordLength  = 200

	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

// AvatarUploader pushes an image to the hosted media service and returns
// its public id and serving URL.
type AvatarUploader interface {
	UploadImage(ctx context.Context, imageSource string) (publicID, secureURL string, err error)
}

type Handler struct {
	service  *Service
	uploader AvatarUploader
}

func NewHandler(service *Service, uploader AvatarUploader) *Handler {
	return &Handler{service: service, uploader: uploader}
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type updateAccountRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type sessionResponse struct {
	User   Public `json:"user"`
	Tokens Tokens `json:"tokens"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.FullName = strings.TrimSpace(body.FullName)
	body.Email = strings.TrimSpace(body.Email)
	body.Password = strings.TrimSpace(body.Password)

	if body.FullName == "" || body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "full_name, email and password are required")
		return
	}
	if !utf8.ValidString(body.FullName) || len(body.FullName) > 100 {
		writeError(w, http.StatusBadRequest, "full_name is invalid")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if len(body.Password) < minPasswordLength || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	u, tokens, err := h.service.Register(r.Context(), body.FullName, body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	setSessionCookies(w, tokens)
	writeJSON(w, http.StatusCreated, sessionResponse{User: u.Public(), Tokens: tokens})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	body.Password = strings.TrimSpace(body.Password)
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, tokens, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	setSessionCookies(w, tokens)
	writeJSON(w, http.StatusOK, sessionResponse{User: u.Public(), Tokens: tokens})
}

// Refresh accepts the refresh token from the cookie or, failing that, the
// request body, and rotates the pair.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		raw = cookie.Value
	}
	if raw == "" {
		var body refreshRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		raw = body.RefreshToken
	}

	tokens, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	setSessionCookies(w, tokens)
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	if err := h.service.RevokeSession(r.Context(), userID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.OldPassword = strings.TrimSpace(body.OldPassword)
	body.NewPassword = strings.TrimSpace(body.NewPassword)
	if body.OldPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "old_password and new_password are required")
		return
	}
	if len(body.NewPassword) < minPasswordLength || len(body.NewPassword) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "new_password format is invalid")
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, body.OldPassword, body.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	// The session manager revoked the refresh token; drop the cookies too.
	clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var body updateAccountRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.FullName = strings.TrimSpace(body.FullName)
	body.Email = strings.TrimSpace(body.Email)
	if body.FullName == "" || body.Email == "" {
		writeError(w, http.StatusBadRequest, "full_name and email are required")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	u, err := h.service.UpdateAccount(r.Context(), userID, body.FullName, body.Email)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}

	writeJSON(w, http.StatusOK, u.Public())
}

// ForgotPassword answers identically whether or not the email is
// registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.service.InitiatePasswordReset(r.Context(), body.Email); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to initiate password reset")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the account exists, a reset link will be sent",
	})
}

func (h *Handler) SetupProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "avatar uploader is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAvatarSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read avatar file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "avatar file is empty")
		return
	}
	if len(data) > maxAvatarSizeBytes {
		writeError(w, http.StatusBadRequest, "avatar file is too large")
		return
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadRequest, "avatar must be an image")
		return
	}

	imageSource := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	publicID, secureURL, err := h.uploader.UploadImage(r.Context(), imageSource)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload avatar")
		return
	}

	input := ProfileInput{
		AvatarPublicID: publicID,
		AvatarURL:      secureURL,
		Description:    strings.TrimSpace(r.FormValue("description")),
		FacebookLink:   strings.TrimSpace(r.FormValue("facebook_link")),
		GithubLink:     strings.TrimSpace(r.FormValue("github_link")),
		TwitterLink:    strings.TrimSpace(r.FormValue("twitter_link")),
		InstagramLink:  strings.TrimSpace(r.FormValue("instagram_link")),
	}
	if len(input.Description) > 1000 {
		writeError(w, http.StatusBadRequest, "description is too long")
		return
	}

	profile, err := h.service.SaveProfile(r.Context(), userID, input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func setSessionCookies(w http.ResponseWriter, tokens Tokens) {
	http.SetCookie(w, sessionCookie(accessCookieName, tokens.AccessToken, 0))
	http.SetCookie(w, sessionCookie(refreshCookieName, tokens.RefreshToken, 0))
}

func clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, sessionCookie(accessCookieName, "", -1))
	http.SetCookie(w, sessionCookie(refreshCookieName, "", -1))
}

func sessionCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
