package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const avatarFolder = "avatars"

// Cloudinary is a minimal client for the hosted upload API, configured from
// a cloudinary:// URL.
type Cloudinary struct {
	apiKey     string
	apiSecret  string
	uploadURL  string
	httpClient *http.Client
}

type uploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinary(rawURL string) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, fmt.Errorf("invalid cloudinary scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, fmt.Errorf("missing cloudinary api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, fmt.Errorf("invalid cloudinary credentials")
	}

	return &Cloudinary{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		uploadURL: fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/image/upload", cloudName),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

// UploadImage pushes imageSource (a URL or data URI) into the avatars
// folder and returns the asset's public id and serving URL.
func (c *Cloudinary) UploadImage(ctx context.Context, imageSource string) (string, string, error) {
	imageSource = strings.TrimSpace(imageSource)
	if imageSource == "" {
		return "", "", fmt.Errorf("empty image source")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := c.sign(map[string]string{
		"folder":    avatarFolder,
		"timestamp": timestamp,
	})

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		fields := [][2]string{
			{"file", imageSource},
			{"folder", avatarFolder},
			{"timestamp", timestamp},
			{"api_key", c.apiKey},
			{"signature", signature},
		}
		for _, field := range fields {
			if err := writer.WriteField(field[0], field[1]); err != nil {
				_ = pw.CloseWithError(fmt.Errorf("write %s field: %w", field[0], err))
				return
			}
		}
		if err := writer.Close(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("close multipart writer: %w", err))
			return
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		return "", "", fmt.Errorf("build cloudinary upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("cloudinary upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", "", fmt.Errorf("read cloudinary response: %w", err)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("decode cloudinary response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", "", fmt.Errorf("cloudinary upload failed: %s", parsed.Error.Message)
		}
		return "", "", fmt.Errorf("cloudinary upload failed with status %d", resp.StatusCode)
	}

	if parsed.PublicID == "" || parsed.SecureURL == "" {
		return "", "", fmt.Errorf("cloudinary response missing public_id or secure_url")
	}

	return parsed.PublicID, parsed.SecureURL, nil
}

// sign computes the API signature: signed params sorted by key, joined
// with &, followed by the secret.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	h := sha1.New() // #nosec G401: cloudinary API signature requires SHA-1.
	_, _ = h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(h.Sum(nil))
}
