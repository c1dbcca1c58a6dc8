package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
)

func (c *Client) profileFailure(op string, resp response) error {
	msg := serverMessage(resp.body, "")
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		if msg == "" {
			msg = "Unauthorized"
		}
		return &AuthError{Status: resp.status, Message: msg}
	}
	return &RequestError{Op: op, Status: resp.status, Message: msg}
}

func requireToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return &AuthError{Status: http.StatusUnauthorized, Message: "not logged in"}
	}
	return nil
}

// GetProfile returns the profile of the token's owner.
func (c *Client) GetProfile(ctx context.Context, token string) (profile.Profile, error) {
	if err := requireToken(token); err != nil {
		return profile.Profile{}, err
	}

	resp, err := c.doJSON(ctx, "get profile", http.MethodGet, "/api/profile/", token, nil)
	if err != nil {
		return profile.Profile{}, err
	}
	if !resp.ok() {
		return profile.Profile{}, c.profileFailure("get profile", resp)
	}

	var out profile.Profile
	if err := resp.decode("get profile", &out); err != nil {
		return profile.Profile{}, err
	}
	return out, nil
}

// UpdateProfile changes nickname and bio. Empty fields are left as they are.
func (c *Client) UpdateProfile(ctx context.Context, token string, req profile.UpdateRequest) (profile.Profile, error) {
	if err := requireToken(token); err != nil {
		return profile.Profile{}, err
	}

	resp, err := c.doJSON(ctx, "update profile", http.MethodPut, "/api/profile/", token, req)
	if err != nil {
		return profile.Profile{}, err
	}
	if !resp.ok() {
		return profile.Profile{}, c.profileFailure("update profile", resp)
	}

	var out profile.UpdateResponse
	if err := resp.decode("update profile", &out); err != nil {
		return profile.Profile{}, err
	}
	return out.Profile, nil
}

// ChangePassword replaces the account password.
func (c *Client) ChangePassword(ctx context.Context, token, current, next string) error {
	if err := requireToken(token); err != nil {
		return err
	}
	body := profile.PasswordChange{CurrentPassword: current, NewPassword: next}
	if err := validateStruct(body); err != nil {
		return err
	}

	resp, err := c.doJSON(ctx, "change password", http.MethodPut, "/api/profile/password", token, body)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return c.profileFailure("change password", resp)
	}
	return nil
}

// UploadAvatar sends an image as the avatar and returns its new URL. The image is
// checked for size and type before anything is sent.
func (c *Client) UploadAvatar(ctx context.Context, token, filename string, r io.Reader) (string, error) {
	if err := requireToken(token); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, profile.MaxAvatarSize+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	contentType, err := CheckAvatar(data)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		profile.AvatarFormField, filepath.Base(filename)))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build avatar form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build avatar form: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("build avatar form: %w", err)
	}

	resp, err := c.do(ctx, "upload avatar", http.MethodPost, c.endpoint("/api/profile/avatar", nil),
		token, form.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", c.profileFailure("upload avatar", resp)
	}

	var out profile.UpdateResponse
	if err := resp.decode("upload avatar", &out); err != nil {
		return "", err
	}
	if out.AvatarURL == "" {
		out.AvatarURL = out.Profile.Avatar
	}
	return out.AvatarURL, nil
}

// FetchUserProfile returns another user's public profile.
func (c *Client) FetchUserProfile(ctx context.Context, username string) (profile.Profile, error) {
	if strings.TrimSpace(username) == "" {
		return profile.Profile{}, &ValidationError{Field: "username", Message: "username is required"}
	}

	path := "/api/users/" + username + "/profile"
	resp, err := c.doJSON(ctx, "fetch user profile", http.MethodGet, path, "", nil)
	if err != nil {
		return profile.Profile{}, err
	}
	if !resp.ok() {
		return profile.Profile{}, c.profileFailure("fetch user profile", resp)
	}

	var out profile.Profile
	if err := resp.decode("fetch user profile", &out); err != nil {
		return profile.Profile{}, err
	}
	return out, nil
}
