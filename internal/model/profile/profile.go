package profile

import "time"

// MaxAvatarSize is the largest avatar upload accepted, in bytes.
const MaxAvatarSize = 5 << 20

// MinPasswordLength is the minimum length of a new password.
const MinPasswordLength = 6

// AvatarFormField is the multipart field carrying the avatar image.
const AvatarFormField = "avatar"

// AllowedAvatarTypes lists the image MIME types accepted for avatars.
var AllowedAvatarTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

// Profile describes a user as the profile endpoints return it.
type Profile struct {
	Username   string    `json:"username"`
	Nickname   string    `json:"nickname"`
	Avatar     string    `json:"avatar"`
	Bio        string    `json:"bio"`
	LastActive time.Time `json:"last_active,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// DisplayName prefers the nickname.
func (p Profile) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Username
}

// UpdateRequest carries editable profile fields. Empty fields are left unchanged.
type UpdateRequest struct {
	Nickname string `json:"nickname"`
	Bio      string `json:"bio"`
	Avatar   string `json:"avatar,omitempty"`
}

// PasswordChange is the body of a password change request.
type PasswordChange struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// UpdateResponse wraps the profile returned by update and avatar upload.
type UpdateResponse struct {
	Message   string  `json:"message"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Profile   Profile `json:"profile"`
}
