package model

// UserType is the marketplace role of a user.
type UserType string

const (
	UserTypeOwner  UserType = "owner"
	UserTypeSitter UserType = "sitter"
)

// PublicProfile is the projection of a user shown next to messages and conversations.
type PublicProfile struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ProfilePicture string   `json:"profilePicture,omitempty"`
	UserType       UserType `json:"userType"`
}

// UserIdentity is the authenticated caller, as returned by credential verification.
type UserIdentity struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Role        UserType `json:"role"`
}

// Profile converts the identity to its public projection.
func (u *UserIdentity) Profile() *PublicProfile {
	return &PublicProfile{
		ID:             u.ID,
		Name:           u.DisplayName,
		ProfilePicture: u.AvatarURL,
		UserType:       u.Role,
	}
}

// Location is a GeoJSON point, [longitude, latitude].
type Location struct {
	Coordinates [2]float64 `json:"coordinates"`
}
