package user

// User is the authenticated identity and profile record returned by the
// auth endpoints.
type User struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Avatar          string `json:"avatar,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	Suburb          string `json:"suburb,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	IsEmailVerified bool   `json:"is_email_verified,omitempty"`
}

// Clone returns a copy of u, or nil for a nil receiver.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// DisplayName returns the full name when known, falling back to the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// Editable profile field names, in wire form.
const (
	FieldUsername        = "username"
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldPostalCode      = "postal_code"
	FieldSuburb          = "suburb"
	FieldPhoneNumber     = "phone_number"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldConfirmPassword = "confirm_new_password"
	FieldAvatar          = "avatar"
)

// Fields returns the editable profile values of u keyed by wire name.
// Password fields are never part of a stored profile and are absent.
func (u *User) Fields() map[string]string {
	return map[string]string{
		FieldUsername:    u.Username,
		FieldFirstName:   u.FirstName,
		FieldLastName:    u.LastName,
		FieldPostalCode:  u.PostalCode,
		FieldSuburb:      u.Suburb,
		FieldPhoneNumber: u.PhoneNumber,
	}
}
