package auth

import (
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/user"
)

const (
	minUsername = 3
	minPassword = 6

	// MaxAvatarSize is the largest accepted avatar upload.
	MaxAvatarSize = 5 << 20
)

var (
	emailRe      = regexp.MustCompile(`\S+@\S+\.\S+`)
	phoneRe      = regexp.MustCompile(`^\d{10}$`)
	postalCodeRe = regexp.MustCompile(`^\d{4,5}$`)

	avatarTypes = []string{"image/jpeg", "image/png", "image/gif"}
)

// Register form field names, in wire form.
const (
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldPassword2 = "password2"
	FieldToken     = "token"
)

// RegisterForm is the registration payload.
type RegisterForm struct {
	Username  string
	Email     string
	Password  string
	Password2 string
	FirstName string
	LastName  string
}

// Validate checks the form without touching the network.
func (f RegisterForm) Validate() error {
	v := &apierr.ValidationError{}
	validateUsername(v, f.Username)
	validateEmail(v, f.Email)
	validatePassword(v, FieldPassword, f.Password)
	if f.Password != f.Password2 {
		v.Add(FieldPassword2, "Passwords do not match")
	}
	validateNames(v, f.FirstName, f.LastName)
	return v.Err()
}

// Credentials is the login payload.
type Credentials struct {
	Email    string
	Password string
}

// Validate checks email shape and password length.
func (c Credentials) Validate() error {
	v := &apierr.ValidationError{}
	validateEmail(v, c.Email)
	validatePassword(v, FieldPassword, c.Password)
	return v.Err()
}

// Avatar is a newly attached profile image.
type Avatar struct {
	Filename string
	Data     []byte
}

// ContentType returns the sniffed MIME type of the image data.
func (a *Avatar) ContentType() string {
	return mimetype.Detect(a.Data).String()
}

func (a *Avatar) validate(v *apierr.ValidationError) {
	if a == nil {
		return
	}
	mt := mimetype.Detect(a.Data)
	if !mimetype.EqualsAny(mt.String(), avatarTypes...) {
		v.Add(user.FieldAvatar, "Please upload a valid image file (JPEG, PNG, or GIF)")
		return
	}
	if len(a.Data) > MaxAvatarSize {
		v.Add(user.FieldAvatar, "Image file size must be less than 5MB")
	}
}

// ProfileEdit holds the edited profile. Nil fields keep the current value.
type ProfileEdit struct {
	Username    *string
	FirstName   *string
	LastName    *string
	PostalCode  *string
	Suburb      *string
	PhoneNumber *string

	CurrentPassword string
	NewPassword     string
	ConfirmPassword string

	Avatar *Avatar
}

func (e ProfileEdit) values() map[string]string {
	out := make(map[string]string)
	for name, p := range map[string]*string{
		user.FieldUsername:    e.Username,
		user.FieldFirstName:   e.FirstName,
		user.FieldLastName:    e.LastName,
		user.FieldPostalCode:  e.PostalCode,
		user.FieldSuburb:      e.Suburb,
		user.FieldPhoneNumber: e.PhoneNumber,
	} {
		if p != nil {
			out[name] = strings.TrimSpace(*p)
		}
	}
	return out
}

// validate checks the profile that would result from applying e to base.
func (e ProfileEdit) validate(base *user.User) error {
	merged := base.Fields()
	for k, val := range e.values() {
		merged[k] = val
	}

	v := &apierr.ValidationError{}
	validateUsername(v, merged[user.FieldUsername])
	validateNames(v, merged[user.FieldFirstName], merged[user.FieldLastName])
	if phone := merged[user.FieldPhoneNumber]; phone != "" && !phoneRe.MatchString(phone) {
		v.Add(user.FieldPhoneNumber, "Please enter a valid 10-digit phone number")
	}
	if code := merged[user.FieldPostalCode]; code != "" && !postalCodeRe.MatchString(code) {
		v.Add(user.FieldPostalCode, "Please enter a valid postal code")
	}
	if e.NewPassword != "" {
		if e.CurrentPassword == "" {
			v.Add(user.FieldCurrentPassword, "Current password is required to set new password")
		}
		if len(e.NewPassword) < minPassword {
			v.Add(user.FieldNewPassword, "New password must be at least 6 characters")
		}
		if e.ConfirmPassword != e.NewPassword {
			v.Add(user.FieldConfirmPassword, "Passwords do not match")
		}
	}
	e.Avatar.validate(v)
	return v.Err()
}

// diff returns the wire fields of e that differ from base. Cleared values are
// never sent so an omitted field cannot wipe a server-side value.
func (e ProfileEdit) diff(base *user.User) map[string]string {
	current := base.Fields()
	changed := make(map[string]string)
	for k, val := range e.values() {
		if val != "" && val != current[k] {
			changed[k] = val
		}
	}
	if e.NewPassword != "" {
		changed[user.FieldCurrentPassword] = e.CurrentPassword
		changed[user.FieldNewPassword] = e.NewPassword
		changed[user.FieldConfirmPassword] = e.ConfirmPassword
	}
	return changed
}

func validateUsername(v *apierr.ValidationError, username string) {
	switch username = strings.TrimSpace(username); {
	case username == "":
		v.Add(user.FieldUsername, "Username is required")
	case len(username) < minUsername:
		v.Add(user.FieldUsername, "Username must be at least 3 characters")
	}
}

func validateEmail(v *apierr.ValidationError, email string) {
	switch {
	case strings.TrimSpace(email) == "":
		v.Add(FieldEmail, "Email is required")
	case !emailRe.MatchString(email):
		v.Add(FieldEmail, "Email is invalid")
	}
}

func validatePassword(v *apierr.ValidationError, field, password string) {
	switch {
	case password == "":
		v.Add(field, "Password is required")
	case len(password) < minPassword:
		v.Add(field, "Password must be at least 6 characters")
	}
}

func validateNames(v *apierr.ValidationError, first, last string) {
	if strings.TrimSpace(first) == "" {
		v.Add(user.FieldFirstName, "First name is required")
	}
	if strings.TrimSpace(last) == "" {
		v.Add(user.FieldLastName, "Last name is required")
	}
}
