package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/session"
	"github.com/xenking/shopwise/internal/domain/user"
	"github.com/xenking/shopwise/internal/storage/memstore"
)

// --- Mock implementations ---

type updateCall struct {
	token  string
	fields map[string]string
	avatar *Avatar
}

type mockAPI struct {
	mu sync.Mutex

	loginResult *LoginResult
	loginErr    error
	loginCalls  int

	registerErr   error
	registerCalls int

	verifyMsg string
	verifyErr error

	profile      *user.User
	profileErr   error
	profileCalls int

	updateErr error
	updates   []updateCall

	resetCalls int
}

func (m *mockAPI) Login(_ context.Context, _, _ string) (*LoginResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCalls++
	return m.loginResult, m.loginErr
}

func (m *mockAPI) Register(_ context.Context, _ RegisterForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls++
	return m.registerErr
}

func (m *mockAPI) VerifyEmail(_ context.Context, _ string) (string, error) {
	return m.verifyMsg, m.verifyErr
}

func (m *mockAPI) FetchProfile(_ context.Context, _ string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileCalls++
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	return m.profile.Clone(), nil
}

func (m *mockAPI) UpdateProfile(_ context.Context, token string, fields map[string]string, avatar *Avatar) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, updateCall{token: token, fields: fields, avatar: avatar})
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	u := m.profile.Clone()
	if v, ok := fields[user.FieldFirstName]; ok {
		u.FirstName = v
	}
	if v, ok := fields[user.FieldSuburb]; ok {
		u.Suburb = v
	}
	m.profile = u
	return u.Clone(), nil
}

func (m *mockAPI) RequestPasswordReset(_ context.Context, _ string) (string, error) {
	m.resetCalls++
	return "Password reset email sent", nil
}

// --- Helpers ---

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	gifHeader = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00")
)

func testProfile() *user.User {
	return &user.User{
		ID:        1,
		Username:  "user",
		Email:     "user@test.com",
		FirstName: "Test",
		LastName:  "User",
		Suburb:    "Rondebosch",
	}
}

func loggedIn(t *testing.T, api *mockAPI) (*Gateway, *session.Store) {
	t.Helper()
	store := session.New(memstore.New(), session.IdentityFetcherFunc(api.FetchProfile))
	require.NoError(t, store.Login(context.Background(), testProfile(), "tok"))
	return NewGateway(GatewayConfig{}, api, store), store
}

func strPtr(s string) *string { return &s }

// --- Tests ---

func TestRegister_Validation(t *testing.T) {
	valid := RegisterForm{
		Username:  "user",
		Email:     "user@test.com",
		Password:  "secret1",
		Password2: "secret1",
		FirstName: "Test",
		LastName:  "User",
	}

	tests := []struct {
		name   string
		modify func(f *RegisterForm)
		field  string
		msg    string
	}{
		{"mismatched password2", func(f *RegisterForm) { f.Password2 = "secret2" }, FieldPassword2, "Passwords do not match"},
		{"short username", func(f *RegisterForm) { f.Username = "ab" }, user.FieldUsername, "Username must be at least 3 characters"},
		{"empty username", func(f *RegisterForm) { f.Username = "  " }, user.FieldUsername, "Username is required"},
		{"bad email", func(f *RegisterForm) { f.Email = "user@test" }, FieldEmail, "Email is invalid"},
		{"short password", func(f *RegisterForm) { f.Password, f.Password2 = "abc", "abc" }, FieldPassword, "Password must be at least 6 characters"},
		{"missing first name", func(f *RegisterForm) { f.FirstName = "" }, user.FieldFirstName, "First name is required"},
		{"missing last name", func(f *RegisterForm) { f.LastName = "" }, user.FieldLastName, "Last name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))

			form := valid
			tt.modify(&form)
			err := g.Register(context.Background(), form)

			var verr *apierr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Field(tt.field))
			assert.Zero(t, api.registerCalls, "no network call on validation failure")
		})
	}

	t.Run("valid form", func(t *testing.T) {
		api := &mockAPI{}
		g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))
		require.NoError(t, g.Register(context.Background(), valid))
		assert.Equal(t, 1, api.registerCalls)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid input", func(t *testing.T) {
		api := &mockAPI{}
		g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))

		_, err := g.Login(ctx, "not-an-email", "secret1")
		require.Error(t, err)
		_, err = g.Login(ctx, "user@test.com", "123")
		require.Error(t, err)
		assert.Zero(t, api.loginCalls)
	})

	t.Run("success", func(t *testing.T) {
		api := &mockAPI{loginResult: &LoginResult{User: &user.User{Username: "user"}, Token: "tok123"}}
		g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))

		res, err := g.Login(ctx, " user@test.com ", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "tok123", res.Token)
		assert.Equal(t, "user", res.User.Username)
	})

	t.Run("server rejects", func(t *testing.T) {
		api := &mockAPI{loginErr: apierr.API(400, "Invalid credentials", nil)}
		g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))

		_, err := g.Login(ctx, "user@test.com", "secret1")
		msg, ok := apierr.Banner(err)
		assert.True(t, ok)
		assert.Equal(t, "Invalid credentials", msg)
	})

	t.Run("incomplete response", func(t *testing.T) {
		api := &mockAPI{loginResult: &LoginResult{User: &user.User{Username: "user"}}}
		g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))

		_, err := g.Login(ctx, "user@test.com", "secret1")
		assert.Equal(t, apierr.KindUnknown, apierr.KindOf(err))
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(GatewayConfig{}, &mockAPI{verifyMsg: "Email verified"}, session.New(memstore.New(), nil))

	_, err := g.VerifyEmail(ctx, "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	v, err := g.VerifyEmail(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Email verified", v.Message)
	assert.Equal(t, 3*time.Second, v.RedirectAfter)
}

func TestRequestPasswordReset(t *testing.T) {
	api := &mockAPI{}
	g := NewGateway(GatewayConfig{}, api, session.New(memstore.New(), nil))

	_, err := g.RequestPasswordReset(context.Background(), "nope")
	require.Error(t, err)
	assert.Zero(t, api.resetCalls)

	msg, err := g.RequestPasswordReset(context.Background(), "user@test.com")
	require.NoError(t, err)
	assert.Equal(t, "Password reset email sent", msg)
}

func TestFetchProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("not logged in", func(t *testing.T) {
		g := NewGateway(GatewayConfig{}, &mockAPI{}, session.New(memstore.New(), nil))
		_, err := g.FetchProfile(ctx)
		require.ErrorIs(t, err, ErrNotLoggedIn)
		msg, _ := apierr.Banner(err)
		assert.Equal(t, "User is not logged in", msg)
	})

	t.Run("refreshes identity", func(t *testing.T) {
		api := &mockAPI{profile: testProfile()}
		api.profile.PhoneNumber = "0821234567"
		g, store := loggedIn(t, api)

		u, err := g.FetchProfile(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0821234567", u.PhoneNumber)
		assert.Equal(t, "0821234567", store.Snapshot().Identity.PhoneNumber)
	})

	t.Run("expired token logs out silently", func(t *testing.T) {
		api := &mockAPI{profileErr: apierr.AuthExpired("")}
		g, store := loggedIn(t, api)

		_, err := g.FetchProfile(ctx)
		require.Error(t, err)
		_, show := apierr.Banner(err)
		assert.False(t, show, "no banner for an expired session")
		assert.Equal(t, session.Unauthenticated, store.Snapshot().State)
	})

	t.Run("other failures keep the session", func(t *testing.T) {
		api := &mockAPI{profileErr: apierr.Connectivity(nil)}
		g, store := loggedIn(t, api)

		_, err := g.FetchProfile(ctx)
		msg, show := apierr.Banner(err)
		assert.True(t, show)
		assert.Equal(t, apierr.MsgConnectivity, msg)
		assert.Equal(t, session.Authenticated, store.Snapshot().State)
	})
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged profile sends nothing", func(t *testing.T) {
		api := &mockAPI{profile: testProfile()}
		g, _ := loggedIn(t, api)

		u, err := g.UpdateProfile(ctx, ProfileEdit{
			Username:  strPtr("user"),
			FirstName: strPtr("Test"),
			Suburb:    strPtr("Rondebosch"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Test", u.FirstName)
		assert.Empty(t, api.updates)
		assert.Equal(t, 1, api.profileCalls, "baseline loaded on demand")
	})

	t.Run("only changed fields are sent", func(t *testing.T) {
		api := &mockAPI{profile: testProfile()}
		g, store := loggedIn(t, api)
		_, err := g.FetchProfile(ctx)
		require.NoError(t, err)

		u, err := g.UpdateProfile(ctx, ProfileEdit{
			Username:  strPtr("user"),
			FirstName: strPtr("Ada"),
			LastName:  strPtr("User"),
			Suburb:    strPtr(""),
		})
		require.NoError(t, err)
		require.Len(t, api.updates, 1)
		assert.Equal(t, map[string]string{user.FieldFirstName: "Ada"}, api.updates[0].fields)
		assert.Equal(t, "tok", api.updates[0].token)
		assert.Equal(t, "Ada", u.FirstName)
		assert.Equal(t, "Ada", store.Snapshot().Identity.FirstName)

		// The new server state is the next baseline.
		_, err = g.UpdateProfile(ctx, ProfileEdit{FirstName: strPtr("Ada")})
		require.NoError(t, err)
		assert.Len(t, api.updates, 1)
	})

	t.Run("password change", func(t *testing.T) {
		api := &mockAPI{profile: testProfile()}
		g, _ := loggedIn(t, api)

		_, err := g.UpdateProfile(ctx, ProfileEdit{
			CurrentPassword: "secret1",
			NewPassword:     "secret2",
			ConfirmPassword: "secret2",
		})
		require.NoError(t, err)
		require.Len(t, api.updates, 1)
		assert.Equal(t, map[string]string{
			user.FieldCurrentPassword: "secret1",
			user.FieldNewPassword:     "secret2",
			user.FieldConfirmPassword: "secret2",
		}, api.updates[0].fields)
	})

	t.Run("avatar only", func(t *testing.T) {
		api := &mockAPI{profile: testProfile()}
		g, _ := loggedIn(t, api)

		_, err := g.UpdateProfile(ctx, ProfileEdit{Avatar: &Avatar{Filename: "me.gif", Data: gifHeader}})
		require.NoError(t, err)
		require.Len(t, api.updates, 1)
		assert.Empty(t, api.updates[0].fields)
		assert.Equal(t, "me.gif", api.updates[0].avatar.Filename)
	})

	t.Run("expired token logs out", func(t *testing.T) {
		api := &mockAPI{profile: testProfile(), updateErr: apierr.AuthExpired("")}
		g, store := loggedIn(t, api)

		_, err := g.UpdateProfile(ctx, ProfileEdit{FirstName: strPtr("Ada")})
		require.True(t, apierr.IsAuthExpired(err))
		assert.Equal(t, session.Unauthenticated, store.Snapshot().State)
	})
}

func TestUpdateProfile_Validation(t *testing.T) {
	big := append(append([]byte(nil), pngHeader...), make([]byte, MaxAvatarSize)...)

	tests := []struct {
		name  string
		edit  ProfileEdit
		field string
		msg   string
	}{
		{"short username", ProfileEdit{Username: strPtr("ab")}, user.FieldUsername, "Username must be at least 3 characters"},
		{"cleared first name", ProfileEdit{FirstName: strPtr("")}, user.FieldFirstName, "First name is required"},
		{"phone", ProfileEdit{PhoneNumber: strPtr("12345")}, user.FieldPhoneNumber, "Please enter a valid 10-digit phone number"},
		{"postal code", ProfileEdit{PostalCode: strPtr("123")}, user.FieldPostalCode, "Please enter a valid postal code"},
		{"new password without current", ProfileEdit{NewPassword: "secret2", ConfirmPassword: "secret2"}, user.FieldCurrentPassword, "Current password is required to set new password"},
		{"short new password", ProfileEdit{CurrentPassword: "x", NewPassword: "abc", ConfirmPassword: "abc"}, user.FieldNewPassword, "New password must be at least 6 characters"},
		{"confirmation mismatch", ProfileEdit{CurrentPassword: "x", NewPassword: "secret2", ConfirmPassword: "secret3"}, user.FieldConfirmPassword, "Passwords do not match"},
		{"avatar type", ProfileEdit{Avatar: &Avatar{Filename: "a.txt", Data: []byte("hello")}}, user.FieldAvatar, "Please upload a valid image file (JPEG, PNG, or GIF)"},
		{"avatar size", ProfileEdit{Avatar: &Avatar{Filename: "a.png", Data: big}}, user.FieldAvatar, "Image file size must be less than 5MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{profile: testProfile()}
			g, _ := loggedIn(t, api)

			_, err := g.UpdateProfile(context.Background(), tt.edit)
			var verr *apierr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Field(tt.field))
			assert.Empty(t, api.updates)
		})
	}
}

func TestAvatar_ContentType(t *testing.T) {
	assert.Equal(t, "image/png", (&Avatar{Data: pngHeader}).ContentType())
	assert.Equal(t, "image/gif", (&Avatar{Data: gifHeader}).ContentType())
}
