package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/auth"
	"github.com/xenking/shopwise/internal/domain/session"
	"github.com/xenking/shopwise/internal/domain/user"
)

var (
	_ auth.API                = (*Client)(nil)
	_ session.IdentityFetcher = (*Client)(nil)
)

// Login implements auth.API.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	res := &auth.LoginResult{}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login/",
		body:   jsonObject("email", email, "password", password),
	}, func(_ int, d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "user":
				res.User, err = decodeUser(d)
			case "access", "token":
				res.Token, err = str(d)
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Register implements auth.API.
func (c *Client) Register(ctx context.Context, form auth.RegisterForm) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/register/",
		body: jsonObject(
			"username", form.Username,
			"email", form.Email,
			"password", form.Password,
			"password2", form.Password2,
			"first_name", form.FirstName,
			"last_name", form.LastName,
		),
	}, nil)
}

// VerifyEmail implements auth.API.
func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	var msg string
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/verify-email/",
		body:   jsonObject("token", token),
	}, func(_ int, d *jx.Decoder) (err error) {
		msg, err = decodeMessage(d)
		return err
	})
	return msg, err
}

// RequestPasswordReset implements auth.API.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	var msg string
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/password-reset/",
		body:   jsonObject("email", email),
	}, func(_ int, d *jx.Decoder) (err error) {
		msg, err = decodeMessage(d)
		return err
	})
	return msg, err
}

// FetchProfile implements auth.API.
func (c *Client) FetchProfile(ctx context.Context, token string) (*user.User, error) {
	var u *user.User
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/profile/",
		token:  token,
	}, func(_ int, d *jx.Decoder) (err error) {
		u, err = decodeUser(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.Unknown("", errors.New("empty profile response"))
	}
	return u, nil
}

// FetchIdentity implements session.IdentityFetcher.
func (c *Client) FetchIdentity(ctx context.Context, token string) (*user.User, error) {
	return c.FetchProfile(ctx, token)
}

// UpdateProfile implements auth.API. fields and avatar are sent as a
// multipart form.
func (c *Client) UpdateProfile(ctx context.Context, token string, fields map[string]string, avatar *auth.Avatar) (*user.User, error) {
	body, contentType, err := profileForm(fields, avatar)
	if err != nil {
		return nil, apierr.Unknown("", err)
	}

	var u *user.User
	err = c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/auth/profile/",
		body:        body,
		contentType: contentType,
		token:       token,
	}, func(_ int, d *jx.Decoder) (err error) {
		u, err = decodeUser(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.Unknown("", errors.New("empty profile response"))
	}
	return u, nil
}

// Logout ends the server-side session. Failures only matter to the caller's
// log: the local session is cleared regardless.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/logout/",
		token:  token,
		body:   []byte("{}"),
	}, nil)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func profileForm(fields map[string]string, avatar *auth.Avatar) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", errors.Wrapf(err, "write field %s", k)
		}
	}

	if avatar != nil {
		name := avatar.Filename
		if name == "" {
			name = "avatar"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			user.FieldAvatar, quoteEscaper.Replace(name)))
		h.Set("Content-Type", avatar.ContentType())
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", errors.Wrap(err, "create avatar part")
		}
		if _, err := part.Write(avatar.Data); err != nil {
			return nil, "", errors.Wrap(err, "write avatar")
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close form")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
