package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/shopwise/internal/domain/auth"
	"github.com/xenking/shopwise/internal/domain/session"
)

func (c *cli) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email == "" {
				if email, err = c.readLine("Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = c.readLine("Password: "); err != nil {
					return err
				}
			}
			u, err := c.app.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Welcome, %s\n", u.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when empty)")
	return cmd
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "Logged out")
			return nil
		},
	}
}

func (c *cli) registerCommand() *cobra.Command {
	var form auth.RegisterForm
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if form.Password2 == "" {
				form.Password2 = form.Password
			}
			if err := c.app.Auth.Register(cmd.Context(), form); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "Registration successful. Check your email to verify your account.")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.Username, "username", "", "username")
	f.StringVar(&form.Email, "email", "", "email")
	f.StringVar(&form.Password, "password", "", "password")
	f.StringVar(&form.Password2, "confirm-password", "", "password confirmation (defaults to --password)")
	f.StringVar(&form.FirstName, "first-name", "", "first name")
	f.StringVar(&form.LastName, "last-name", "", "last name")
	return cmd
}

func (c *cli) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify an email address with the emailed token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Auth.VerifyEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, v.Message)
			fmt.Fprintf(c.stdout, "Continue with `shopwise login` (redirect after %s)\n", v.RedirectAfter)
			return nil
		},
	}
}

func (c *cli) passwordResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "password-reset <email>",
		Short: "Request a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := c.app.Auth.RequestPasswordReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Password reset email sent"
			}
			fmt.Fprintln(c.stdout, msg)
			return nil
		},
	}
}

func (c *cli) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			snap := c.app.Session.Snapshot()
			if snap.State != session.Authenticated {
				return auth.ErrNotLoggedIn
			}
			fmt.Fprintf(c.stdout, "%s <%s>\n", snap.Identity.DisplayName(), snap.Identity.Email)
			return nil
		},
	}
}

func (c *cli) profileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the profile of the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := c.app.Auth.FetchProfile(cmd.Context())
			if err != nil {
				return err
			}
			printUser(c.stdout, u)
			return nil
		},
	}
	cmd.AddCommand(c.profileUpdateCommand())
	return cmd
}

func (c *cli) profileUpdateCommand() *cobra.Command {
	var (
		edit       auth.ProfileEdit
		values     = map[string]*string{}
		avatarPath string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields; only the given flags are sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set := func(flag string, dst **string) {
				if cmd.Flags().Changed(flag) {
					*dst = values[flag]
				}
			}
			set("username", &edit.Username)
			set("first-name", &edit.FirstName)
			set("last-name", &edit.LastName)
			set("postal-code", &edit.PostalCode)
			set("suburb", &edit.Suburb)
			set("phone", &edit.PhoneNumber)

			if avatarPath != "" {
				data, err := os.ReadFile(avatarPath)
				if err != nil {
					return errors.Wrap(err, "read avatar")
				}
				edit.Avatar = &auth.Avatar{Filename: filepath.Base(avatarPath), Data: data}
			}

			u, err := c.app.Auth.UpdateProfile(cmd.Context(), edit)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "Profile updated")
			printUser(c.stdout, u)
			return nil
		},
	}

	f := cmd.Flags()
	for flag, usage := range map[string]string{
		"username":    "username",
		"first-name":  "first name",
		"last-name":   "last name",
		"postal-code": "postal code (4-5 digits)",
		"suburb":      "suburb",
		"phone":       "phone number (10 digits)",
	} {
		values[flag] = f.String(flag, "", usage)
	}
	f.StringVar(&edit.CurrentPassword, "current-password", "", "current password, required to change it")
	f.StringVar(&edit.NewPassword, "new-password", "", "new password")
	f.StringVar(&edit.ConfirmPassword, "confirm-password", "", "new password confirmation")
	f.StringVar(&avatarPath, "avatar", "", "path of a JPEG, PNG or GIF image up to 5MB")
	return cmd
}
