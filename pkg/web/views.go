package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gematik/zero-dash/pkg/guard"
	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/labstack/echo/v4"
)

const (
	msgSignInFailed       = "An error occurred during sign in"
	msgSignUpFailed       = "An error occurred during sign up"
	msgConfirmationFailed = "An error occurred during confirmation"
	msgNoData             = "No data available"
)

type loginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

type signUpForm struct {
	Username string `form:"username" validate:"required"`
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

type confirmForm struct {
	Username string `form:"username" validate:"required"`
	Code     string `form:"code" validate:"required"`
}

// render fills in the form nonce and the page title.
func (s *Server) render(c echo.Context, status int, page string, data *viewData) error {
	nonceStr, err := s.forms.Issue(c.Request().Context())
	if err != nil {
		return fmt.Errorf("issue form nonce: %w", err)
	}
	data.Nonce = nonceStr
	if data.Title == "" {
		data.Title = routeTitle(c.Path())
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Render(status, page, data)
}

// errorMessage is the text shown for a failed provider call.
func errorMessage(err error, fallback string) string {
	var authErr *idp.AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return fallback
}

func (s *Server) loading(c echo.Context) error {
	return s.render(c, http.StatusOK, pageLoading, &viewData{Title: "Loading"})
}

func (s *Server) landing(c echo.Context) error {
	return s.render(c, http.StatusOK, pageLanding, &viewData{})
}

func (s *Server) login(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return s.render(c, http.StatusOK, pageLogin, &viewData{})
	}

	var form loginForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	if err := c.Validate(&form); err != nil {
		return s.render(c, http.StatusBadRequest, pageLogin, &viewData{
			Username: form.Username,
			Error:    "Please enter your username and password",
		})
	}

	// tokens are stored under a session id nobody saw before this request
	if _, err := s.sessions.Renew(c); err != nil {
		return err
	}
	err := s.identity.SignIn(c.Request().Context(), form.Username, form.Password)
	if err != nil {
		return s.render(c, http.StatusUnauthorized, pageLogin, &viewData{
			Username: form.Username,
			Error:    errorMessage(err, msgSignInFailed),
		})
	}
	return c.Redirect(http.StatusSeeOther, "/home")
}

func (s *Server) signUp(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return s.render(c, http.StatusOK, pageSignUp, &viewData{})
	}

	ctx := c.Request().Context()
	switch action := c.FormValue("action"); action {
	case "signup":
		var form signUpForm
		if err := c.Bind(&form); err != nil {
			return err
		}
		data := &viewData{Username: form.Username, Email: form.Email}
		if err := c.Validate(&form); err != nil {
			data.Error = "Please enter a username, a valid email address and a password"
			return s.render(c, http.StatusBadRequest, pageSignUp, data)
		}
		result, err := s.identity.SignUp(ctx, form.Username, form.Password, form.Email)
		if err != nil {
			data.Error = errorMessage(err, msgSignUpFailed)
			return s.render(c, http.StatusBadRequest, pageSignUp, data)
		}
		if !result.ConfirmationRequired {
			return c.Redirect(http.StatusSeeOther, "/login")
		}
		data.Confirm = true
		data.Destination = result.Destination
		return s.render(c, http.StatusOK, pageSignUp, data)

	case "confirm":
		var form confirmForm
		if err := c.Bind(&form); err != nil {
			return err
		}
		data := &viewData{Username: form.Username, Confirm: true}
		if err := c.Validate(&form); err != nil {
			data.Error = "Please enter the confirmation code"
			return s.render(c, http.StatusBadRequest, pageSignUp, data)
		}
		if err := s.identity.ConfirmSignUp(ctx, form.Username, form.Code); err != nil {
			data.Error = errorMessage(err, msgConfirmationFailed)
			return s.render(c, http.StatusBadRequest, pageSignUp, data)
		}
		return c.Redirect(http.StatusSeeOther, "/login")

	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unsupported action %q", action))
	}
}

// withSignOut lets every guarded page handle the sign-out form.
func (s *Server) withSignOut(view guard.View) guard.View {
	return func(c echo.Context, props guard.Props) error {
		if c.Request().Method != http.MethodPost {
			return view(c, props)
		}
		if action := c.FormValue("action"); action != "signout" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unsupported action %q", action))
		}
		props.SignOut(c.Request().Context())
		if _, err := s.sessions.Renew(c); err != nil {
			slog.Warn("Unable to renew session after sign-out", "error", err)
		}
		return nil
	}
}

func (s *Server) home(c echo.Context, props guard.Props) error {
	return s.render(c, http.StatusOK, pageHome, &viewData{Username: props.User.Username})
}

func (s *Server) profile(c echo.Context, props guard.Props) error {
	data := &viewData{Username: props.User.Username}
	attrs, err := s.identity.FetchUserAttributes(c.Request().Context())
	if err != nil {
		slog.Warn("Error fetching user data", "username", props.User.Username, "error", err)
	} else {
		data.Email = attrs["email"]
	}
	return s.render(c, http.StatusOK, pageProfile, data)
}

func (s *Server) userAnalytics(c echo.Context, props guard.Props) error {
	data := &viewData{Username: props.User.Username}
	report, err := s.analytics.Fetch(c.Request().Context())
	switch {
	case err != nil:
		data.Error = "Failed to fetch data"
	case report == nil:
		data.Message = msgNoData
	default:
		data.Report = report
	}
	return s.render(c, http.StatusOK, pageAnalytics, data)
}
