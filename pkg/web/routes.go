package web

import (
	"strings"

	"github.com/labstack/echo/v4"
)

type Access string

const (
	Public  Access = "public"
	Guarded Access = "guarded"
)

type Route struct {
	Path   string
	Access Access
	Title  string
}

// Routes is the static route table. Paths are matched case-insensitively.
func Routes() []Route {
	return []Route{
		{Path: "/", Access: Public, Title: "Zero Dash"},
		{Path: "/login", Access: Public, Title: "Sign In"},
		{Path: "/signup", Access: Public, Title: "Sign Up"},
		{Path: "/home", Access: Guarded, Title: "Home"},
		{Path: "/profile", Access: Guarded, Title: "User Profile"},
		{Path: "/analytics", Access: Guarded, Title: "Analytics Dashboard"},
	}
}

func routeTitle(path string) string {
	for _, r := range Routes() {
		if r.Path == path {
			return r.Title
		}
	}
	return ""
}

// lowercasePath lets /Login and /SignUp reach their routes.
func lowercasePath(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if lower := strings.ToLower(req.URL.Path); lower != req.URL.Path {
			req.URL.Path = lower
			req.URL.RawPath = ""
		}
		return next(c)
	}
}
