package main

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gematik/zero-dash/pkg/analytics"
	"github.com/gematik/zero-dash/pkg/config"
	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/prettylog"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	upgrader = websocket.Upgrader{}
)

type ErrorType struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

type EchoRequestMessageType struct {
	Message string `json:"message"`
}

type EchoResponseMessageType struct {
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
}

type HttpRequestType struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Proto   string      `json:"proto"`
	Headers http.Header `json:"headers"`
}

type EchoResponseDTO struct {
	Request HttpRequestType `json:"http_request"`
	Subject string          `json:"subject,omitempty"`
}

var sampleReport = analytics.Report{
	TotalActiveUsers:   15234,
	TotalNewSignups:    842,
	TotalPageViews:     1203345,
	AvgSessionDuration: 184.37,
	UserAnalytics: []analytics.DailyAnalytics{
		{Date: "2024-06-01", ActiveUsers: 2101, NewSignups: 120, PageViews: 170233, AvgSessionDuration: 176.2},
		{Date: "2024-06-02", ActiveUsers: 1987, NewSignups: 98, PageViews: 158012, AvgSessionDuration: 190.55},
		{Date: "2024-06-03", ActiveUsers: 2245, NewSignups: 131, PageViews: 181990, AvgSessionDuration: 182.01},
		{Date: "2024-06-04", ActiveUsers: 2310, NewSignups: 144, PageViews: 190406, AvgSessionDuration: 188.4},
		{Date: "2024-06-05", ActiveUsers: 2198, NewSignups: 117, PageViews: 176855, AvgSessionDuration: 179.9},
		{Date: "2024-06-06", ActiveUsers: 2011, NewSignups: 102, PageViews: 160344, AvgSessionDuration: 185.75},
		{Date: "2024-06-07", ActiveUsers: 2382, NewSignups: 130, PageViews: 165505, AvgSessionDuration: 187.8},
	},
}

// bearerAuth rejects requests without a bearer token. With a sign key the
// token must be an id token minted by the mock identity provider.
func bearerAuth(signKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(auth, "Bearer ")
			if !found || token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorType{
					Code:        "invalid_token",
					Description: "Bearer token required",
				})
			}
			if signKey == nil {
				return next(c)
			}
			parsed, err := jwt.ParseString(token,
				jwt.WithKey(jwa.HS256, signKey),
				jwt.WithIssuer(idp.MockIssuer),
				jwt.WithAudience(idp.MockAudience),
			)
			if err != nil {
				slog.Info("Rejecting token", "error", err)
				return c.JSON(http.StatusUnauthorized, ErrorType{
					Code:        "invalid_token",
					Description: err.Error(),
				})
			}
			c.Set("subject", parsed.Subject())
			return next(c)
		}
	}
}

func main() {
	godotenv.Load()
	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	var signKey []byte
	if encoded := os.Getenv("MOCK_SIGN_KEY"); encoded != "" {
		var err error
		signKey, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Fatalf("invalid MOCK_SIGN_KEY: %v", err)
		}
		slog.Info("Verifying id tokens of the mock identity provider", "issuer", idp.MockIssuer)
	}

	e := echo.New()
	api := e.Group("/api", bearerAuth(signKey))

	api.GET("/analytics", func(c echo.Context) error {
		return c.JSON(http.StatusOK, sampleReport)
	})

	api.Any("/echo", func(c echo.Context) error {
		subject, _ := c.Get("subject").(string)
		return c.JSON(http.StatusOK, EchoResponseDTO{
			Request: httpRequestToDTO(c.Request()),
			Subject: subject,
		})
	})

	api.GET("/ws/echo", wsEcho)

	e.Logger.Fatal(e.Start(config.GetEnv("MOCK_API_ADDR", ":8091")))
}

// wsEcho echoes text messages back together with the token subject.
func wsEcho(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	subject, _ := c.Get("subject").(string)
	for {
		messageType, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			slog.Error("error reading message", "error", err)
			return nil
		}
		if messageType != websocket.TextMessage {
			ws.WriteJSON(ErrorType{
				Code:        "invalid_message_type",
				Description: "Only text messages are supported",
			})
			continue
		}

		parsedMsg := new(EchoRequestMessageType)
		if err := json.Unmarshal(msg, parsedMsg); err != nil {
			ws.WriteJSON(ErrorType{
				Code:        "invalid_message_format",
				Description: "Invalid JSON format",
			})
			continue
		}

		err = ws.WriteJSON(EchoResponseMessageType{
			Message: parsedMsg.Message,
			Subject: subject,
		})
		if err != nil {
			slog.Error("error writing message", "error", err)
			return nil
		}
	}
}

func httpRequestToDTO(r *http.Request) HttpRequestType {
	headers := r.Header.Clone()
	if headers.Get(echo.HeaderAuthorization) != "" {
		headers.Set(echo.HeaderAuthorization, "Bearer [REDACTED]")
	}
	return HttpRequestType{
		Method:  r.Method,
		URL:     r.URL.String(),
		Proto:   r.Proto,
		Headers: headers,
	}
}
