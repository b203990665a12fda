package router

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/testutil"
)

func newTestApp(t *testing.T, adminKey string) *fiber.App {
	t.Helper()
	services, err := bootstrap.New(context.Background(), testutil.NewTestDB(t), nil)
	require.NoError(t, err)

	app := fiber.New()
	InstallRouter(app, services.Deps(), adminKey)
	return app
}

func TestInstallRouter_Routes(t *testing.T) {
	app := newTestApp(t, "k")

	tests := []struct {
		method string
		path   string
		body   string
		admin  bool
		want   int
	}{
		{"GET", "/api/v1/ping", "", false, fiber.StatusOK},
		{"GET", "/api/v1/invoices/nope", "", false, fiber.StatusNotFound},
		{"GET", "/api/v1/invoices/nope/payments", "", false, fiber.StatusNotFound},
		{"GET", "/api/v1/members/M-1/invoices", "", false, fiber.StatusOK},
		{"GET", "/api/v1/members/M-1/debt", "", false, fiber.StatusNotFound},
		{"POST", "/api/v1/invoices/nope/payments", `{"provider":"paypal"}`, false, fiber.StatusNotFound},
		{"POST", "/webhooks/unknown", `{}`, false, fiber.StatusNotFound},
		{"GET", "/api/v1/admin/stats", "", false, fiber.StatusUnauthorized},
		{"GET", "/api/v1/admin/stats", "", true, fiber.StatusOK},
		{"GET", "/api/v1/admin/review-items", "", true, fiber.StatusOK},
		{"GET", "/api/v1/admin/webhooks/failed", "", true, fiber.StatusOK},
		{"GET", "/api/v1/admin/events/recent", "", true, fiber.StatusOK},
		{"POST", "/api/v1/admin/sweeps/overdue", "", true, fiber.StatusOK},
		{"POST", "/api/v1/admin/sweeps/bogus", "", true, fiber.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tc.admin {
				req.Header.Set("X-API-Key", "k")
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestInstallRouter_AdminDisabledWithoutKey(t *testing.T) {
	app := newTestApp(t, "")

	req := httptest.NewRequest("GET", "/api/v1/admin/stats", nil)
	req.Header.Set("X-API-Key", "")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestInstallRouter_WebsocketUsesAdminKey(t *testing.T) {
	services, err := bootstrap.New(context.Background(), testutil.NewTestDB(t), nil)
	require.NoError(t, err)
	services.Start(false)
	t.Cleanup(services.Stop)

	app := fiber.New()
	InstallRouter(app, services.Deps(), "k")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	base := "ws://" + ln.Addr().String()

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/admin", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/members/M-1?api_key=k", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return services.Hub.ClientCount("M-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	header := http.Header{}
	header.Set("X-API-Key", "k")
	admin, _, err := websocket.DefaultDialer.Dial(base+"/ws/admin", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
}
