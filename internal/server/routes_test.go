package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qixiao/emtrader/internal/account"
	"github.com/qixiao/emtrader/internal/config"
	"github.com/qixiao/emtrader/internal/mirror"
	"github.com/qixiao/emtrader/internal/sched"
	"github.com/qixiao/emtrader/internal/session"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	mirrorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/userbind"):
			w.Write([]byte(`[{"name":"track1","username":"u.track1","realcash":false},{"name":"realone","username":"u.realone","realcash":true}]`))
		case strings.HasPrefix(r.URL.Path, "/stock"):
			w.Write([]byte(`{}`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(mirrorSrv.Close)

	reg := account.NewRegistry(account.Config{
		Mirror: mirror.New(mirror.Config{Server: mirrorSrv.URL, Email: "a@b.c", Password: "pw"}),
	})
	require.NoError(t, reg.InitTrackAccounts(context.Background()))

	cfg := config.Root{}
	sess := session.New(session.Config{})
	return New(cfg, sess, reg, sched.NewHub(nil))
}

func TestStatusStopped(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTradeAndInspect(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	body := `{"code":"600000","action":"B","price":7.2,"quantity":200,"account":"track1"}`
	resp, err := http.Post(srv.URL+"/trade", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// duplicate order is rejected
	resp, err = http.Post(srv.URL+"/trade", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/deals?acc=track1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stocks?acc=unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTradeUnknownAction(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/trade", "application/json", strings.NewReader(`{"code":"600000","action":"hold"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRZRQNotRunning(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rzrq?code=600000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
