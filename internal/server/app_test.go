package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qixiao/emtrader/internal/account"
	"github.com/qixiao/emtrader/internal/config"
	"github.com/qixiao/emtrader/internal/mirror"
	"github.com/qixiao/emtrader/internal/sched"
	"github.com/qixiao/emtrader/internal/session"
)

func newSettleApp(t *testing.T, clock func() time.Time) (*App, *atomic.Int32) {
	t.Helper()
	var calendarHits atomic.Int32
	mirrorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/tradingdates") {
			calendarHits.Add(1)
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(mirrorSrv.Close)

	reg := account.NewRegistry(account.Config{
		Mirror: mirror.New(mirror.Config{Server: mirrorSrv.URL, Email: "a@b.c", Password: "pw"}),
		Clock:  clock,
	})
	app := New(config.Root{}, session.New(session.Config{}), reg, sched.NewHub(clock))
	app.clock = clock
	return app, &calendarHits
}

func TestSettleUploadsWeeklyOnMonday(t *testing.T) {
	monday := func() time.Time { return time.Date(2025, 3, 10, 15, 1, 0, 0, time.Local) }
	app, hits := newSettleApp(t, monday)
	app.settle()
	assert.Equal(t, int32(1), hits.Load(), "Monday settle must pull the trading calendar for the weekly upload")
}

func TestSettleSkipsWeeklyMidweek(t *testing.T) {
	wednesday := func() time.Time { return time.Date(2025, 3, 12, 15, 1, 0, 0, time.Local) }
	app, hits := newSettleApp(t, wednesday)
	app.settle()
	assert.Equal(t, int32(0), hits.Load(), "weekly upload only runs after Monday's close")
}
