package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ashare_backend/config"
	"ashare_backend/metrics"
	"ashare_backend/services/runhistory"
	"ashare_backend/services/syncer"
)

const (
	statusPushInterval = time.Second
	wsWriteTimeout     = 10 * time.Second
)

// Runner is the part of the orchestrator the admin API drives.
type Runner interface {
	StartRun(req syncer.RunRequest) bool
	Status() syncer.Snapshot
}

// RunLister reads archived runs.
type RunLister interface {
	Recent(ctx context.Context, limit int64) ([]runhistory.RunDocument, error)
}

// SyncController exposes run triggers and status.
type SyncController struct {
	runner   Runner
	runs     RunLister
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSyncController creates a sync controller. runs may be nil.
func NewSyncController(runner Runner, runs RunLister, logger zerolog.Logger) *SyncController {
	return &SyncController{
		runner: runner,
		runs:   runs,
		logger: logger.With().Str("component", "admin.sync").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// reply writes the {code, message} envelope with HTTP status equal to code.
func reply(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"code": code, "message": message})
}

// InitAll handles GET /admin/init-all?start_date=YYYY-MM-DD[&end_date=][&refresh=true]
func (ctrl *SyncController) InitAll(c *gin.Context) {
	req := syncer.RunRequest{Mode: syncer.ModeFullImport}

	var ok bool
	if req.StartDate, ok = ctrl.dateParam(c, "start_date"); !ok {
		return
	}
	if req.EndDate, ok = ctrl.dateParam(c, "end_date"); !ok {
		return
	}
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && req.EndDate.Before(req.StartDate) {
		reply(c, http.StatusBadRequest, "end_date must not be before start_date")
		return
	}
	req.RefreshInstruments, _ = strconv.ParseBool(c.DefaultQuery("refresh", "false"))

	ctrl.start(c, req, "full import started")
}

// DailyUpdate handles GET /admin/daily-update
func (ctrl *SyncController) DailyUpdate(c *gin.Context) {
	ctrl.start(c, syncer.RunRequest{Mode: syncer.ModeDailyUpdate}, "daily update started")
}

// RefreshInstruments handles POST /admin/instruments/refresh
func (ctrl *SyncController) RefreshInstruments(c *gin.Context) {
	ctrl.start(c, syncer.RunRequest{Mode: syncer.ModeInstrumentRefresh}, "instrument refresh started")
}

func (ctrl *SyncController) start(c *gin.Context, req syncer.RunRequest, accepted string) {
	if !ctrl.runner.StartRun(req) {
		metrics.RequestRejectedInc("already_running")
		reply(c, http.StatusBadRequest, "a sync is already running")
		return
	}
	ctrl.logger.Info().
		Str("mode", string(req.Mode)).
		Str("admin", c.GetString("admin_username")).
		Msg("Sync run accepted")
	reply(c, http.StatusOK, accepted)
}

// dateParam parses an optional YYYY-MM-DD query value as a market date.
// On a malformed value it writes the 400 reply and returns false.
func (ctrl *SyncController) dateParam(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	d, err := time.Parse(config.DateLayout, raw)
	if err != nil {
		metrics.RequestRejectedInc("invalid_date")
		reply(c, http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

// Status handles GET /admin/status
func (ctrl *SyncController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": ctrl.runner.Status(),
	})
}

// StatusStream handles GET /admin/status/ws and pushes the snapshot every
// second until the client goes away.
func (ctrl *SyncController) StatusStream(c *gin.Context) {
	conn, err := ctrl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctrl.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine only notices the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ctrl.runner.Status()); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ctrl.logger.Debug().Err(err).Msg("Status stream write failed")
			}
			return
		}
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// Runs handles GET /admin/runs?limit=20
func (ctrl *SyncController) Runs(c *gin.Context) {
	if ctrl.runs == nil {
		c.JSON(http.StatusOK, gin.H{
			"code":    http.StatusOK,
			"message": "run history disabled",
			"data":    []runhistory.RunDocument{},
		})
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	runs, err := ctrl.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		ctrl.logger.Error().Err(err).Msg("Failed to load run history")
		reply(c, http.StatusInternalServerError, "failed to load run history")
		return
	}
	if runs == nil {
		runs = []runhistory.RunDocument{}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": runs})
}
