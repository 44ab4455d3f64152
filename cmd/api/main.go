package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"doortracker/internal/auth"
	"doortracker/internal/clock"
	"doortracker/internal/config"
	"doortracker/internal/export"
	"doortracker/internal/httpmiddleware"
	"doortracker/internal/metrics"
	"doortracker/internal/queue"
	"doortracker/internal/scan"
	"doortracker/internal/snapshot"
	"doortracker/internal/store"
	"doortracker/internal/tracking"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	cal, err := clock.NewCalendar(cfg.Timezone)
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBIdleConns)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "doortracker:scans")
	}

	trackRepo := tracking.NewRepository(db.Client, cfg.Timezone)
	engine := tracking.NewEngine(trackRepo)
	stats := tracking.NewStats(engine, trackRepo, cal)
	quotas := tracking.NewQuotaResolver(trackRepo)
	reporter := tracking.NewReporter(engine, quotas, cal, cfg.ReportDefaultDays, cfg.ReportMaxDays)

	scanRepo := scan.NewRepository(db.Client)
	scans := scan.NewService(scanRepo, stats)
	cache := snapshot.NewCache(redisClient.Client, cfg.SnapshotTTL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Called by the scanner on every tag scan. One of three transitions
	// happens: bind a pending tag, check out, or check in.
	r.POST("/v1/scans", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
			TagID    string `json:"tag_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := scans.HandleScan(c.Request.Context(), req.DeviceID, req.TagID)
		if err != nil {
			metrics.Scans.WithLabelValues("error").Inc()
			switch {
			case errors.Is(err, scan.ErrScannerUnknown):
				c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Scanner not authorized"})
			case errors.Is(err, scan.ErrTagUnknown):
				c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Tag not registered"})
			default:
				log.Printf("scan failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "scan failed"})
			}
			return
		}
		metrics.Scans.WithLabelValues(string(res.Outcome)).Inc()

		publishScan(c.Request.Context(), q, res.MemberID, string(res.Outcome))
		c.JSON(http.StatusOK, res)
	})

	// Scanner liveness; the device calls this every 30 seconds.
	r.POST("/v1/scanners/heartbeat", func(c *gin.Context) {
		var req struct {
			ScannerID string `json:"scanner_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := scans.Heartbeat(c.Request.Context(), req.ScannerID); err != nil {
			if errors.Is(err, scan.ErrScannerUnknown) {
				c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Scanner not registered"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/v1/scanners/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
			Name     string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := scanRepo.UpsertScanner(c.Request.Context(), req.DeviceID, req.Name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "ok"})
	})

	// Token issuance for the web frontend; the upstream login proxy is
	// trusted to have authenticated the member.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			MemberID string `json:"member_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.MemberID, auth.RoleMember, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = scanRepo.SaveRefreshToken(c.Request.Context(), req.MemberID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	member := r.Group("/v1", auth.MemberAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	member.POST("/checkin", func(c *gin.Context) {
		session, err := scans.RemoteCheckin(c.Request.Context(), auth.MemberID(c))
		if err != nil {
			if errors.Is(err, scan.ErrSessionOpen) {
				c.JSON(http.StatusConflict, gin.H{"status": "error", "message": "Already checked in"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		publishScan(c.Request.Context(), q, session.MemberID, string(scan.OutcomeCheckin))
		c.JSON(http.StatusCreated, gin.H{"status": "ok", "session_id": session.ID, "checkin_at": session.CheckinAt})
	})

	member.POST("/checkout", func(c *gin.Context) {
		var req struct {
			Time time.Time `json:"time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session, err := scans.RemoteCheckout(c.Request.Context(), auth.MemberID(c), req.Time)
		if err != nil {
			switch {
			case errors.Is(err, scan.ErrFutureCheckout), errors.Is(err, scan.ErrCheckoutBeforeCheckin):
				c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			case errors.Is(err, scan.ErrNoOpenSession):
				c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "There are no matching sessions"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		metrics.RemoteCheckouts.Inc()
		publishScan(c.Request.Context(), q, session.MemberID, string(scan.OutcomeCheckout))
		c.JSON(http.StatusCreated, gin.H{"status": "ok", "date": session.CheckoutAt})
	})

	member.GET("/stats", func(c *gin.Context) {
		memberID := auth.MemberID(c)
		day, ok := parseDay(c, cal, "day", time.Now())
		if !ok {
			return
		}

		// Worker-maintained cache serves dashboards; the core figure
		// is always recomputable, so a miss just computes live.
		if cal.SameLocalDay(day, time.Now()) {
			if cached, err := cache.Get(c.Request.Context(), memberID); err == nil && cached != nil {
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		sum, err := stats.Summarize(c.Request.Context(), memberID, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	member.GET("/quota", func(c *gin.Context) {
		memberID := auth.MemberID(c)
		day, ok := parseDay(c, cal, "day", time.Now())
		if !ok {
			return
		}

		assignment, err := quotas.EffectiveAssignment(c.Request.Context(), memberID, cal.EndOfDay(day))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if assignment == nil {
			c.JSON(http.StatusOK, gin.H{"quota": nil})
			return
		}

		week, err := stats.MinutesThisWeek(c.Request.Context(), memberID, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"quota":        assignment.Quota,
			"subteams":     assignment.Subteams,
			"minutes_week": week,
			"met":          tracking.QuotaMet(week, assignment.Quota.WeeklyHours),
		})
	})

	member.GET("/reports", func(c *gin.Context) {
		from, ok := parseDay(c, cal, "from", time.Time{})
		if !ok {
			return
		}
		to, ok := parseDay(c, cal, "to", time.Time{})
		if !ok {
			return
		}

		report, err := reporter.Range(c.Request.Context(), auth.MemberID(c), from, to)
		if err != nil {
			if errors.Is(err, tracking.ErrInvalidWindow) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from is after to"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	member.GET("/tags", func(c *gin.Context) {
		tags, err := scanRepo.TagsByMember(c.Request.Context(), auth.MemberID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tags": tags})
	})

	member.POST("/tags/register", func(c *gin.Context) {
		var req struct {
			ScannerID string `json:"scanner_id" binding:"required"`
			Name      string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := scans.RequestRegistration(c.Request.Context(), req.ScannerID, auth.MemberID(c), req.Name)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, gin.H{"status": "ok", "message": "Scan the new tag to finish registration"})
		case errors.Is(err, scan.ErrSlotHeld):
			c.JSON(http.StatusConflict, gin.H{"status": "error", "message": "Scanner is busy with another registration"})
		case errors.Is(err, scan.ErrScannerUnknown):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No such scanner"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	member.DELETE("/tags/register/:scanner_id", func(c *gin.Context) {
		if err := scans.CancelRegistration(c.Request.Context(), c.Param("scanner_id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	member.PATCH("/tags/:code", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondTagChange(c, scans.RenameTag(c.Request.Context(), auth.MemberID(c), c.Param("code"), req.Name))
	})

	member.DELETE("/tags/:code", func(c *gin.Context) {
		respondTagChange(c, scans.DeleteTag(c.Request.Context(), auth.MemberID(c), c.Param("code")))
	})

	member.GET("/logs.csv", func(c *gin.Context) {
		to, ok := parseDay(c, cal, "to", time.Now())
		if !ok {
			return
		}
		from, ok := parseDay(c, cal, "from", to.AddDate(0, 0, -(cfg.ReportDefaultDays - 1)))
		if !ok {
			return
		}

		logs, err := scanRepo.ListLogs(c.Request.Context(), cal.StartOfDay(from), cal.EndOfDay(to))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="logs.csv"`)
		if err := export.WriteLogsCSV(c.Writer, cal, logs); err != nil {
			log.Printf("csv export failed: %v", err)
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (timezone %s)", cfg.HTTPPort, cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func respondTagChange(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, scan.ErrTagUnknown):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No such tag"})
	case errors.Is(err, scan.ErrTagNotOwned):
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Not your tag"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// parseDay reads an optional YYYY-MM-DD query param as a local date.
func parseDay(c *gin.Context, cal clock.Calendar, param string, fallback time.Time) (time.Time, bool) {
	val := c.Query(param)
	if val == "" {
		return fallback, true
	}
	day, err := time.ParseInLocation("2006-01-02", val, cal.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": param + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return day, true
}

func publishScan(ctx context.Context, q queue.Queue, memberID, outcome string) {
	body, err := json.Marshal(queue.ScanEvent{MemberID: memberID, Outcome: outcome, At: time.Now()})
	if err != nil {
		return
	}
	if err := q.Publish(ctx, queue.Message{Type: "scan", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
