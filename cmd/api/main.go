package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campusicon/internal/auth"
	"campusicon/internal/checkin"
	"campusicon/internal/config"
	"campusicon/internal/course"
	"campusicon/internal/export"
	"campusicon/internal/geo"
	"campusicon/internal/geoclient"
	"campusicon/internal/httpmiddleware"
	"campusicon/internal/logging"
	"campusicon/internal/metrics"
	"campusicon/internal/model"
	"campusicon/internal/observability"
	"campusicon/internal/queue"
	"campusicon/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	logg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logg.Closer()

	closeSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "campusicon-api")
	if err != nil {
		logg.Sugar.Warnw("sentry init failed", "err", err)
	}
	defer closeSentry()

	if err := runHTTP(cfg, logg.Sugar); err != nil {
		logg.Sugar.Fatalw("http server failed", "err", err)
	}
}

func runHTTP(cfg config.App, log *zap.SugaredLogger) error {
	ctx := context.Background()

	var (
		st store.Store
		db *store.DB
	)
	if cfg.StoreBackend == "memory" {
		st = store.NewMemory()
		log.Infow("using in-memory store; data will not survive a restart")
	} else {
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer func() { _ = db.Close() }()
		if err := store.Migrate(ctx, db.Client); err != nil {
			return err
		}
		st = store.NewPostgres(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campusicon:checkins")
	}

	// Location gateway is optional; requests may carry coordinates directly.
	var gateway *geoclient.Client
	if cfg.LocationGatewayURL != "" || cfg.GatewaySkip {
		gateway = geoclient.New(cfg.LocationGatewayURL, cfg.GeoTimeout, cfg.GatewaySkip)
	}

	checkins := checkin.NewService(st, cfg.ProximityThresholdM, cfg.MaxFixAge)
	courses := course.NewService(st, cfg.SessionCodeLength)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		storeHealthy := cfg.StoreBackend == "memory" || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !storeHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "store": storeHealthy})
	})

	// Profile creation happens once after the identity provider verifies the
	// account; tokens are issued against the stored role from then on.
	r.POST("/v1/users", func(c *gin.Context) {
		var req struct {
			UID                 string `json:"uid" binding:"required"`
			Role                string `json:"role" binding:"required"`
			FirstName           string `json:"first_name" binding:"required"`
			LastName            string `json:"last_name" binding:"required"`
			Email               string `json:"email"`
			MatriculationNumber string `json:"matriculation_number"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role := model.Role(req.Role)
		if role != model.RoleLecturer && role != model.RoleStudent {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be lecturer or student"})
			return
		}
		u := model.User{
			UID:                 req.UID,
			Role:                role,
			FirstName:           req.FirstName,
			LastName:            req.LastName,
			Email:               req.Email,
			MatriculationNumber: req.MatriculationNumber,
		}
		if err := st.CreateUser(c.Request.Context(), u); err != nil {
			log.Errorw("create user failed", "uid", req.UID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "profile save failed"})
			return
		}
		c.JSON(http.StatusCreated, u)
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UID string `json:"uid" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := st.GetUser(c.Request.Context(), req.UID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
			return
		}
		tokens, err := auth.Issue(auth.Identity{UID: u.UID, Role: u.Role}, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.Authenticated(cfg.JWTSigningKey, cfg.JWTIssuer))

	v1.POST("/checkins", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		var req struct {
			Code     string     `json:"code" binding:"required"`
			Location *geo.Point `json:"location"`
			// CapturedAt is when the device produced the fix; stale fixes
			// are rejected, fresh ones only.
			CapturedAt time.Time `json:"captured_at"`
			DeviceID   string    `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var fix geo.Fix
		switch {
		case req.Location != nil:
			fix = geo.Fix{Point: *req.Location, CapturedAt: req.CapturedAt}
		case gateway != nil && req.DeviceID != "":
			geoCtx, cancel := context.WithTimeout(c.Request.Context(), cfg.GeoTimeout)
			defer cancel()
			var err error
			fix, err = gateway.CurrentFix(geoCtx, req.DeviceID)
			if err != nil {
				log.Infow("location acquisition failed", "device", req.DeviceID, "err", err)
				metrics.RejectedCheckin("location_unavailable")
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": checkin.ErrLocationUnavailable.Error()})
				return
			}
		default:
			metrics.RejectedCheckin("location_unavailable")
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": checkin.ErrLocationUnavailable.Error()})
			return
		}

		res, err := checkins.CheckIn(c.Request.Context(), ident, req.Code, fix)
		if err != nil {
			respondCheckinError(c, log, err)
			return
		}
		metrics.CheckinsTotal.Inc()

		evt := checkins.Event(ident, res)
		evt.ID = uuid.NewString()
		if body, err := json.Marshal(evt); err == nil {
			if err := q.Publish(c.Request.Context(), queue.Message{Type: "checkin", Body: body}); err != nil {
				log.Warnw("queue publish failed", "err", err)
			}
		}

		c.JSON(http.StatusOK, res)
	})

	v1.GET("/courses", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		list, err := courses.CoursesFor(c.Request.Context(), ident)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"courses": list})
	})

	v1.GET("/courses/:id", func(c *gin.Context) {
		crs, err := courses.Course(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, crs)
	})

	v1.GET("/courses/:id/attendance/:studentID", func(c *gin.Context) {
		summary, series, err := courses.Attendance(c.Request.Context(), c.Param("id"), c.Param("studentID"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary, "series": series})
	})

	v1.GET("/history", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		entries, err := courses.History(c.Request.Context(), ident)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": entries})
	})

	lecturers := v1.Group("", auth.RequireLecturer())

	lecturers.POST("/courses", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		var req struct {
			CourseCode  string `json:"course_code" binding:"required"`
			CourseName  string `json:"course_name" binding:"required"`
			Description string `json:"description" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		crs, err := courses.CreateCourse(c.Request.Context(), ident, req.CourseCode, req.CourseName, req.Description)
		if err != nil {
			if errors.Is(err, course.ErrFieldsRequired) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Errorw("create course failed", "lecturer", ident.UID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "course registration failed"})
			return
		}
		c.JSON(http.StatusCreated, crs)
	})

	lecturers.POST("/courses/:id/sessions", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		var req struct {
			Anchor geo.Point `json:"anchor" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := courses.CreateSession(c.Request.Context(), ident, c.Param("id"), req.Anchor)
		if err != nil {
			switch {
			case errors.Is(err, course.ErrNotAuthorized):
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			case errors.Is(err, course.ErrSessionActive):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, geo.ErrInvalidLocation):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			default:
				log.Errorw("open session failed", "course", c.Param("id"), "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session creation failed"})
			}
			return
		}
		metrics.SessionsOpened.Inc()
		c.JSON(http.StatusCreated, sess)
	})

	lecturers.POST("/courses/:id/sessions/:sessionID/end", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		err := courses.EndSession(c.Request.Context(), ident, c.Param("id"), c.Param("sessionID"))
		if err != nil {
			switch {
			case errors.Is(err, course.ErrNotAuthorized):
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			default:
				log.Errorw("end session failed", "session", c.Param("sessionID"), "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session end failed"})
			}
			return
		}
		metrics.SessionsEnded.Inc()
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("sessionID"), "active": false})
	})

	lecturers.GET("/courses/:id/export", func(c *gin.Context) {
		ident, _ := auth.FromContext(c)
		crs, err := courses.ModeratedCourse(c.Request.Context(), ident, c.Param("id"))
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			case errors.Is(err, course.ErrNotAuthorized):
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		names := make(map[string]string, len(crs.RegisteredStudents))
		for _, uid := range crs.RegisteredStudents {
			if u, err := st.GetUser(c.Request.Context(), uid); err == nil {
				names[uid] = u.FullName()
			}
		}
		f, err := export.Workbook(crs, names)
		if err != nil {
			log.Errorw("export failed", "course", crs.CourseID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", `attachment; filename="attendance-`+crs.CourseCode+`.xlsx"`)
		if err := export.Write(f, c.Writer); err != nil {
			log.Errorw("export write failed", "course", crs.CourseID, "err", err)
		}
	})

	lecturers.GET("/events", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		events, err := st.ListEvents(c.Request.Context(), c.Query("course_id"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server forced shutdown", "err", err)
	}
	log.Infow("server exited")
	return nil
}

// respondCheckinError maps the verification error taxonomy onto HTTP and the
// rejection metric. The UI owns the final user-visible wording.
func respondCheckinError(c *gin.Context, log *zap.SugaredLogger, err error) {
	var oor *checkin.OutOfRangeError
	switch {
	case errors.Is(err, checkin.ErrCodeRequired):
		metrics.RejectedCheckin("code_required")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, checkin.ErrNotFound):
		metrics.RejectedCheckin("not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, checkin.ErrAmbiguousCode):
		metrics.RejectedCheckin("ambiguous")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, checkin.ErrLocationUnavailable):
		metrics.RejectedCheckin("location_unavailable")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, geo.ErrInvalidLocation):
		metrics.RejectedCheckin("invalid_location")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &oor):
		metrics.RejectedCheckin("out_of_range")
		c.JSON(http.StatusForbidden, gin.H{
			"error":       oor.Error(),
			"distance_m":  oor.DistanceM,
			"threshold_m": oor.ThresholdM,
		})
	case errors.Is(err, checkin.ErrSessionEnded):
		metrics.RejectedCheckin("session_ended")
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		metrics.RejectedCheckin("internal")
		log.Errorw("check-in failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
	}
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
