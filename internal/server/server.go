package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/crewtasks/internal/config"
	"github.com/dukerupert/crewtasks/internal/email"
	"github.com/dukerupert/crewtasks/internal/handler"
	"github.com/dukerupert/crewtasks/internal/identity"
	"github.com/dukerupert/crewtasks/internal/middleware"
	"github.com/dukerupert/crewtasks/internal/objectstore"
	"github.com/dukerupert/crewtasks/internal/push"
	"github.com/dukerupert/crewtasks/internal/realtime"
	"github.com/dukerupert/crewtasks/internal/store"
	"github.com/dukerupert/crewtasks/internal/taskstore"
	ws "github.com/dukerupert/crewtasks/internal/websocket"
)

type Server struct {
	cfg           *config.Config
	db            *sql.DB
	hub           *ws.Hub
	tasks         *taskstore.Store
	ids           *identity.Service
	profiles      *store.ProfileStore
	authH         *handler.AuthHandler
	taskH         *handler.TaskHandler
	pointsH       *handler.PointsHandler
	adminH        *handler.AdminHandler
	notificationH *handler.NotificationHandler
	pushH         *handler.PushHandler
	rateLimiter   *middleware.RateLimiter
	pushScheduler *push.Scheduler
	localBridge   *realtime.Bridge
	remoteBridge  *realtime.Bridge
	logger        *slog.Logger
	cancel        context.CancelFunc
}

// TaskStorage picks the task store's system of record: the S3 bucket when
// configured, otherwise the local kv_cache table.
func TaskStorage(cfg *config.Config, db *sql.DB) (taskstore.Storage, error) {
	if cfg.S3.Enabled() {
		st, err := objectstore.New(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		return st, nil
	}
	return store.NewKVStore(db), nil
}

func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Server, error) {
	hub := ws.NewHub(logger.With("component", "websocket"))

	storage, err := TaskStorage(cfg, db)
	if err != nil {
		return nil, err
	}
	tasks := taskstore.New(storage,
		taskstore.WithPublisher(hub),
		taskstore.WithLogger(logger.With("component", "taskstore")),
	)

	profileStore := store.NewProfileStore(db)
	credentialStore := store.NewCredentialStore(db)
	notificationStore := store.NewNotificationStore(db)
	pushStore := store.NewPushStore(db)

	ids := identity.NewService(profileStore, credentialStore, cfg.JWTSecret, cfg.SessionTTL, logger.With("component", "identity"))
	mailer := email.NewClient(cfg.Postmark.ServerToken, cfg.Postmark.From, cfg.BaseURL)

	// Push notification service + scheduler. Without VAPID keys the
	// scheduler still records in-app notifications.
	pushLogger := logger.With("component", "push")
	var pushSvc *push.Service
	var sender push.Sender
	var pushH *handler.PushHandler
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
		sender = pushSvc
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}
	pushSched := push.NewScheduler(sender, tasks, pushStore, notificationStore, profileStore, pushLogger,
		push.WithInterval(cfg.Push.Interval))

	s := &Server{
		cfg:           cfg,
		db:            db,
		hub:           hub,
		tasks:         tasks,
		ids:           ids,
		profiles:      profileStore,
		authH:         handler.NewAuthHandler(ids, profileStore, logger.With("component", "auth")),
		taskH:         handler.NewTaskHandler(tasks, pushSched, logger.With("component", "task")),
		pointsH:       handler.NewPointsHandler(tasks, profileStore, logger.With("component", "points")),
		adminH:        handler.NewAdminHandler(ids, profileStore, mailer, pushSched, logger.With("component", "admin")),
		notificationH: handler.NewNotificationHandler(notificationStore, logger.With("component", "notification")),
		pushH:         pushH,
		rateLimiter:   middleware.NewRateLimiter(),
		pushScheduler: pushSched,
		logger:        logger,
	}

	bridgeLogger := logger.With("component", "realtime")
	s.localBridge = realtime.New(realtime.HubSource{Hub: hub}, realtime.Handlers{
		Refetch: s.syncMonthlyPoints,
		Refresh: s.announceTiers,
	}, realtime.WithTables(taskstore.TablePoints), realtime.WithLogger(bridgeLogger))

	if cfg.Realtime.RemoteURL != "" {
		s.remoteBridge = realtime.New(realtime.RemoteSource{
			URL:   cfg.Realtime.RemoteURL,
			Token: cfg.Realtime.RemoteToken,
		}, realtime.Handlers{
			Refetch: func(ctx context.Context, _ string) error { return tasks.Refresh(ctx) },
			Refresh: func(ctx context.Context, table string) {
				if err := s.syncMonthlyPoints(ctx, table); err != nil {
					bridgeLogger.Error("sync monthly points after remote change", "error", err)
				}
			},
		}, realtime.WithLogger(bridgeLogger.With("source", "remote")))
	}

	return s, nil
}

// syncMonthlyPoints mirrors the store's derived totals onto profiles.
func (s *Server) syncMonthlyPoints(_ context.Context, _ string) error {
	return s.profiles.SetMonthlyPoints(s.tasks.UserPoints())
}

func (s *Server) announceTiers(_ context.Context, _ string) {
	period := s.tasks.Period()
	s.pushScheduler.AnnounceTiers(s.tasks.UserPoints(), s.tasks.RewardTiers(), period.Start.Format(time.DateOnly))
}

// Start loads the task store and starts background work: change bridges,
// the reminder scheduler and cleanup loops.
func (s *Server) Start(ctx context.Context) error {
	if err := s.tasks.Load(ctx); err != nil {
		return fmt.Errorf("load task store: %w", err)
	}
	if err := s.syncMonthlyPoints(ctx, taskstore.TablePoints); err != nil {
		s.logger.Warn("initial monthly points sync", "error", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.localBridge.Connect(ctx); err != nil {
		return fmt.Errorf("connect local bridge: %w", err)
	}
	if s.remoteBridge != nil {
		// The peer may come up later; run without it rather than fail.
		if err := s.remoteBridge.Connect(ctx); err != nil {
			s.logger.Warn("remote change feed unavailable", "url", s.cfg.Realtime.RemoteURL, "error", err)
		}
	}

	s.pushScheduler.Start(ctx)
	go s.rateLimiter.Run(ctx, time.Minute)
	go s.pruneRevocations(ctx, time.Hour)
	return nil
}

// Stop halts background work started by Start.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.pushScheduler.Stop()
	if err := s.localBridge.Disconnect(); err != nil {
		s.logger.Warn("disconnect local bridge", "error", err)
	}
	if s.remoteBridge != nil {
		if err := s.remoteBridge.Disconnect(); err != nil {
			s.logger.Warn("disconnect remote bridge", "error", err)
		}
	}
}

func (s *Server) pruneRevocations(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ids.PruneRevocations()
			if err != nil {
				s.logger.Error("prune revoked tokens", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("pruned revoked tokens", "count", n)
			}
		}
	}
}

// Tasks returns the task store.
func (s *Server) Tasks() *taskstore.Store {
	return s.tasks
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /auth/signup", s.rateLimitedHandler(s.authH.SignUp))
	outerMux.HandleFunc("POST /auth/signin", s.rateLimitedHandler(s.authH.SignIn))
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("OPTIONS /functions/approval-email", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	requireAuth := middleware.RequireAuth(s.ids, s.profiles)

	// Signed in, approval not required
	outerMux.Handle("POST /auth/signout", requireAuth(http.HandlerFunc(s.authH.SignOut)))
	outerMux.Handle("GET /api/me", requireAuth(http.HandlerFunc(s.authH.Me)))
	outerMux.Handle("PUT /api/me", requireAuth(http.HandlerFunc(s.authH.UpdateMe)))

	// Approved users only
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	approved := requireAuth(middleware.RequireApproved(protectedMux))
	outerMux.Handle("/api/", approved)
	outerMux.Handle("/functions/", approved)
	outerMux.Handle("GET /ws", approved)

	handler := middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
	return middleware.CORS(s.cfg.CORSOrigins)(handler)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"realtime": s.localBridge.State().String(),
		"clients":  s.hub.ClientCount(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByIP, 10, time.Minute)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.taskH.Complete)
	mux.HandleFunc("PUT /api/tasks/{id}/status", s.taskH.SetStatus)
	mux.HandleFunc("GET /api/tasks/{id}/availability", s.taskH.Availability)

	// Points and rewards
	mux.HandleFunc("GET /api/stats/tasks", s.pointsH.TaskStats)
	mux.HandleFunc("GET /api/stats/points", s.pointsH.PointsStats)
	mux.HandleFunc("GET /api/leaderboard", s.pointsH.Leaderboard)
	mux.HandleFunc("GET /api/reward-tiers", s.pointsH.RewardTiers)
	mux.Handle("PUT /api/reward-tiers", admin(s.pointsH.UpdateRewardTiers))
	mux.Handle("PUT /api/monthly-target", admin(s.pointsH.UpdateMonthlyTarget))
	mux.Handle("POST /api/points/reset", admin(s.pointsH.ResetPoints))
	mux.Handle("GET /api/reports/summary", admin(s.pointsH.Summary))

	// Notifications
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)

	// Administration
	mux.Handle("GET /api/profiles", admin(s.adminH.ListProfiles))
	mux.Handle("POST /api/profiles/{id}/approve", admin(s.adminH.Approve))
	mux.Handle("POST /functions/delete-user", admin(s.adminH.DeleteUser))
	mux.Handle("POST /functions/approval-email", admin(s.adminH.ApprovalEmail))

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
