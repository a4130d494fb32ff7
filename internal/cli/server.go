package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisstore "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/logging"
	"quiz-attempt-service/internal/metrics"
	"quiz-attempt-service/internal/progress"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	log := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer func() { _ = log.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	loader, err := quizLoader(cfg, pool)
	if err != nil {
		return err
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL, log)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var attempts app.AttemptRepository = memory.NewAttemptRepository()
	if pool != nil {
		attempts = pgstore.NewAttemptRepository(pool)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		snapshots progress.Store = memory.NewProgressStore()
		sessions  app.SessionRepository
	)
	if redisClient != nil {
		snapshots = redisstore.NewProgressStore(redisClient, cfg.SnapshotTTL())
		store := redisstore.NewSessionStore(redisClient, redisTTL, instanceID(cfg.Server.Port))
		go refreshSessions(runCtx, store, redisTTL/2, log)
		sessions = store
	} else {
		sessions = memory.NewSessionStore()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	service := app.NewAttemptService(quizRepo, attempts, app.WithLogger(log), app.WithMetrics(m))
	manager := app.NewSessionManager(sessions, app.NewLocalBackend(service), snapshots, cfg.AttemptConfig(),
		app.WithSessionLogger(log),
		app.WithSessionMetrics(m),
	)
	perSecond, burst := cfg.WSLimits()
	wsHandler := transport.NewWSHandler(manager, service,
		transport.WithRateLimit(perSecond, burst),
		transport.WithWSLogger(log),
	)

	mux := http.NewServeMux()
	transport.NewAPI(service, m, log).Register(mux)
	mux.HandleFunc("/ws/attempt", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz attempt service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
			cancelRun()
		}
	}()

	<-runCtx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// quizLoader picks the quiz source: Postgres, a JSON seed file, or the
// built-in demo quiz.
func quizLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	if pool != nil {
		return pgstore.NewQuizLoader(pool), nil
	}
	if cfg.Quiz.Seed != "" {
		return memory.LoadStaticQuizFile(cfg.Quiz.Seed)
	}
	return memory.NewStaticQuizLoader(sampleQuizzes()), nil
}

func refreshSessions(ctx context.Context, store *redisstore.SessionStore, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := store.Refresh(ctx); err != nil {
				log.Warn("refreshing session markers", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func instanceID(port string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:                 "quiz-1",
			Title:              "Warm-up",
			TimeLimitMinutes:   5,
			PassingScore:       60,
			MaxAttempts:        3,
			Active:             true,
			ShowCorrectAnswers: true,
			AllowReview:        true,
			Questions: []domain.Question{
				{
					ID:             "q1",
					Type:           domain.QuestionSingleSelect,
					Prompt:         "What is 2 + 2?",
					Options:        []string{"3", "4", "5"},
					CorrectAnswers: []string{"4"},
					Points:         1,
				},
				{
					ID:             "q2",
					Type:           domain.QuestionMultiSelect,
					Prompt:         "Which of these are prime?",
					Options:        []string{"2", "4", "7", "9"},
					CorrectAnswers: []string{"2", "7"},
					Points:         2,
				},
				{
					ID:             "q3",
					Type:           domain.QuestionTrueFalse,
					Prompt:         "Go has generics.",
					Options:        []string{"true", "false"},
					CorrectAnswers: []string{"true"},
					Points:         1,
				},
				{
					ID:             "q4",
					Type:           domain.QuestionFillBlank,
					Prompt:         "The zero value of a pointer is ____.",
					CorrectAnswers: []string{"nil"},
					Points:         1,
					Explanation:    "Pointers, maps, slices, channels and funcs all default to nil.",
				},
				{
					ID:     "q5",
					Type:   domain.QuestionEssay,
					Prompt: "Describe when you would use a buffered channel.",
					Points: 3,
				},
			},
		},
	}
}
