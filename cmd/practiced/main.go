package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/wybie18/codeknight-go/internal/config"
	"github.com/wybie18/codeknight-go/internal/db"
	"github.com/wybie18/codeknight-go/internal/platform"
	"github.com/wybie18/codeknight-go/internal/practice"
)

func main() {
	cfg := config.FromEnv()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Error("db open failed", "error", err)
		os.Exit(1)
	}

	store := practice.NewSQLStore(dbh, practice.NewGrader())
	if err := seedDemoTest(store); err != nil {
		log.Warn("demo seed failed", "error", err)
	}
	authSvc := practice.NewAuthService(cfg.AuthSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	practice.Routes(r, store, authSvc)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info("practice server listening", "addr", cfg.HTTPAddr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("practice server stopped")
}

// seedDemoTest installs a small timed test on first run so the client
// has something to take out of the box.
func seedDemoTest(store practice.Store) error {
	existing, err := store.ListTests(context.Background())
	if err != nil || len(existing) > 0 {
		return err
	}
	duration := 30
	correct := 1
	boolAnswer := true
	_, err = store.PutTest(context.Background(), platform.Test{
		Slug:            "go-basics",
		Title:           "Go Basics",
		Description:     "Warm-up covering syntax and the standard library.",
		DurationMinutes: &duration,
		TotalPoints:     10,
		MaxAttempts:     3,
		Status:          platform.TestStatusActive,
		Items: []platform.TestItem{
			{
				ID: 1, Order: 1, Points: 3, Type: platform.ItemMultipleChoice,
				Payload: &platform.MultipleChoiceQuestion{
					Question:      "Which keyword declares a constant?",
					Options:       []string{"var", "const", "let", "final"},
					CorrectOption: &correct,
				},
			},
			{
				ID: 2, Order: 2, Points: 2, Type: platform.ItemBoolean,
				Payload: &platform.BooleanQuestion{
					Question:      "A nil map can be read from without panicking.",
					CorrectAnswer: &boolAnswer,
				},
			},
			{
				ID: 3, Order: 3, Points: 2, Type: platform.ItemFillBlank,
				Payload: &platform.FillBlankQuestion{
					Question:        "The builtin that yields a slice's length is ____.",
					AcceptedAnswers: []string{"len"},
				},
			},
			{
				ID: 4, Order: 4, Points: 3, Type: platform.ItemCoding,
				Payload: &platform.CodingProblem{
					Title:       "Reverse a string",
					Description: "Write Reverse(s string) string handling multi-byte runes.",
					Language:    "go",
				},
			},
		},
	})
	return err
}
