package practice

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the student-facing API. The paths and response shapes
// match what the platform client expects.
func Routes(r chi.Router, store Store, auth *AuthService) {
	r.Post("/auth/login", LoginHandler(auth, store))

	r.Group(func(pr chi.Router) {
		pr.Use(JWTMiddleware(auth))

		pr.Get("/tests", listTestsHandler(store))
		pr.Get("/tests/{slug}", testDetailHandler(store))
		pr.Post("/tests/{slug}/attempts", startAttemptHandler(store))
		pr.Get("/tests/{slug}/attempts/{attemptID}", getAttemptHandler(store))
		pr.Post("/tests/{slug}/attempts/{attemptID}/answers", saveAnswerHandler(store))
		pr.Post("/tests/{slug}/attempts/{attemptID}/submit", submitAttemptHandler(store))
		pr.Post("/tests/{slug}/attempts/{attemptID}/violations", addViolationHandler(store))
		pr.Get("/leaderboard", leaderboardHandler(store))
	})
}

func listTestsHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tests, err := store.ListTests(r.Context())
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, tests)
	}
}

func testDetailHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := store.StudentView(r.Context(), chi.URLParam(r, "slug"), UserID(r.Context()))
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, detail)
	}
}

func startAttemptHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.StartAttempt(r.Context(), chi.URLParam(r, "slug"), UserID(r.Context()))
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, a)
	}
}

func getAttemptHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := attemptID(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad attempt id")
			return
		}
		a, err := store.GetAttempt(r.Context(), chi.URLParam(r, "slug"), id, UserID(r.Context()))
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, a)
	}
}

func saveAnswerHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := attemptID(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad attempt id")
			return
		}
		var req struct {
			ItemID int64 `json:"item_id"`
			Answer any   `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		err = store.SaveAnswer(r.Context(), chi.URLParam(r, "slug"), id, UserID(r.Context()), req.ItemID, req.Answer)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, map[string]bool{"saved": true})
	}
}

func submitAttemptHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := attemptID(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad attempt id")
			return
		}
		a, err := store.SubmitAttempt(r.Context(), chi.URLParam(r, "slug"), id, UserID(r.Context()))
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, a)
	}
}

// addViolationHandler lets a shell report anti-cheat events as they
// happen. The mobile client keeps its count local and lets the server
// settle the total on submission, so this endpoint mostly serves audit
// tooling.
func addViolationHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := attemptID(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad attempt id")
			return
		}
		err = store.AddViolation(r.Context(), chi.URLParam(r, "slug"), id, UserID(r.Context()))
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, map[string]bool{"recorded": true})
	}
}

func leaderboardHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := store.Leaderboard(r.Context(), limit)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeData(w, entries)
	}
}

func attemptID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "attemptID"), 10, 64)
}

func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrNotInProgress):
		writeErr(w, http.StatusConflict, "attempt is not in progress")
	case errors.Is(err, ErrAttemptActive):
		writeErr(w, http.StatusConflict, "an attempt is already in progress")
	case errors.Is(err, ErrAttemptLimit):
		writeErr(w, http.StatusForbidden, "maximum attempts reached")
	case errors.Is(err, ErrTestNotActive):
		writeErr(w, http.StatusForbidden, "test is not active")
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

func writeData(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": v})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
