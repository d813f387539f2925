package practice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type AuthService struct{ hmac []byte }

func NewAuthService(secret string) *AuthService { return &AuthService{hmac: []byte(secret)} }

type Claims struct {
	Sub      string `json:"sub"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:      sub,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "codeknight-practice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(8 * time.Hour)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	c, _ := token.Claims.(*Claims)
	return c, nil
}

type ctxKey int

const userIDKey ctxKey = 0

// UserID returns the authenticated student's id from the request context.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// LoginHandler exchanges username/password for a bearer token. Unknown
// usernames are registered on first login; this is a practice server,
// not an identity provider.
func LoginHandler(a *AuthService, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeErr(w, http.StatusBadRequest, "username and password required")
			return
		}

		u, err := store.GetUserByUsername(r.Context(), req.Username)
		switch {
		case errors.Is(err, ErrNotFound):
			hash, herr := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
			if herr != nil {
				writeErr(w, http.StatusInternalServerError, "hash password")
				return
			}
			u, err = store.CreateUser(r.Context(), req.Username, string(hash))
			if err != nil {
				writeErr(w, http.StatusInternalServerError, "create user")
				return
			}
		case err != nil:
			writeErr(w, http.StatusInternalServerError, "lookup user")
			return
		default:
			if bcrypt.CompareHashAndPassword([]byte(u.PassHash), []byte(req.Password)) != nil {
				writeErr(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
		}

		tok, err := a.IssueJWT(u.ID, u.Username)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "issue token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": tok, "username": u.Username})
	}
}

// JWTMiddleware authenticates Bearer tokens and attaches the student id.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeErr(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
