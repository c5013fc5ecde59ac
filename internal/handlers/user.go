package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/accountsync/userservice/internal/services"
	"github.com/accountsync/userservice/internal/store"
	"github.com/accountsync/userservice/types"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	headerUserID        = "X-User-Id"
	headerUserEmail     = "X-User-Email"
	headerUserFirstName = "X-User-FirstName"
	headerUserLastName  = "X-User-LastName"
	headerUserUsername  = "X-User-Username"
	headerUserRoles     = "X-User-Roles"
)

type contextKey string

const contextIdentityKey contextKey = "identity"

// Identity carries the attributes of the already-authenticated caller. The
// upstream gateway either forwards them as trusted X-User-* headers or
// signs them into a token this layer verifies.
type Identity struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Username  string
	Roles     string
}

// UserHandler provides HTTP handlers for account operations.
type UserHandler struct {
	accountService *services.AccountService
}

// NewUserHandler constructs a handler with the provided service.
func NewUserHandler(accountService *services.AccountService) *UserHandler {
	return &UserHandler{accountService: accountService}
}

// UserRouter registers user routes on the given router. gatewayJWTSecret
// may be empty, in which case identity headers are trusted as-is.
func UserRouter(r chi.Router, accountService *services.AccountService, gatewayJWTSecret string) {
	handler := NewUserHandler(accountService)
	identity := TrustedIdentity(gatewayJWTSecret)

	r.Get("/", handler.ListUsers)
	r.With(identity).Post("/register", handler.Register)
	r.With(identity).Delete("/account", handler.DeleteAccount)
}

// TrustedIdentity resolves the caller's identity and injects it into the
// request context. With a secret configured, requests must carry a
// gateway-signed HS256 bearer token whose claims provide the identity;
// without one, the X-User-* headers are trusted (the gateway has already
// authenticated the caller).
func TrustedIdentity(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	verify := len(jwtSecret) > 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity Identity
			if verify {
				tokenString, err := bearerToken(r)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				identity, err = parseGatewayToken(tokenString, secret)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			} else {
				identity = identityFromHeaders(r)
			}

			ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Register upserts the caller's account from the forwarded identity
// attributes and returns the persisted view.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.ID) == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	account, err := h.accountService.Register(r.Context(), services.RegisterInput{
		ID:        identity.ID,
		Email:     identity.Email,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Username:  identity.Username,
		Roles:     identity.Roles,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(account))
}

// ListUsers returns a snapshot of accounts, optionally filtered by role.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountService.List(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	resp := make([]UserResponse, 0, len(accounts))
	for _, account := range accounts {
		resp = append(resp, toUserResponse(account))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteAccount deletes the caller's own account. A 502 means the local
// delete committed but the deletion event was not published; the upstream
// may surface a warning and retry the delete, which is idempotent.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.ID) == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	if err := h.accountService.Delete(r.Context(), identity.ID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, services.ErrEventPublish):
			writeError(w, http.StatusBadGateway, "account deleted but deletion event was not published")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete account")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(account types.Account) UserResponse {
	return UserResponse{
		ID:        account.ID,
		Email:     account.Email,
		Username:  account.Username,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		CreatedAt: account.CreatedAt,
	}
}

type gatewayClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
	Roles             string `json:"roles"`
}

func parseGatewayToken(tokenString string, secret []byte) (Identity, error) {
	claims := gatewayClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, errors.New("missing subject")
	}

	return Identity{
		ID:        claims.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Username:  claims.PreferredUsername,
		Roles:     claims.Roles,
	}, nil
}

func identityFromHeaders(r *http.Request) Identity {
	return Identity{
		ID:        strings.TrimSpace(r.Header.Get(headerUserID)),
		Email:     strings.TrimSpace(r.Header.Get(headerUserEmail)),
		FirstName: strings.TrimSpace(r.Header.Get(headerUserFirstName)),
		LastName:  strings.TrimSpace(r.Header.Get(headerUserLastName)),
		Username:  strings.TrimSpace(r.Header.Get(headerUserUsername)),
		Roles:     strings.TrimSpace(r.Header.Get(headerUserRoles)),
	}
}

func identityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(Identity)
	return identity, ok
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
