package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/accountsync/userservice/internal/services"
	"github.com/accountsync/userservice/internal/store"
	"github.com/accountsync/userservice/types"
)

type memoryAccountRepo struct {
	accounts map[string]types.Account
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{accounts: map[string]types.Account{}}
}

func (r *memoryAccountRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.accounts[id]
	return ok, nil
}

func (r *memoryAccountRepo) GetByID(_ context.Context, id string) (types.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (r *memoryAccountRepo) List(_ context.Context) ([]types.Account, error) {
	out := []types.Account{}
	for _, account := range r.accounts {
		out = append(out, account)
	}
	return out, nil
}

func (r *memoryAccountRepo) Save(_ context.Context, account types.Account) (types.Account, error) {
	if current, ok := r.accounts[account.ID]; ok {
		account.CreatedAt = current.CreatedAt
	}
	r.accounts[account.ID] = account
	return account, nil
}

func (r *memoryAccountRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *memoryAccountRepo) Transact(_ context.Context, fn func(services.AccountRepository) error) error {
	return fn(r)
}

type memoryPublisher struct {
	payloads []string
	failWith error
}

func (p *memoryPublisher) Publish(_ context.Context, _, _ string, data []byte, _ map[string]string) (string, error) {
	if p.failWith != nil {
		return "", p.failWith
	}
	p.payloads = append(p.payloads, string(data))
	return "msg-1", nil
}

func newTestRouter(repo *memoryAccountRepo, publisher *memoryPublisher, gatewayJWTSecret string) http.Handler {
	service := services.NewAccountService(repo, repo, publisher, nil, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, service, gatewayJWTSecret)
	})
	return router
}

func registerRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/users/register", nil)
	if id != "" {
		req.Header.Set(headerUserID, id)
	}
	req.Header.Set(headerUserEmail, "a@x.com")
	req.Header.Set(headerUserFirstName, "A")
	req.Header.Set(headerUserLastName, "B")
	req.Header.Set(headerUserUsername, "ab")
	req.Header.Set(headerUserRoles, "user")
	return req
}

func TestRegisterReturnsPersistedView(t *testing.T) {
	router := newTestRouter(newMemoryAccountRepo(), &memoryPublisher{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, registerRequest("u1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "u1" || resp.Email != "a@x.com" || resp.Username != "ab" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("createdAt missing from response")
	}
}

func TestRegisterWithoutIDIsBadRequest(t *testing.T) {
	router := newTestRouter(newMemoryAccountRepo(), &memoryPublisher{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, registerRequest(""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListUsersFiltersByRole(t *testing.T) {
	repo := newMemoryAccountRepo()
	now := time.Now()
	repo.accounts["u1"] = types.Account{ID: "u1", Roles: "admin", CreatedAt: now}
	repo.accounts["u2"] = types.Account{ID: "u2", Roles: "user", CreatedAt: now}
	router := newTestRouter(repo, &memoryPublisher{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users?role=admin", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp []UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != "u1" {
		t.Errorf("unexpected filtered list: %+v", resp)
	}
}

func deleteRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/users/account", nil)
	req.Header.Set(headerUserID, id)
	return req
}

func TestDeleteAccountLifecycle(t *testing.T) {
	repo := newMemoryAccountRepo()
	publisher := &memoryPublisher{}
	router := newTestRouter(repo, publisher, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, registerRequest("u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, deleteRequest("u1"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(publisher.payloads) != 1 || publisher.payloads[0] != "u1" {
		t.Errorf("expected one u1 deletion event, got %v", publisher.payloads)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	var resp []UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("expected empty list after delete, got %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, deleteRequest("u1"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestDeleteAccountPublishFailureIsBadGateway(t *testing.T) {
	repo := newMemoryAccountRepo()
	repo.accounts["u1"] = types.Account{ID: "u1", CreatedAt: time.Now()}
	publisher := &memoryPublisher{failWith: errors.New("broker down")}
	router := newTestRouter(repo, publisher, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, deleteRequest("u1"))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	// Local delete committed regardless.
	if _, ok := repo.accounts["u1"]; ok {
		t.Error("account still present after delete")
	}
}

func signGatewayToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":                subject,
		"email":              "a@x.com",
		"given_name":         "A",
		"family_name":        "B",
		"preferred_username": "ab",
		"roles":              "user",
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestGatewayTokenRequiredWhenSecretConfigured(t *testing.T) {
	router := newTestRouter(newMemoryAccountRepo(), &memoryPublisher{}, "gateway-secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, registerRequest("u1"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", rec.Code)
	}
}

func TestGatewayTokenProvidesIdentity(t *testing.T) {
	repo := newMemoryAccountRepo()
	router := newTestRouter(repo, &memoryPublisher{}, "gateway-secret")

	req := httptest.NewRequest(http.MethodPost, "/users/register", nil)
	req.Header.Set("Authorization", "Bearer "+signGatewayToken(t, "gateway-secret", "u1"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	account, ok := repo.accounts["u1"]
	if !ok {
		t.Fatal("account not persisted from token identity")
	}
	if account.Email != "a@x.com" || account.Username != "ab" {
		t.Errorf("unexpected account from token claims: %+v", account)
	}
}
