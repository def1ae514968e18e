package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lymhealth/coaching-engine/internal/coach"
	httpmiddleware "github.com/lymhealth/coaching-engine/internal/http/middleware"
	"github.com/lymhealth/coaching-engine/pkg/logging"
)

type echoService struct{}

func (echoService) StartConversation(_ context.Context, req coach.StartRequest) (*coach.ConversationResponse, error) {
	return &coach.ConversationResponse{Message: "Bonjour !"}, nil
}

func (echoService) ProcessMessage(_ context.Context, req coach.MessageRequest) (*coach.ConversationResponse, error) {
	return &coach.ConversationResponse{Message: "Reçu: " + req.Message}, nil
}

func (echoService) GetHistory(_ context.Context, _ string) ([]coach.ConversationTurn, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := logging.Default()
	handler := coach.NewHandler(echoService{}, logger)
	return New(&Config{
		Logger:        logger,
		CoachHandler:  handler,
		AuthJWTSecret: "test-secret",
	})
}

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	claims := httpmiddleware.UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Tier: "free",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterCoachRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(coach.MessageRequest{ConversationID: "c1", Message: "j'ai faim"})
	req := httptest.NewRequest(http.MethodPost, "/v1/coach/message", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterCoachMessageEndpoint(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(coach.MessageRequest{ConversationID: "c1", Message: "j'ai faim"})
	req := httptest.NewRequest(http.MethodPost, "/v1/coach/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret"))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp coach.ConversationResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "Reçu: j'ai faim" {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

// Guards against silently dropping the history route: a GET with a valid
// token must reach the handler, not fall through to chi's 404.
func TestRouterCoachHistoryRegistered(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/coach/history/c1", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret"))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code == http.StatusNotFound || rr.Code == http.StatusMethodNotAllowed {
		t.Fatalf("history route not registered, got %d", rr.Code)
	}
}

func TestRouterMetricsEndpointDisabledByDefault(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a metrics handler, got %d", rr.Code)
	}
}
