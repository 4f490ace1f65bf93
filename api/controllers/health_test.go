package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/solcoupons-backend/pkg/config"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthLive("dev")(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-SolCoupons-Env") != "dev" {
		t.Fatalf("missing env header")
	}
}

func TestHealthReadyReportsDownDependency(t *testing.T) {
	deps := map[string]Pinger{
		"store": pingFunc(func(context.Context) error { return nil }),
		"redis": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		"unset": nil,
	}
	rec := httptest.NewRecorder()
	HealthReady("dev", deps, logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"redis":"down"`) || !strings.Contains(body, `"store":"up"`) {
		t.Fatalf("unexpected body %s", body)
	}
	if strings.Contains(body, "refused") {
		t.Fatalf("ping error leaked: %s", body)
	}
}

func TestHealthReadyAllUp(t *testing.T) {
	deps := map[string]Pinger{"store": pingFunc(func(context.Context) error { return nil })}
	rec := httptest.NewRecorder()
	HealthReady("dev", deps, nil)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ready"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusReportsPoolAndModes(t *testing.T) {
	cfg := &config.Config{
		Pool:     config.PoolConfig{Address: "POOL1", Network: "devnet"},
		Transfer: config.TransferConfig{Mode: "simulated"},
		Store:    config.StoreConfig{Backend: "file"},
	}
	rec := httptest.NewRecorder()
	Status(cfg)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var out statusResponse
	decodeData(t, rec, &out)
	if out.PoolAddress != "POOL1" || out.Network != "devnet" || out.TransferMode != "simulated" || out.StoreBackend != "file" {
		t.Fatalf("unexpected status %+v", out)
	}
}
