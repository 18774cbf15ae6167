package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

func TestBuildRuntimeRequiresConfig(t *testing.T) {
	if _, err := BuildRuntime(context.Background(), nil, logging.New("error")); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildRuntimeRequiresBackendURL(t *testing.T) {
	if _, err := BuildRuntime(context.Background(), &appconfig.Config{}, logging.New("error")); err == nil {
		t.Fatalf("expected error for empty backend url")
	}
}

func TestBuildRuntimeWithoutOptionalStores(t *testing.T) {
	cfg := &appconfig.Config{BackendBaseURL: "http://backend.test/api"}

	rt, err := BuildRuntime(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rt.Close()
	if rt.Patients == nil {
		t.Fatalf("expected patients client")
	}
	if rt.Locker != nil || rt.Audit != nil {
		t.Fatalf("expected lock and audit disabled without redis or database")
	}
	if got := len(rt.OrchestratorOptions(time.Minute, nil, logging.New("error"))); got != 2 {
		t.Fatalf("expected recorder and logger options only, got %d", got)
	}
}

func TestBuildRuntimeWithRedisEnablesLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{BackendBaseURL: "http://backend.test/api", RedisAddr: mr.Addr()}

	rt, err := BuildRuntime(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rt.Close()
	if rt.Redis == nil || rt.Locker == nil {
		t.Fatalf("expected redis-backed locker")
	}
	if got := len(rt.OrchestratorOptions(time.Minute, nil, logging.New("error"))); got != 3 {
		t.Fatalf("expected locker option, got %d options", got)
	}
}

func TestBuildRedisClientUnreachableReturnsNil(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.New("error"), true)
	if client != nil {
		t.Fatalf("expected nil client when redis is down")
	}
}

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without address")
	}
}

func TestOpenDatabaseEmptyURL(t *testing.T) {
	db, err := OpenDatabase(context.Background(), "  ")
	if err != nil || db != nil {
		t.Fatalf("expected nil database without url, got %v, %v", db, err)
	}
}
