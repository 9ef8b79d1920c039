// testserver starts a traject API server with a fast simulated controller
// provider for E2E testing. Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/seantiz/traject/internal/api"
	"github.com/seantiz/traject/internal/config"
	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/controller/sim"
	"github.com/seantiz/traject/internal/executor"
	"github.com/seantiz/traject/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("TRAJECT_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Simulated hardware running 100x real time so E2E runs stay quick.
	provider := sim.NewProvider(0.01)
	provider.Add("arm", []string{"shoulder_pan", "shoulder_lift", "elbow", "wrist"}, true)
	provider.Add("gripper", []string{"finger_left", "finger_right"}, true)
	provider.Add("arm_alt", []string{"shoulder_pan", "elbow"}, false)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	reg := controller.NewRegistry(provider, true, logger)
	if err := reg.Refresh(); err != nil {
		log.Fatalf("failed to refresh controllers: %v", err)
	}

	ec := config.DefaultExecution()
	ex := executor.New(reg, db, provider, ec, logger)
	defer ex.Close()

	srv := api.NewServer(addr, db, ex, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
