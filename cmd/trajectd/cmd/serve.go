package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/traject/internal/api"
	"github.com/seantiz/traject/internal/config"
	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/controller/sim"
	"github.com/seantiz/traject/internal/executor"
	"github.com/seantiz/traject/internal/store"
)

var (
	serveControllers []string
	serveTimeScale   float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trajectory execution daemon",
	Long: `Starts the HTTP server backed by the simulated controller provider.
Controllers are declared as name=joint1,joint2 pairs; a hardware provider
replaces the simulator by linking against the controller.Provider interface.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringArrayVar(&serveControllers, "controller", []string{
		"arm=shoulder_pan,shoulder_lift,elbow,wrist",
		"gripper=finger_left,finger_right",
	}, "simulated controller as name=joint1,joint2 (repeatable)")
	serveCmd.Flags().Float64Var(&serveTimeScale, "time-scale", 1.0,
		"simulated execution speed multiplier (0.1 = 10x faster)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("trajectd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"manage_controllers", cfg.Execution.ManageControllers,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	provider := sim.NewProvider(serveTimeScale)
	for _, spec := range serveControllers {
		name, joints, err := parseControllerSpec(spec)
		if err != nil {
			return err
		}
		provider.Add(name, joints, false)
		logger.Info("registered simulated controller", "name", name, "joints", joints)
	}

	reg := controller.NewRegistry(provider, cfg.Execution.ManageControllers, logger)
	if err := reg.Refresh(); err != nil {
		return fmt.Errorf("initial controller refresh: %w", err)
	}

	ex := executor.New(reg, db, provider, cfg.Execution, logger)
	defer ex.Close()

	srv := api.NewServer(cfg.ListenAddr, db, ex, logger)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// parseControllerSpec splits "name=joint1,joint2" into its parts.
func parseControllerSpec(spec string) (string, []string, error) {
	name, jointList, ok := strings.Cut(spec, "=")
	if !ok || name == "" || jointList == "" {
		return "", nil, fmt.Errorf("invalid controller spec %q, want name=joint1,joint2", spec)
	}
	joints := strings.Split(jointList, ",")
	for _, j := range joints {
		if j == "" {
			return "", nil, fmt.Errorf("invalid controller spec %q, empty joint name", spec)
		}
	}
	return name, joints, nil
}
