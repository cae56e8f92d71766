package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/sandbox"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check config, Docker daemon and load tool without running trials",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Printf("config OK: %d runtimes, %d concurrency levels, %d repetitions\n",
				len(cfg.Runtimes), len(cfg.Concurrency), cfg.Repetitions)

			ctrl, err := sandbox.NewController(logger)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			if err := ctrl.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("docker unreachable — is the daemon running? %w", err)
			}
			fmt.Println("docker daemon OK")

			bin, err := exec.LookPath(cfg.Load.Bin)
			if err != nil {
				return fmt.Errorf("load tool %q not on PATH", cfg.Load.Bin)
			}
			fmt.Printf("load tool OK: %s\n", bin)

			if cfg.Load.ScriptPath != "" {
				if _, err := os.Stat(cfg.Load.ScriptPath); err != nil {
					return fmt.Errorf("load script %q not readable: %w", cfg.Load.ScriptPath, err)
				}
				fmt.Printf("load script OK: %s\n", cfg.Load.ScriptPath)
			}
			return nil
		},
	}
}
