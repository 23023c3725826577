package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gate-service/internal/db"
	"gate-service/internal/identity"
	"gate-service/internal/repository"
	"gate-service/internal/service"
)

func init() {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a vehicle and its owner's reference photo",
		RunE:  runRegister,
	}

	cmd.Flags().StringP("plate", "p", "", "License plate (required)")
	cmd.Flags().StringP("owner", "o", "", "Owner name (required)")
	cmd.Flags().StringP("image", "i", "", "Path to the owner's face image (required)")

	cmd.MarkFlagRequired("plate")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("image")

	RootCmd.AddCommand(cmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	plate, _ := cmd.Flags().GetString("plate")
	owner, _ := cmd.Flags().GetString("owner")
	imagePath, _ := cmd.Flags().GetString("image")

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	gdb, err := db.Connect(cmd.Context(), cfg.DB.DSN(), log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(gdb)

	store := identity.NewFileStore(cfg.Storage.BaseDir, log)
	svc := service.NewVehicleService(repository.NewAccessRepository(gdb), store, log)

	vehicle, err := svc.Register(cmd.Context(), plate, owner, image)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(vehicle)
}
