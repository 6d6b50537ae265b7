package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hireflow/hireflow/internal/cli"
	internal_http "github.com/hireflow/hireflow/internal/http"
	"github.com/hireflow/hireflow/internal/log"
	internal_storage "github.com/hireflow/hireflow/internal/storage"
	"github.com/hireflow/hireflow/pkg/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "hireflow"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HireFlow HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Infof("No .env file found or failed to load: %v", err)
		}
		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			connStr = connStrFromEnv()
		}
		port, _ := cmd.Flags().GetString("port")
		workers, _ := cmd.Flags().GetInt("workers")

		store, err := internal_storage.InitStore(connStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		logger := log.GetLogger()
		catalog := service.NewCatalogService(store, logger)
		approvals := service.NewApprovalService(store, logger)
		dispatcher := service.NewDispatcher(context.Background(), service.NewLoggingExecutor(logger), logger)
		engine := service.NewExecutionEngine(store, catalog, approvals, dispatcher, logger)
		correlator := service.NewCorrelator(store, engine, logger)
		dispatcher.Start(workers)
		defer dispatcher.Stop()

		if err := internal_http.StartServer(port, internal_http.Services{
			Store:      store,
			Catalog:    catalog,
			Engine:     engine,
			Correlator: correlator,
		}); err != nil {
			log.GetLogger().Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func connStrFromEnv() string {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		fmt.Println("Error: --db flag or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
		os.Exit(1)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName)
}

func main() {
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	serveCmd.Flags().Int("workers", 0, "Dispatcher worker count (0 = number of CPUs)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.PersistentFlags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
