package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hireflow/hireflow/internal/log"
	internal_storage "github.com/hireflow/hireflow/internal/storage"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/service"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Install the standard hiring catalog (CLI)",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			catalog := service.NewCatalogService(store, log.GetLogger())
			tmpl, err := catalog.SeedDefaultCatalog()
			if err != nil {
				log.GetLogger().Errorf("Failed to seed catalog: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to seed catalog: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Seeded template '%s' with ID %s\n", tmpl.Name, tmpl.ID)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflow instances (CLI)",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			instances, err := store.ListInstances()
			if err != nil {
				log.GetLogger().Errorf("Failed to list instances: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list instances: %v\n", err)
				os.Exit(1)
			}
			if len(instances) == 0 {
				fmt.Fprintf(os.Stdout, "No instances found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Instances:\n")
			for _, inst := range instances {
				position := "-"
				if inst.CurrentBindingID != nil {
					position = *inst.CurrentBindingID
					if inst.StepPhase != nil {
						position = fmt.Sprintf("%s (%s)", position, *inst.StepPhase)
					}
				}
				fmt.Fprintf(os.Stdout, "- ID: %s, Status: %s, Step: %s, Started: %s\n",
					inst.ID, inst.Status, position, inst.StartedAt.Format(time.RFC3339))
			}
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Record a decision on an approval request",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			if len(args) != 3 {
				log.GetLogger().Errorf("Wrong number of args, expected 3, got %v", len(args))
				fmt.Println("Usage: approve request=<id> responder=<id> decision=<APPROVE|REJECT>")
				os.Exit(1)
			}
			requestID := strings.Split(args[0], "=")[1]
			responderID := strings.Split(args[1], "=")[1]
			decision := models.Decision(strings.ToUpper(strings.Split(args[2], "=")[1]))
			if requestID == "" || responderID == "" {
				fmt.Println("Error: request and responder are required")
				os.Exit(1)
			}
			if decision != models.ApproveDecision && decision != models.RejectDecision {
				fmt.Println("Error: decision must be APPROVE or REJECT")
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			engine, dispatcher := buildEngine(store)
			defer dispatcher.Stop()
			status, err := engine.SubmitApprovalDecision(requestID, responderID, decision, "")
			if err != nil {
				log.GetLogger().Errorf("Failed to record decision: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to record decision: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Recorded %s on request %s; request is now %s\n", decision, requestID, status)
		},
	}

	rootCmd.AddCommand(seedCmd, listCmd, approveCmd)
}

func buildEngine(store *internal_storage.PostgresStore) (*service.ExecutionEngine, *service.Dispatcher) {
	logger := log.GetLogger()
	catalog := service.NewCatalogService(store, logger)
	approvals := service.NewApprovalService(store, logger)
	dispatcher := service.NewDispatcher(context.Background(), service.NewLoggingExecutor(logger), logger)
	engine := service.NewExecutionEngine(store, catalog, approvals, dispatcher, logger)
	dispatcher.Start(1)
	return engine, dispatcher
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
