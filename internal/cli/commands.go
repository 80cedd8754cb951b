package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/config"
	"diagnosai/backend/pkg/logger"

	"github.com/spf13/cobra"
)

// Version is printed by the version command
var Version = "dev"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg := config.New()

	rootCmd := &cobra.Command{
		Use:           "diagnosisctl",
		Short:         "DiagnosAI operator tooling",
		Long:          "diagnosisctl prepares the database and exercises the pneumonia model and WHO statistics without the HTTP server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(newInitDBCmd(cfg))
	rootCmd.AddCommand(newPredictCmd(cfg))
	rootCmd.AddCommand(newWHOCmd(cfg))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newInitDBCmd creates the initdb command
func newInitDBCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create or migrate the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
				cfg.Database.Driver = driver
			}
			if path, _ := cmd.Flags().GetString("path"); path != "" {
				cfg.Database.Path = path
			}

			db, err := config.NewDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := repository.Migrate(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database initialized")
			return nil
		},
	}

	cmd.Flags().String("driver", "", "Database driver (postgres or sqlite), defaults to DB_DRIVER")
	cmd.Flags().String("path", "", "SQLite file path, defaults to DB_PATH")
	return cmd
}

// newPredictCmd creates the predict command
func newPredictCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [IMAGE]",
		Short: "Classify a chest X-ray image",
		Long: `Preprocess a JPEG or PNG chest X-ray and ask the pneumonia model for a probability.
Example: diagnosisctl predict xray.png --model-url=http://localhost:8501/v1/models/pneumonia:predict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelURL, _ := cmd.Flags().GetString("model-url")
			threshold, _ := cmd.Flags().GetFloat64("threshold")

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			contentType := http.DetectContentType(data)
			model := ai.NewServingModel(modelURL, cfg.Pneumonia.Timeout)
			svc := service.NewPneumoniaService(model, threshold, logger.Discard())

			prediction, err := svc.Predict(cmd.Context(), contentType, data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), prediction)
		},
	}

	cmd.Flags().String("model-url", cfg.Pneumonia.ServingURL, "TensorFlow Serving predict URL")
	cmd.Flags().Float64("threshold", cfg.Pneumonia.Threshold, "Probability above which pneumonia is reported")
	return cmd
}

// newWHOCmd creates the who command group
func newWHOCmd(cfg *config.Config) *cobra.Command {
	whoCmd := &cobra.Command{
		Use:   "who",
		Short: "Query the WHO Global Health Observatory",
	}
	whoCmd.PersistentFlags().String("url", cfg.HealthStats.BaseURL, "GHO API base URL")

	client := func(cmd *cobra.Command) *service.WHOClient {
		url, _ := cmd.Flags().GetString("url")
		return service.NewWHOClient(url, cfg.HealthStats.Timeout)
	}

	countriesCmd := &cobra.Command{
		Use:   "countries",
		Short: "List country codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")

			countries, err := client(cmd).Countries(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, c := range countries {
				if filter != "" && !strings.Contains(strings.ToLower(c.Title), strings.ToLower(filter)) {
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", c.Code, c.Title)
			}
			return nil
		},
	}
	countriesCmd.Flags().String("filter", "", "Only show countries whose name contains this text")

	indicatorsCmd := &cobra.Command{
		Use:   "indicators [COUNTRY_CODE]",
		Short: "Print the indicator rows for a country",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.ToUpper(strings.TrimSpace(args[0]))
			data, err := client(cmd).Indicators(cmd.Context(), code)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	whoCmd.AddCommand(countriesCmd, indicatorsCmd)
	return whoCmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diagnosisctl %s\n", Version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the root command with ctx
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
