package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"preflight/internal/app"
	"preflight/internal/config"
	"preflight/internal/db"
	"preflight/internal/domain"
	"preflight/internal/engine"
	"preflight/internal/server"
	"preflight/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "Preflight CLI",
	Long: `Preflight validates tabular client, worker and task data before it
reaches a downstream allocator.
- Workspace: a .preflight directory holding the database; optional
  preflight.yml next to it tunes validation and suggestions.
- Datasets: clients, workers, tasks; each import replaces the stored
  collection and re-runs all checks.
- Diagnostics: row, collection and cross-entity findings with severity.
- Rules: co-run, load-limit, phase-window and friends; validated
  against the data and exported as rules.json for the allocator.
- Weights: prioritization criteria, normalized to sum to 1.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PREFLIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(recordsCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(weightsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, _, err := app.OpenWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <kind> <file>",
		Short: "Import a CSV or XLSX dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := engine.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportFile(ctx, kind, args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %d rows read, %d records kept, %d finding(s)\n",
					res.Kind, res.Rows, res.Records, len(res.Diagnostics))
				printDiagnosticsTable(append(res.Diagnostics, res.Cross...))
				return nil
			})
		},
	}
	return cmd
}

func checkCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show stored diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				diags, err := e.Diagnostics(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(diags)
				}
				if len(diags) == 0 {
					fmt.Println("No findings.")
					return nil
				}
				printDiagnosticsTable(diags)
				errs := 0
				for _, d := range diags {
					if d.Severity == domain.SeverityError {
						errs++
					}
				}
				fmt.Printf("%d finding(s), %d error(s)\n", len(diags), errs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "clients, workers, tasks, cross or rules")
	return cmd
}

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records <kind>",
		Short: "List stored records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := engine.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Records(ctx, kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				printRowsTable(rows)
				return nil
			})
		},
	}
	return cmd
}

func editCmd() *cobra.Command {
	var field, value string
	cmd := &cobra.Command{
		Use:   "edit <kind> <id>",
		Short: "Edit one field of a record and re-validate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := engine.ParseKind(args[0])
			if err != nil {
				return err
			}
			if field == "" {
				return fmt.Errorf("--field required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.EditRecord(ctx, kind, args[1], field, value, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s %s updated; %d finding(s)\n", kind, args[1], len(res.Diagnostics))
				printDiagnosticsTable(append(res.Diagnostics, res.Cross...))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "column name")
	cmd.Flags().StringVar(&value, "value", "", "new value")
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Manage business rules"}
	rules.AddCommand(rulesSuggestCmd())
	rules.AddCommand(rulesValidateCmd())
	rules.AddCommand(rulesImportCmd())
	rules.AddCommand(rulesListCmd())
	return rules
}

func rulesSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest rules from the current data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				suggested, err := e.SuggestRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggested)
				}
				if len(suggested) == 0 {
					fmt.Println("No suggestions.")
					return nil
				}
				printRulesTable(suggested)
				return nil
			})
		},
	}
	return cmd
}

func rulesValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rules file against the current data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleList, err := readRulesFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				diags, err := e.ValidateRules(ctx, ruleList)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(diags)
				}
				if len(diags) == 0 {
					fmt.Printf("%d rule(s) OK\n", len(ruleList))
					return nil
				}
				printDiagnosticsTable(diags)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to rules JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rulesImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate and store a rules file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleList, err := readRulesFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				diags, err := e.SaveRules(ctx, ruleList, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"rules": len(ruleList), "diagnostics": diags})
				}
				fmt.Printf("Stored %d rule(s), %d finding(s)\n", len(ruleList), len(diags))
				printDiagnosticsTable(diags)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to rules JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ruleList, err := e.Repo.ListRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ruleList)
				}
				printRulesTable(ruleList)
				return nil
			})
		},
	}
	return cmd
}

func weightsCmd() *cobra.Command {
	weights := &cobra.Command{Use: "weights", Short: "Manage prioritization weights"}
	weights.AddCommand(weightsShowCmd())
	weights.AddCommand(weightsSetCmd())
	return weights
}

func weightsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Weights(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				printWeightsTable(w)
				return nil
			})
		},
	}
	return cmd
}

func weightsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name=value>...",
		Short: "Set weights; values are normalized to sum to 1",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := domain.Weights{}
			for _, arg := range args {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected name=value, got %q", arg)
				}
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("invalid weight %q: %w", arg, err)
				}
				w[name] = v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				normalized, err := e.SetWeights(ctx, w, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(normalized)
				}
				printWeightsTable(normalized)
				return nil
			})
		},
	}
	return cmd
}

func exportCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write cleaned CSVs and rules.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				written, err := e.Export(ctx, outDir, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(written)
				}
				for _, f := range written {
					fmt.Println(f)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "export", "output directory")
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(apikeyDeleteCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			secret := uuid.NewString()
			key := store.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actor,
				Name:      name,
				KeyHash:   store.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r store.Repo) error {
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "key": secret})
				}
				fmt.Printf("API key %s created for %s\nSecret (save it now): %s\n", key.ID, actor, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r store.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r store.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.OpenWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PREFLIGHT_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PREFLIGHT_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Preflight API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.NewEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, store.Repo) error) error {
	conn, _, err := app.OpenWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, store.Repo{DB: conn})
}

func readRulesFile(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Accept either a bare array or a {"rules": [...]} document.
	var doc struct {
		Rules []domain.Rule `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err == nil && doc.Rules != nil {
		return doc.Rules, nil
	}
	var ruleList []domain.Rule
	if err := json.Unmarshal(data, &ruleList); err != nil {
		return nil, fmt.Errorf("invalid rules file: %w", err)
	}
	return ruleList, nil
}

func printDiagnosticsTable(diags []domain.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"SEVERITY", "TYPE", "ENTITY", "FIELD", "ROW", "MESSAGE"})
	for _, d := range diags {
		row := ""
		if d.Row != nil {
			row = strconv.Itoa(*d.Row)
		}
		t.AppendRow(table.Row{d.Severity, d.Type, d.Entity, d.Field, row, d.Message})
	}
	t.Render()
}

func printRulesTable(rules []domain.Rule) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "TYPE", "NAME"})
	for _, r := range rules {
		t.AppendRow(table.Row{r.ID, r.Type, r.Name})
	}
	t.Render()
}

func printWeightsTable(w domain.Weights) {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"CRITERION", "WEIGHT"})
	for _, name := range names {
		t.AppendRow(table.Row{name, fmt.Sprintf("%.3f", w[name])})
	}
	t.Render()
}

func printRowsTable(rows []domain.Row) {
	if len(rows) == 0 {
		fmt.Println("No records.")
		return
	}
	headers := make([]string, 0, len(rows[0]))
	for h := range rows[0] {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	hdr := make(table.Row, len(headers))
	for i, h := range headers {
		hdr[i] = h
	}
	t.AppendHeader(hdr)
	for _, r := range rows {
		row := make(table.Row, len(headers))
		for i, h := range headers {
			row[i] = fmt.Sprintf("%v", r[h])
		}
		t.AppendRow(row)
	}
	t.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
