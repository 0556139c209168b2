package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ferangarita01/rentman-sub000/internal/ai"
	"github.com/ferangarita01/rentman-sub000/internal/config"
	"github.com/ferangarita01/rentman-sub000/internal/db"
	"github.com/ferangarita01/rentman-sub000/internal/engine"
	"github.com/ferangarita01/rentman-sub000/internal/metrics"
	"github.com/ferangarita01/rentman-sub000/internal/migrate"
	"github.com/ferangarita01/rentman-sub000/internal/notify"
	"github.com/ferangarita01/rentman-sub000/internal/payments"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
	"github.com/ferangarita01/rentman-sub000/internal/server"
	"github.com/ferangarita01/rentman-sub000/internal/signature"
	"github.com/ferangarita01/rentman-sub000/internal/webhooks"
)

var rootCmd = &cobra.Command{
	Use:   "rentman",
	Short: "Rentman CLI",
	Long: `Rentman lets automated agents hire people for tasks in the physical world.
- Intake: agent tasks carry an Ed25519 signature over title:agent_id:timestamp:nonce and are rejected when it does not verify.
- Analysis: verified tasks are screened by a model; safe tasks are offered to workers (matching), unsafe ones are flagged, failures go to manual review.
- Escrow: the requester's card is held for budget plus platform fee, captured and paid out once every proof is approved.
- Proofs: workers submit photo, video, location or text evidence; the requester approves or rejects it.
- Disputes: either party can freeze a held escrow; a model summary is attached for the mediator.
Secrets come from RENTMAN_* environment variables (RENTMAN_JWT_SECRET, RENTMAN_STRIPE_SECRET_KEY, ...).`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RENTMAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/rentman.yml)")
	rootCmd.PersistentFlags().String("dsn", "", "database DSN; postgres:// selects Postgres")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(proofsCmd())
	rootCmd.AddCommand(jobsCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the analysis worker and proof sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Secrets.JWTSecret == "" {
				return fmt.Errorf("RENTMAN_JWT_SECRET is required for bearer auth")
			}
			ctx := cmd.Context()
			conn, dialect, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logger := log.New(os.Stderr, "", log.LstdFlags)
			e, closeAI, err := buildEngine(ctx, conn, dialect, cfg, logger)
			if err != nil {
				return err
			}
			defer closeAI()

			handler, err := server.New(server.Config{
				Engine:   e,
				Auth:     server.AuthConfig{JWTSecret: cfg.Secrets.JWTSecret, Logger: logger},
				Webhooks: webhookRegistry(cfg),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			go func() {
				if err := e.RunAnalysisWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Printf("analysis: worker stopped: %v", err)
				}
			}()
			go e.RunProofSweeper(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Rentman API on http://%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, dialect, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn, dialect); err != nil {
				return err
			}
			fmt.Printf("migrations applied (%s)\n", dialect)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default rentman.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"database":      map[string]any{"dsn": redact(cfg.Database.DSN)},
				"escrow":        cfg.Escrow,
				"ai":            cfg.AI,
				"analysis":      cfg.Analysis,
				"proofs":        cfg.Proofs,
				"webhooks":      cfg.Webhooks,
				"notifications": cfg.Notifications,
				"secrets": map[string]bool{
					"jwt_secret":                     cfg.Secrets.JWTSecret != "",
					"tasks_webhook_secret":           cfg.Secrets.TasksWebhookSecret != "",
					"stripe_secret_key":              cfg.Secrets.StripeSecretKey != "",
					"stripe_webhook_secret":          cfg.Secrets.StripeWebhookSecret != "",
					"stripe_webhook_secret_fallback": cfg.Secrets.StripeWebhookSecretFallback != "",
					"google_api_key":                 cfg.Secrets.GoogleAPIKey != "",
				},
			})
		},
	})
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage signing agents"}
	cmd.AddCommand(agentRegisterCmd())
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentKeygenCmd())
	cmd.AddCommand(agentSignCmd())
	return cmd
}

func agentRegisterCmd() *cobra.Command {
	var name, publicKey string
	cmd := &cobra.Command{
		Use:   "register <agent-id>",
		Short: "Register an agent's Ed25519 public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterAgent(ctx, args[0], name, publicKey)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64 Ed25519 public key")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				agents, err := r.ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Public Key", "Created"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.ID, a.Name, a.PublicKey, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func agentKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := signature.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"public_key": pub, "private_key": priv})
		},
	}
}

func agentSignCmd() *cobra.Command {
	var privateKey, agentID, title, timestamp, nonce string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a task title for submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			if privateKey == "" {
				privateKey = viper.GetString("agent-private-key")
			}
			if timestamp == "" {
				timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
			}
			if nonce == "" {
				nonce = uuid.NewString()
			}
			sig, err := signature.Sign(privateKey, []byte(signature.CanonicalMessage(title, agentID, timestamp, nonce)))
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"title":     title,
				"agentId":   agentID,
				"signature": sig,
				"metadata":  map[string]string{"timestamp": timestamp, "nonce": nonce},
			})
		},
	}
	cmd.Flags().StringVar(&privateKey, "private-key", "", "base64 Ed25519 private key (or RENTMAN_AGENT_PRIVATE_KEY)")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "timestamp (default now in ms)")
	cmd.Flags().StringVar(&nonce, "nonce", "", "nonce (default random)")
	_ = cmd.MarkFlagRequired("agent-id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage user profiles"}
	var account, name string
	setPayout := &cobra.Command{
		Use:   "set-payout <user-id>",
		Short: "Set the payout account for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetPayoutAccount(ctx, args[0], account, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	setPayout.Flags().StringVar(&account, "account", "", "connected payout account id (acct_...)")
	setPayout.Flags().StringVar(&name, "name", "", "display name")
	_ = setPayout.MarkFlagRequired("account")
	cmd.AddCommand(setPayout)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create an API key; the key is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plain, key, err := e.CreateAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "user_id": key.UserID, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list [user-id]",
		Short: "List API keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) == 1 {
				userID = args[0]
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint <user-id>",
		Short: "Mint an HS256 bearer token signed with RENTMAN_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.MintToken(viper.GetString("jwt-secret"), args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	cmd.AddCommand(mint)
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Payment", "Budget", "Requester", "Worker"})
				for _, t := range tasks {
					worker := ""
					if t.AssignedHumanID != nil {
						worker = *t.AssignedHumanID
					}
					budget := fmt.Sprintf("%.2f %s", t.BudgetAmount, strings.ToUpper(t.BudgetCurrency))
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.PaymentStatus, budget, t.RequesterID, worker})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.RequesterID, "requester", "", "requester filter")
	cmd.Flags().StringVar(&f.HumanID, "worker", "", "assigned worker filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its proofs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				proofs, err := e.Repo.ListProofs(ctx, nil, t.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"task": t, "proofs": proofs})
			})
		},
	}
}

func escrowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "escrow", Short: "Inspect escrow"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <task-id>",
		Short: "Show escrow status for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.GetEscrowStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Escrow", "Status", "Gross", "Net", "Fee", "Held", "Released"})
				released := ""
				if st.ReleasedAt != nil {
					released = *st.ReleasedAt
				}
				tw.AppendRow(table.Row{st.EscrowID, st.Status,
					fmt.Sprintf("%.2f", st.GrossAmount), fmt.Sprintf("%.2f", st.NetAmount), fmt.Sprintf("%.2f", st.PlatformFee),
					st.HeldAt, released})
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func proofsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proofs", Short: "Manage proofs"}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Auto-approve proofs pending longer than proofs.auto_approve_after",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AutoApproveStaleProofs(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("auto-approved %d proof(s)\n", n)
				return nil
			})
		},
	})
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect the analysis queue"}
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List analysis jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Status", "Attempts", "Next Run", "Last Error"})
				for _, j := range jobs {
					lastErr := ""
					if j.LastError != nil {
						lastErr = *j.LastError
					}
					tw.AppendRow(table.Row{j.TaskID, j.Status, j.Attempts, j.NextRunAt, lastErr})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter (pending, running, done, failed)")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if dsn := viper.GetString("dsn"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	cfg.Secrets = config.Secrets{
		JWTSecret:                   viper.GetString("jwt-secret"),
		TasksWebhookSecret:          viper.GetString("tasks-webhook-secret"),
		StripeSecretKey:             viper.GetString("stripe-secret-key"),
		StripeWebhookSecret:         viper.GetString("stripe-webhook-secret"),
		StripeWebhookSecretFallback: viper.GetString("stripe-webhook-secret-fallback"),
		GoogleAPIKey:                viper.GetString("google-api-key"),
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*sql.DB, db.Dialect, error) {
	return db.Open(db.Config{Workspace: viper.GetString("workspace"), DSN: cfg.Database.DSN})
}

// buildEngine wires the production collaborators. Without a Stripe key the
// in-memory gateway is used so the service can run locally.
func buildEngine(ctx context.Context, conn *sql.DB, dialect db.Dialect, cfg *config.Config, logger *log.Logger) (engine.Engine, func(), error) {
	if err := migrate.Migrate(conn, dialect); err != nil {
		return engine.Engine{}, nil, err
	}
	client, err := ai.New(ctx, cfg.AI.Provider, cfg.AI.Model, cfg.Secrets.GoogleAPIKey)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if _, ok := client.(*ai.MockClient); ok {
		logger.Printf("WARNING: ai: mock provider wired; every task passes the viability screen with a canned score. Set ai.provider=gemini and RENTMAN_GOOGLE_API_KEY for real screening")
	}
	closeAI := func() {
		if c, ok := client.(io.Closer); ok {
			c.Close()
		}
	}
	e := engine.New(conn, dialect, cfg).WithAI(client)
	e.Logger = logger
	e.Metrics = metrics.New()

	if cfg.Secrets.StripeSecretKey != "" {
		gw, err := payments.NewStripeGateway(cfg.Secrets.StripeSecretKey)
		if err != nil {
			closeAI()
			return engine.Engine{}, nil, err
		}
		e.Gateway = gw
	} else {
		logger.Printf("payments: RENTMAN_STRIPE_SECRET_KEY not set; using in-memory gateway")
		e.Gateway = &payments.Fake{}
	}

	var next notify.Notifier = notify.LogNotifier{Logger: logger}
	if url := strings.TrimSpace(cfg.Notifications.WebhookURL); url != "" {
		next = notify.WebhookNotifier{
			URL:    url,
			Secret: viper.GetString("notify-webhook-secret"),
			Client: &http.Client{Timeout: cfg.Notifications.Timeout},
		}
	}
	e.Notifier = notify.Recorder{Next: next, Store: e.Repo, Logger: logger, Now: e.Now}
	return e, closeAI, nil
}

func webhookRegistry(cfg *config.Config) webhooks.Registry {
	return webhooks.NewRegistry(
		webhooks.NewStripeV1Verifier(webhooks.ChannelStripe, cfg.Webhooks.StripeToleranceSeconds,
			cfg.Secrets.StripeWebhookSecret, cfg.Secrets.StripeWebhookSecretFallback),
		webhooks.NewSharedSecretVerifier(webhooks.ChannelTasks, webhooks.TasksSecretHeader, cfg.Secrets.TasksWebhookSecret),
	)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, dialect, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn, dialect); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, dialect, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, dialect, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn, dialect); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn, Dialect: dialect})
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

func redact(dsn string) string {
	if dsn == "" {
		return ""
	}
	if i := strings.Index(dsn, "@"); i > 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}
