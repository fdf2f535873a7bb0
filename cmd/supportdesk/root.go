package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"supportdesk/internal/config"
	"supportdesk/internal/gateway"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// cli holds the state shared by every subcommand once flags are parsed.
type cli struct {
	configPath string
	envFiles   []string
	baseURL    string
	token      string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "supportdesk",
		Short: "LMS support chat: sandbox backend plus student and manager clients.",
		Long: `supportdesk talks to the LMS support API as a student (threads, messages, ratings)
or as a manager (inbox, claim, status, transfer, live alerts). "supportdesk serve" runs a
self-contained sandbox of that API backed by SQLite.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("SUPPORTDESK_CONFIG_FILE"), "JSON config file path")
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", []string{".env"}, ".env files loaded before reading the environment")
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", "", "support API base URL (overrides config)")
	root.PersistentFlags().StringVar(&c.token, "token", "", "bearer token (overrides config and session file)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(newServeCommand(c))
	root.AddCommand(newStudentCommand(c))
	root.AddCommand(newInboxCommand(c))
	return root
}

// load applies .env files, then config precedence file > environment > defaults.
func (c *cli) load() error {
	if err := config.LoadDotEnv(c.envFiles...); err != nil {
		return err
	}
	cfg, err := config.LoadConfigWithPrecedence(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.baseURL != "" {
		cfg.API.BaseURL = c.baseURL
	}
	if c.token != "" {
		cfg.API.Token = c.token
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.cfg = cfg
	c.logger = logs.New(cfg.Logging, "supportdesk")
	slog.SetDefault(c.logger)
	return nil
}

// client builds an authenticated gateway client.
func (c *cli) client() (*gateway.Client, error) {
	token, err := c.cfg.API.ResolveToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("%w: pass --token or set SUPPORTDESK_API_TOKEN", gateway.ErrNoToken)
	}
	return gateway.New(c.cfg.API.ResolveBaseURL(),
		gateway.WithToken(token),
		gateway.WithTimeout(c.cfg.API.Timeout),
		gateway.WithLogger(c.logger),
	), nil
}

// actor names the caller. The API has no "who am I" route, so sandbox tokens are looked up
// in the seeded users and anything else gets an anonymous actor with the given role.
func (c *cli) actor(role string) types.Actor {
	token, _ := c.cfg.API.ResolveToken()
	if u, ok := c.cfg.SandboxUserByToken(token); ok && u.Role == role {
		return types.Actor{ID: u.ID, FullName: u.FullName, Role: u.Role}
	}
	return types.Actor{Role: role}
}
