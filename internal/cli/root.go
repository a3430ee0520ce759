package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coreidentity/coreidentity-go/internal/app"
	"github.com/coreidentity/coreidentity-go/internal/config"
	"github.com/coreidentity/coreidentity-go/internal/logger"
	"github.com/coreidentity/coreidentity-go/pkg/coreidentity"
)

// Exit codes returned by the coreidentity binary.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitTimeout = 2
)

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, coreidentity.ErrTimeout):
		return ExitTimeout
	default:
		return ExitFailure
	}
}

type rootFlags struct {
	envFile  string
	logLevel string
	baseURL  string
	output   string
}

// runtime is shared by every subcommand of one invocation.
type runtime struct {
	flags   rootFlags
	appOpts []app.Option

	cfg *config.Config
	app *app.App
	out printer
}

// NewRootCommand builds the coreidentity command tree. appOpts are applied
// to the runtime built before each subcommand runs.
func NewRootCommand(appOpts ...app.Option) *cobra.Command {
	root, _ := newRootCommand(appOpts...)
	return root
}

func newRootCommand(appOpts ...app.Option) (*cobra.Command, *runtime) {
	rt := &runtime{appOpts: appOpts}

	root := &cobra.Command{
		Use:   "coreidentity",
		Short: "Submit and track tasks on the CoreIdentity Digital Labor API",
		Long: `coreidentity submits tasks to the CoreIdentity Digital Labor API, polls them
until they finish and reports account usage. Submitted and observed tasks are
kept in a local journal, and finished tasks can be announced to webhooks,
SQS, SNS or Pub/Sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&rt.flags.envFile, "env-file", "", "Env file loaded before reading "+config.EnvPrefix+"_* variables (default "+config.DefaultEnvFile+" when present)")
	pf.StringVar(&rt.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&rt.flags.baseURL, "base-url", "", "API base URL (overrides config)")
	pf.StringVarP(&rt.flags.output, "output", "o", formatJSON, "Output format: json, table")

	root.AddCommand(newSubmitCommand(rt))
	root.AddCommand(newGetCommand(rt))
	root.AddCommand(newWaitCommand(rt))
	root.AddCommand(newUsageCommand(rt))
	root.AddCommand(newHistoryCommand(rt))

	return root, rt
}

func (rt *runtime) setup(cmd *cobra.Command) error {
	format, err := validateFormat(rt.flags.output)
	if err != nil {
		return err
	}

	cfg, err := config.Load(rt.flags.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl := strings.TrimSpace(rt.flags.logLevel); lvl != "" {
		cfg.LogLevel = lvl
	}
	if base := strings.TrimSpace(rt.flags.baseURL); base != "" {
		cfg.BaseURL = base
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.DebugObj("config loaded", "config", cfg.Redacted())

	a, err := app.New(cmd.Context(), cfg, log, rt.appOpts...)
	if err != nil {
		log.ErrorObj("failed to initialize runtime", "error", err.Error())
		return err
	}

	rt.cfg = cfg
	rt.app = a
	rt.out = printer{w: cmd.OutOrStdout(), format: format}
	return nil
}

// runE wraps a subcommand so the runtime is built once cobra has validated
// args and flags, and released however the command ends.
func (rt *runtime) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := rt.setup(cmd); err != nil {
			return err
		}
		defer func() {
			if cerr := rt.teardown(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

func (rt *runtime) teardown() error {
	if rt.app == nil {
		return nil
	}
	err := rt.app.Close()
	rt.app = nil
	_ = logger.Close()
	return err
}
