package main

import (
	"bufio"
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xenking/shopwise/internal/app"
	"github.com/xenking/shopwise/internal/domain/session"
)

// cli holds the state shared by every command of one invocation.
type cli struct {
	stdin          io.Reader
	in             *bufio.Reader
	stdout, stderr io.Writer

	configFile string
	baseURL    string
	storage    string
	debug      bool

	// kv replaces the configured storage, for tests.
	kv session.KV

	lg  *zap.Logger
	app *app.App
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	return c.execute(ctx, args)
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		c.app.Close()
	}
	if c.lg != nil {
		_ = c.lg.Sync()
	}
	if err != nil {
		c.printError(err)
		return 1
	}
	return 0
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "shopwise",
		Short:         "Compare grocery prices across retailers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "config file (default: shopwise.yaml, user config dir, /etc/shopwise)")
	flags.StringVar(&c.baseURL, "base-url", "", "ShopWise API base URL")
	flags.StringVar(&c.storage, "storage", "", "session storage: file, memory, redis or postgres")
	flags.BoolVar(&c.debug, "debug", false, "verbose logging to stderr")

	root.AddCommand(
		c.loginCommand(),
		c.logoutCommand(),
		c.registerCommand(),
		c.verifyCommand(),
		c.passwordResetCommand(),
		c.whoamiCommand(),
		c.profileCommand(),
		c.productsCommand(),
		c.categoriesCommand(),
		c.retailersCommand(),
		c.productCommand(),
		c.compareCommand(),
		c.favoriteCommand(),
	)
	return root
}

// setup loads configuration, builds the client and restores the session.
func (c *cli) setup(cmd *cobra.Command) error {
	var files []string
	if c.configFile != "" {
		files = append(files, c.configFile)
	}
	cfg, err := app.LoadConfig(files...)
	if err != nil {
		return err
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.storage != "" {
		cfg.Storage.Driver = c.storage
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	lg, err := newLogger(c.debug || cfg.Debug)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	c.lg = lg

	ctx := zctx.Base(cmd.Context(), lg)
	cmd.SetContext(ctx)

	a, err := app.New(ctx, cfg, app.Deps{Logger: lg, KV: c.kv})
	if err != nil {
		return err
	}
	c.app = a

	state := a.Restore(ctx)
	lg.Debug("Session restored", zap.Stringer("state", state))
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
