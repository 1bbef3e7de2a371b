package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/internal/config"
	"github.com/iwvelando/loan-calculator/internal/credstore"
	"github.com/iwvelando/loan-calculator/internal/session"
	"github.com/iwvelando/loan-calculator/pkg/output"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// app carries the state shared by every command of one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	reader *bufio.Reader

	configPath   string
	logLevel     string
	outputFormat string

	conf     *config.Configuration
	logger   *zap.Logger
	registry *rates.Registry

	store   credstore.Store
	client  *backend.Client
	session *session.Manager
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, logger: zap.NewNop()}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "loan-calculator",
		Short:             "Quote loans, apply for them and follow your statement",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to configuration file (default: ./loan-calculator.yaml or the user config directory)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&a.outputFormat, "output-format", "", "output format override: pretty, csv, json")

	root.AddCommand(
		a.quoteCommand(),
		a.scheduleCommand(),
		a.rateCommand(),
		a.affordCommand(),
		a.registerCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.statusCommand(),
		a.applyCommand(),
		a.statementCommand(),
		a.serveCommand(),
		a.helpLinkCommand(),
	)
	return root
}

// load reads the configuration and builds the logger before any command runs.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	conf, err := config.LoadConfiguration(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.conf = conf

	logger, err := initializeLogger(conf.Logging, a.logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	registry, err := conf.Rates.Registry()
	if err != nil {
		return err
	}
	a.registry = registry

	a.logger.Debug("configuration loaded",
		zap.String("op", "main.load"),
		zap.String("command", cmd.Name()),
		zap.String("backend", conf.Backend.BaseURL),
		zap.String("store", conf.Store.Type),
	)
	return nil
}

func (a *app) renderer() (*output.Renderer, error) {
	format := a.conf.Output.Format
	if a.outputFormat != "" {
		format = a.outputFormat
	}
	return output.NewRenderer(a.out, format, a.conf.Output.Currency)
}

// connect opens the credential store and restores the session.
func (a *app) connect(ctx context.Context) error {
	if a.session != nil {
		return nil
	}
	store, err := credstore.Open(ctx, a.conf.Store, a.logger)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:              a.conf.Backend.BaseURL,
		Timeout:              a.conf.Backend.Timeout,
		ScopeLoansByCustomer: a.conf.Backend.ScopeLoansByCustomer,
	}, a.logger, backend.WithUserAgent("loan-calculator/"+version))
	if err != nil {
		_ = store.Close()
		return err
	}

	manager, err := session.New(ctx, store, client, session.WithLogger(a.logger))
	if err != nil {
		_ = store.Close()
		return err
	}
	client.SetAuthorizer(manager)

	a.store = store
	a.client = client
	a.session = manager
	return nil
}

// close reports a session expiry once and releases the store.
func (a *app) close() {
	if a.session != nil && a.session.TakeExpiredNotice() {
		fmt.Fprintln(a.errOut, "Your session has expired. Run `loan-calculator login` to sign in again.")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close credential store", zap.String("op", "main.close"), zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// readLine reads one line from the command input.
func (a *app) readLine() (string, error) {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.in)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads a secret without echo from a terminal, or a line from
// the input when fromStdin is set.
func (a *app) readPassword(prompt string, fromStdin bool) (backend.Password, error) {
	if fromStdin {
		line, err := a.readLine()
		return backend.Password(line), err
	}
	f, ok := a.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no terminal to prompt for a password, use --password-stdin")
	}
	fmt.Fprint(a.errOut, prompt)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.errOut)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return backend.Password(secret), nil
}
