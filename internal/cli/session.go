package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/config"
	"github.com/roach88/chrono/internal/event"
	"github.com/roach88/chrono/internal/ledger"
	"github.com/roach88/chrono/internal/store"
)

// session is an opened database with the capsule store wired over it.
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	host     *ledger.Host
	capsules *capsule.Store
	out      *OutputFormatter
}

// loadConfig resolves the config file and flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return config.Config{}, err
		}
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger writes text logs to the command's stderr.
func newLogger(opts *RootOptions, cfg config.Config, cmd *cobra.Command) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openSession opens the configured database and wires the capsule store,
// host ledger and notification sinks over it. Callers must Close it.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts, cfg, cmd)

	compression, err := store.ParseCompression(cfg.MessageCompression)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	escrow, err := capsule.ParseAccount(cfg.EscrowAccount)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid escrow account", err)
	}

	logger.Debug("opening database", "path", cfg.Database, "compression", compression)
	st, err := store.Open(cfg.Database, store.WithCompression(compression))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	// Outbox rows commit with the call; the log only shows committed calls.
	logged := event.NewDeferred(event.NewLogSink(logger))
	host := ledger.NewHost(st, st, escrow,
		ledger.WithRunner(logged.Wrap(st.InTx)),
		ledger.WithHostLogger(logger))

	notifier := event.Fanout{
		st.Outbox(event.UUIDv7Generator{}),
		logged,
	}
	capsules := capsule.New(st, host,
		capsule.WithNotifier(notifier),
		capsule.WithLogger(logger),
		capsule.WithMaxMessageBytes(cfg.MaxMessageBytes))

	return &session{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		host:     host,
		capsules: capsules,
		out:      newFormatter(opts, cmd),
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// fail reports err in the configured format and converts it to an ExitError.
// Rejected operations exit with ExitFailure, everything else with
// ExitCommandError.
func (s *session) fail(err error) error {
	code, rejected := errorCode(err)
	if s.out.Format == "json" {
		_ = s.out.Error(code, err.Error(), nil)
	}
	if rejected {
		return WrapExitError(ExitFailure, code, err)
	}
	return WrapExitError(ExitCommandError, code, err)
}

func parseAccountFlag(name, value string) (capsule.AccountID, error) {
	if value == "" {
		return capsule.AccountID{}, NewExitError(ExitCommandError, fmt.Sprintf("--%s is required", name))
	}
	account, err := capsule.ParseAccount(value)
	if err != nil {
		return capsule.AccountID{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", name), err)
	}
	return account, nil
}
