package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
	"github.com/vikashloomba/a2c-computer-go/pkg/config"
	"github.com/vikashloomba/a2c-computer-go/pkg/history"
)

// session is a Computer built from the config file for one command.
type session struct {
	file     *config.File
	computer *computer.Computer
	sink     *history.SQLiteSink
	log      *slog.Logger
}

// openSession loads the config and starts the Computer. One-shot commands
// pass boot to connect every enabled server regardless of auto_connect.
func openSession(ctx context.Context, cmd *cobra.Command, rf *rootFlags, boot bool) (*session, error) {
	log, err := rf.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	file, err := config.Load(rf.Config)
	if err != nil {
		return nil, err
	}
	opts, err := file.ComputerOptions()
	if err != nil {
		return nil, err
	}
	term := newTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
	opts.Logger = log
	opts.Prompter = term
	opts.Confirm = term.Confirm
	if rf.Yes {
		opts.Confirm = approveAll
	}

	s := &session{file: file, log: log}
	if path := file.HistoryPath(); path != "" {
		if s.sink, err = history.OpenSQLite(path); err != nil {
			return nil, err
		}
		opts.HistorySink = s.sink
	}
	if s.computer, err = computer.New(&opts); err != nil {
		s.closeSink()
		return nil, err
	}

	start := s.computer.Start
	if boot {
		start = s.computer.BootUp
	}
	if err := start(ctx); err != nil {
		log.Warn("some servers did not start", "error", err)
	}
	return s, nil
}

func (s *session) Close() error {
	err := s.computer.Close(context.Background())
	return errors.Join(err, s.closeSink())
}

func (s *session) closeSink() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}

// reload applies a re-read config file to the running Computer.
func (s *session) reload(ctx context.Context, f *config.File, err error) {
	if err != nil {
		s.log.Warn("config reload rejected", "error", err)
		return
	}
	servers, err := f.ServerConfigs()
	if err != nil {
		s.log.Warn("config reload rejected", "error", err)
		return
	}
	s.computer.SetAutoConnect(f.AutoConnectOrDefault())
	s.computer.SetAutoReconnect(f.AutoReconnectOrDefault())
	if err := s.computer.ApplyConfig(ctx, servers, f.InputDefinitions()); err != nil {
		s.log.Warn("config applied with errors", "error", err)
		return
	}
	s.log.Info("config reloaded", "servers", len(servers))
}

func approveAll(context.Context, computer.ConfirmRequest) (bool, error) { return true, nil }
