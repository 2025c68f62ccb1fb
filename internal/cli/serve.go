package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerkv/internal/lightclient"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local ledger over the light-client HTTP API",
		Long: `Serve one namespace of the local SQLite ledger over the light-client HTTP
API, so other ledgerkv processes can use it with the lightclient driver.

The namespace is resolved (and registered if new) at startup; the server is
fixed to its app id, as a light client is.

Example:
  ledgerkv serve --app demo --db ./ledgerkv.db --listen 127.0.0.1:7007
  ledgerkv get color --driver lightclient --endpoint http://127.0.0.1:7007 --app demo -c apps.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:7007", "address to listen on")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.requireStore("serve")
	if err != nil {
		return err
	}
	app, err := s.appName()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	appID, err := st.ResolveOrCreate(ctx, app)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve namespace", err)
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           lightclient.NewServer(s.client, appID, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("light client API listening", "addr", ln.Addr().String(), "app", app, "app_id", appID)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s (app %d) on http://%s\n", app, appID, ln.Addr())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
