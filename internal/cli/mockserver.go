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
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/mockstore"
)

type mockServerOptions struct {
	addr     string
	latency  time.Duration
	products int
	verbose  bool
}

func newMockServerCmd() *cobra.Command {
	opts := &mockServerOptions{}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve an in-memory storefront API to test against",
		Long: `Serve the storefront API (users, products, cart, orders) from memory.
The built-in presets run against it unchanged:

  stampede mock-server --addr :8080 &
  stampede run --preset storefront --stages "10s:5,10s:0"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMockStore(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "Listen address")
	flags.DurationVar(&opts.latency, "latency", 0, "Latency added to every response")
	flags.IntVar(&opts.products, "products", 20, "Number of seeded products")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func serveMockStore(cmd *cobra.Command, opts *mockServerOptions) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	defer func() { _ = logger.Sync() }()

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to listen on %s: %w", opts.addr, err)}
	}

	handler := mockstore.NewServer(mockstore.Options{
		Products: opts.products,
		Latency:  opts.latency,
		Logger:   logger,
	})
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Mock storefront listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return &ExitError{Code: ExitUsage, Err: err}
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("mock server shutdown", zap.Error(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Served %d requests\n", handler.Requests())
	return nil
}
