package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/mandate-go/config"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/health"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/shopping"
	httptransport "github.com/glimte/mandate-go/transports/http"
	amqptransport "github.com/glimte/mandate-go/transports/rabbitmq"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "shopper",
		Short: "Drive and host mandate-signing commerce agents",
		Long: `shopper runs the Intent -> Cart -> Payment mandate chain between a
shopping agent, a merchant agent and a credentials provider.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		return cfg, nil
	}

	rootCmd.AddCommand(demoCmd(load), serveCmd(load), decodeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func demoCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		method      string
		interactive bool
		declines    int
	)
	cmd := &cobra.Command{
		Use:   "demo [intent]",
		Short: "Run a purchase end to end",
		Example: `  shopper demo "tropical beach vacation"
  shopper demo --interactive`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildClient(ctx, cfg, cfg.Logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer st.Close()

			d := &demo{
				orch:     st.network.Orchestrator(),
				out:      cmd.OutOrStdout(),
				in:       bufio.NewScanner(cmd.InOrStdin()),
				method:   method,
				prompt:   interactive,
				declines: declines,
			}
			intent := "tropical beach vacation"
			if len(args) == 1 {
				intent = args[0]
			}
			s, err := d.run(ctx, intent)
			fmt.Fprintln(d.out, renderSession(s))
			if err != nil {
				return err
			}

			report, err := st.network.Audit(ctx, s.ContextID)
			if err != nil {
				return err
			}
			fmt.Fprintln(d.out, renderReport(report))
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "pm-001", "Payment method id")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for intent, cart and method")
	cmd.Flags().IntVar(&declines, "retries", 1, "Retries allowed after a declined payment")
	return cmd
}

type demo struct {
	orch     *shopping.Orchestrator
	out      io.Writer
	in       *bufio.Scanner
	method   string
	prompt   bool
	declines int
}

func (d *demo) ask(question, fallback string) string {
	if !d.prompt {
		return fallback
	}
	fmt.Fprint(d.out, labelStyle.Render(question+" "))
	if !d.in.Scan() {
		return fallback
	}
	if answer := strings.TrimSpace(d.in.Text()); answer != "" {
		return answer
	}
	return fallback
}

func (d *demo) say(s shopping.Session) {
	if len(s.History) > 0 {
		fmt.Fprintln(d.out, renderTurn(s.History[len(s.History)-1]))
	}
}

func (d *demo) run(ctx context.Context, intent string) (shopping.Session, error) {
	intent = d.ask("What are you shopping for?", intent)
	fmt.Fprintln(d.out, renderTurn(shopping.Turn{Type: shopping.TurnUser, Text: intent}))

	s, err := d.orch.Submit(ctx, shopping.NewSession(), intent)
	if err != nil {
		return s, err
	}
	d.say(s)
	fmt.Fprintln(d.out, renderCarts(s.Carts))

	choice, err := strconv.Atoi(d.ask("Pick a cart:", "1"))
	if err != nil || choice < 1 || choice > len(s.Carts) {
		return s, fmt.Errorf("no cart %d on offer", choice)
	}
	if s, err = d.orch.SelectCart(ctx, s, s.Carts[choice-1].ID()); err != nil {
		return s, err
	}
	d.say(s)
	fmt.Fprintln(d.out, renderMethods(s.PaymentMethods))

	if s, err = d.orch.Confirm(ctx, s, d.ask("Pay with:", d.method)); err != nil {
		return s, err
	}
	d.say(s)

	for attempt := 0; ; attempt++ {
		s, err = d.orch.Settle(ctx, s)
		d.say(s)
		if err == nil || !errors.Is(err, contracts.ErrSettlement) || attempt >= d.declines {
			return s, err
		}
		if s, err = d.orch.Retry(ctx, s); err != nil {
			return s, err
		}
		d.say(s)
	}
}

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the merchant agent and credentials provider",
		Long: `serve hosts the agents over the configured transport: HTTP on
http.addr, or RabbitMQ queues agents.<name> when transport is amqp.
Health is always served over HTTP at /healthz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logger(cmd.ErrOrStderr())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildHost(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			network := st.network

			srv := httptransport.NewServer(
				httptransport.WithHealth(network.Health()),
				httptransport.WithMetrics(network.Metrics()),
				httptransport.WithServerLogger(logger))

			if cfg.Transport == config.TransportAMQP {
				manager, err := connectBroker(ctx, cfg, logger, st)
				if err != nil {
					return err
				}
				network.Health().Register(health.NewPingChecker("broker", manager))
				amqpSrv, err := amqptransport.NewServer(manager,
					amqptransport.WithPrefetch(cfg.AMQP.Prefetch),
					amqptransport.WithServerLogger(logger))
				if err != nil {
					return err
				}
				defer amqpSrv.Close()
				for name, h := range network.Handlers() {
					if err := amqpSrv.Register(name, h); err != nil {
						return err
					}
				}
			} else {
				for name, h := range network.Handlers() {
					if err := srv.Register(name, h); err != nil {
						return err
					}
				}
			}

			httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.HTTP.Addr, "transport", cfg.Transport)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}
}

func decodeCmd() *cobra.Command {
	var secret, keyID string
	cmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "Show the header and claims of a mandate authorization",
		Long: `decode prints a merchant or user authorization token. With --secret the
signature is verified too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			decoded, err := integrity.Decode(token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderDecoded(decoded))

			if secret == "" {
				fmt.Fprintln(out, warnStyle.Render("signature not verified"))
				return nil
			}
			key, err := integrity.NewHMACKey(keyID, []byte(secret))
			if err != nil {
				return err
			}
			svc, err := integrity.NewService(key)
			if err != nil {
				return err
			}
			if _, err := svc.VerifySignature(token); err != nil {
				fmt.Fprintln(out, errStyle.Render("signature invalid: ")+err.Error())
				return err
			}
			fmt.Fprintln(out, okStyle.Render("signature valid"))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret to verify with")
	cmd.Flags().StringVar(&keyID, "key-id", "demo-key", "Key id of the secret")
	return cmd
}
