package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/infra"
	"orderbook_go/internal/infra/backend"
	"orderbook_go/internal/infra/feed"
	"orderbook_go/internal/service"
	"orderbook_go/internal/ui"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "net/http/pprof" // registers on http.DefaultServeMux
)

const shutdownTimeout = 5 * time.Second

// cli holds state shared by every subcommand of one root command.
type cli struct {
	configPath string
	boot       *Bootstrap
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "orderbook",
		Short: "Live order book client for the trading backend",
		Long: `Polls the trading backend for open orders, aggregates them into a
bid/ask ladder with spread and depth statistics, and manages orders and
the login session from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", infra.DefaultConfigPath, "Path to config file")

	root.AddCommand(
		c.watchCmd(),
		c.snapshotCmd(),
		c.placeCmd(),
		c.amendCmd(),
		c.cancelCmd(),
		c.getCmd(),
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.myOrdersCmd(),
		c.balancesCmd(),
	)
	return root
}

// setup bootstraps the application for a subcommand. Quiet keeps logs out of stdout.
func (c *cli) setup(quiet bool) error {
	c.boot = NewBootstrap()
	return c.boot.Initialize(c.configPath, quiet)
}

func (c *cli) close() {
	if c.boot != nil {
		c.boot.Close()
	}
}

func (c *cli) ladderOptions(showOrders bool) ui.LadderOptions {
	return ui.LadderOptions{
		PriceDecimals: int32(c.boot.Config.UI.PriceDecimals),
		MaxLevels:     c.boot.Config.UI.MaxLevels,
		ShowOrders:    showOrders,
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var (
		symbol    string
		openOnly  bool
		noRender  bool
		orders    bool
		pprofAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously poll and display the order book",
		Long: `Polls the backend every poll interval, renders the ladder in the terminal,
and serves the latest view over HTTP (/view), websocket (/ws) and
Prometheus metrics (/metrics). Press Enter to refresh immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(!noRender); err != nil {
				return err
			}
			defer c.close()

			if !cmd.Flags().Changed("symbol") {
				symbol = c.boot.Config.Poll.Symbol
			}
			if !cmd.Flags().Changed("open-only") {
				openOnly = c.boot.Config.Poll.OpenOnly
			}
			var render *ui.LadderOptions
			if !noRender {
				opts := c.ladderOptions(orders)
				render = &opts
			}
			return c.runWatch(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), symbol, openOnly, render, pprofAddr)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Restrict the book to one symbol (default from config)")
	cmd.Flags().BoolVar(&openOnly, "open-only", false, "Only aggregate open orders")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "Do not draw the ladder; log to stdout instead")
	cmd.Flags().BoolVar(&orders, "orders", false, "List the orders of each level")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "localhost:6060", "pprof listen address, empty to disable")
	return cmd
}

// runWatch serves the feed until ctx ends. A nil render leaves the terminal alone.
func (c *cli) runWatch(ctx context.Context, out io.Writer, in io.Reader, symbol string, openOnly bool, render *ui.LadderOptions, pprofAddr string) error {
	cfg := c.boot.Config
	svc := c.boot.NewOrderBookService(symbol, openOnly)
	hub := feed.NewHub(slog.Default(), c.boot.Metrics)

	mux := http.NewServeMux()
	mux.Handle("/", hub.Handler())
	mux.Handle("/metrics", c.boot.Metrics.Handler())
	srv := &http.Server{Addr: cfg.Feed.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if pprofAddr != "" {
		go func() {
			// Localhost only for security
			slog.Info("Pprof server started", "addr", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	views := make(chan service.OrderBookView, 1)
	unsubscribe := svc.Subscribe(func(v service.OrderBookView) {
		if err := hub.Publish(v); err != nil {
			slog.Warn("Failed to publish view", "error", err)
		}
		offerLatest(views, v)
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("Feed server listening", "addr", cfg.Feed.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("feed server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := svc.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		svc.Stop()
		return nil
	})

	if render != nil {
		opts := *render
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case v := <-views:
					fmt.Fprint(out, "\033[H\033[2J")
					if err := ui.RenderLadder(out, v, opts); err != nil {
						return err
					}
				}
			}
		})

		// stdin reads cannot be interrupted; this goroutine ends with the process
		go func() {
			buf := make([]byte, 64)
			for {
				if _, err := in.Read(buf); err != nil {
					return
				}
				svc.Refresh()
			}
		}()
	}

	err := g.Wait()
	slog.Info("Shutting down gracefully")
	return err
}

// offerLatest replaces whatever view is waiting in ch with v without blocking.
// Under concurrent offers one of them may be lost; the next cycle supersedes it.
func offerLatest(ch chan service.OrderBookView, v service.OrderBookView) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func (c *cli) snapshotCmd() *cobra.Command {
	var (
		symbol   string
		openOnly bool
		asJSON   bool
		orders   bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the order book once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			if !cmd.Flags().Changed("symbol") {
				symbol = c.boot.Config.Poll.Symbol
			}
			if !cmd.Flags().Changed("open-only") {
				openOnly = c.boot.Config.Poll.OpenOnly
			}

			svc := c.boot.NewOrderBookService(symbol, openOnly)
			view, err := svc.SyncOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view.Snapshot)
			}
			return ui.RenderLadder(out, view, c.ladderOptions(orders))
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Restrict the book to one symbol (default from config)")
	cmd.Flags().BoolVar(&openOnly, "open-only", false, "Only aggregate open orders")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	cmd.Flags().BoolVar(&orders, "orders", false, "List the orders of each level")
	return cmd
}

// orderFlags are shared by place and amend.
type orderFlags struct {
	symbol    string
	side      string
	quantity  string
	price     string
	orderType string
}

func (f *orderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Trading symbol, e.g. BTCUSD")
	cmd.Flags().StringVar(&f.side, "side", "", "BUY or SELL")
	cmd.Flags().StringVar(&f.quantity, "qty", "", "Order quantity")
	cmd.Flags().StringVar(&f.price, "price", "", "Limit price, empty for a market order")
	cmd.Flags().StringVar(&f.orderType, "type", "", "LIMIT or MARKET")
}

func (f *orderFlags) request() (domain.OrderRequest, error) {
	req, err := domain.ParseOrderRequest(f.symbol, f.side, f.quantity, f.price)
	if err != nil {
		return req, err
	}
	if f.orderType != "" {
		req.OrderType = f.orderType
		if err := req.Validate(); err != nil {
			return req, err
		}
	}
	return req, nil
}

func printAck(w io.Writer, ack backend.Ack) error {
	if !ack.Success {
		return fmt.Errorf("backend rejected request: %s", ack.Message)
	}
	_, err := fmt.Fprintln(w, ack.Message)
	return err
}

func (c *cli) placeCmd() *cobra.Command {
	var f orderFlags
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a new order",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			ack, err := c.boot.Client.PlaceOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printAck(cmd.OutOrStdout(), ack)
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) amendCmd() *cobra.Command {
	var f orderFlags
	cmd := &cobra.Command{
		Use:   "amend <order-id>",
		Short: "Replace an existing order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			ack, err := c.boot.Client.UpdateOrder(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return printAck(cmd.OutOrStdout(), ack)
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			ack, err := c.boot.Client.CancelOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printAck(cmd.OutOrStdout(), ack)
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show a single order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			order, err := c.boot.Client.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return ui.RenderOrders(cmd.OutOrStdout(), []domain.Order{order})
		},
	}
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Long:  "Log in with email and password. The password may also be given in ORDERBOOK_PASSWORD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("ORDERBOOK_PASSWORD")
			}
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			res, err := c.boot.Client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			name := res.User.Username
			if name == "" {
				name = res.User.Email
			}
			fmt.Fprintf(out, "Logged in as %s\n", name)
			if !res.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Session expires %s\n", res.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var req domain.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("ORDERBOOK_PASSWORD")
			}
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			ack, err := c.boot.Client.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printAck(cmd.OutOrStdout(), ack)
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Account password")
	cmd.Flags().StringVar(&req.Username, "username", "", "Display name")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			if err := c.boot.Client.Logout(); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}

func (c *cli) myOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "my-orders",
		Short: "List the logged-in user's orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			orders, err := c.boot.Client.UserOrders(cmd.Context())
			if err != nil {
				return err
			}
			return ui.RenderOrders(cmd.OutOrStdout(), orders)
		},
	}
}

func (c *cli) balancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "List the logged-in user's balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(true); err != nil {
				return err
			}
			defer c.close()

			book, err := c.boot.Client.UserBalances(cmd.Context())
			if err != nil {
				return err
			}
			return ui.RenderBalances(cmd.OutOrStdout(), book)
		},
	}
}
