package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lotas/cognito/internal/ai"
	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/capture"
	"github.com/lotas/cognito/internal/config"
	"github.com/lotas/cognito/internal/datauri"
	"github.com/lotas/cognito/internal/export"
	"github.com/lotas/cognito/internal/notebook"
	"github.com/lotas/cognito/internal/panel"
	"github.com/lotas/cognito/internal/protocol"
	"github.com/lotas/cognito/internal/relay"
	"github.com/lotas/cognito/internal/server"
	"github.com/lotas/cognito/internal/storage"
	"github.com/lotas/cognito/internal/tui"
	"github.com/lotas/cognito/internal/types"
)

type loader func(path string) (*config.Config, error)

const configKey = "config"

// newCLIApp creates the CLI application with all commands.
func newCLIApp(load loader) *cli.App {
	app := &cli.App{
		Name:    "cognito",
		Usage:   "Research notebook for browser clips",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Config file (default: <data dir>/config.yaml)", EnvVars: []string{"COGNITO_CONFIG"}},
			&cli.StringFlag{Name: "db", Usage: "Database path (overrides config)"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := load(c.String("config"))
			if err != nil {
				return err
			}
			if db := c.String("db"); db != "" {
				cfg.DBPath = db
			}
			c.App.Metadata = map[string]any{configKey: cfg}
			return nil
		},
		Commands: []*cli.Command{
			relayCmd(),
			panelCmd(),
			clipCmd(),
			cardsCmd(),
			queryCmd(),
			exportCmd(),
			backupCmd(),
			restoreCmd(),
			seedCmd(),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func cfgOf(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func openStore(cfg *config.Config) (*storage.CardStore, func(), error) {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewCardStore(db), func() { db.Close() }, nil
}

func newGateway(cfg *config.Config) *ai.Gateway {
	model := ai.NewOllama(cfg.AI.Host, cfg.AI.Model)
	model.VisionModel = cfg.AI.VisionModel
	return ai.NewGateway(model, cfg.AI.Locale, cfg.AI.Timeout)
}

// withNotebook opens the store and runs fn against a notebook.
func withNotebook(c *cli.Context, fn func(ctx context.Context, nb *notebook.Notebook, store *storage.CardStore) error) error {
	cfg := cfgOf(c)
	applog.Init(cfg.DataDir, "cli")
	defer applog.Close()

	store, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(c.Context, notebook.New(store, newGateway(cfg)), store)
}

func relayCmd() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Run the relay daemon between the extension and side panels",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides relay.addr)"},
		},
		Action: func(c *cli.Context) error {
			cfg := cfgOf(c)
			if err := applog.Init(cfg.DataDir, "relay"); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not open log: %v\n", err)
			}
			defer applog.Close()

			addr := cfg.Relay.Addr
			if a := c.String("addr"); a != "" {
				addr = a
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv := server.New(addr, reg)
			rl := relay.New(srv, relay.Options{
				PendingTTL:    cfg.Relay.PendingTTL,
				SweepInterval: cfg.Relay.SweepInterval,
				Registerer:    reg,
			})

			ctx, stop := signalContext(c)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return rl.Run(ctx) })
			g.Go(func() error { return srv.ListenAndServe(ctx, rl) })

			fmt.Fprintf(c.App.Writer, "Relay listening on %s\n", addr)
			return g.Wait()
		},
	}
}

func panelCmd() *cli.Command {
	return &cli.Command{
		Name:  "panel",
		Usage: "Open the side panel for a tab",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "tab", Usage: "Tab id (default: the relay's active tab)"},
		},
		Action: func(c *cli.Context) error {
			cfg := cfgOf(c)
			if err := applog.Init(cfg.DataDir, "panel"); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not open log: %v\n", err)
			}
			defer applog.Close()

			ctx, stop := signalContext(c)
			defer stop()

			tab := protocol.TabID(c.Int64("tab"))
			if tab == 0 {
				active, err := server.ActiveTab(ctx, cfg.RelayURL())
				if err != nil {
					return fmt.Errorf("no --tab given and %w", err)
				}
				tab = active
			}

			store, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			gw := newGateway(cfg)
			images := datauri.NewFetcher(cfg.Capture.FetchTimeout)
			images.MaxBytes = cfg.Capture.MaxImageBytes
			handler := capture.NewHandler(store, gw, images, capture.NewReadable(cfg.Capture.FetchTimeout))

			bridge := tui.NewBridge()
			ctrl := panel.New(handler, gw, notebook.New(store, gw), bridge)

			port, err := server.DialPort(ctx, cfg.RelayURL(), tab)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				if err := ctrl.Serve(ctx, port); err != nil {
					applog.Error("panel.serve", err)
					bridge.ShowError(err)
				}
			}()
			go ctrl.CheckAvailability(ctx)

			p := tea.NewProgram(tui.NewModel(ctrl, bridge, tab.String()), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			bridge.Close()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}
}

func clipCmd() *cli.Command {
	return &cli.Command{
		Name:  "clip",
		Usage: "Send a context-menu click to the relay on behalf of the extension",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "tab", Usage: "Tab id (default: the relay's active tab)"},
			&cli.StringFlag{Name: "selection", Usage: "Selected text"},
			&cli.StringFlag{Name: "image", Usage: "Image URL"},
			&cli.StringFlag{Name: "link", Usage: "Link URL"},
			&cli.StringFlag{Name: "page-url", Usage: "URL of the page the clip came from"},
			&cli.StringFlag{Name: "title", Usage: "Title of the page the clip came from"},
		},
		Action: func(c *cli.Context) error {
			cfg := cfgOf(c)
			info, err := clickInfo(c.String("selection"), c.String("image"), c.String("link"))
			if err != nil {
				return err
			}
			info.PageURL = c.String("page-url")

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			tab := protocol.TabID(c.Int64("tab"))
			if tab == 0 {
				if tab, err = server.ActiveTab(ctx, cfg.RelayURL()); err != nil {
					return fmt.Errorf("no --tab given and %w", err)
				}
			}

			msg := protocol.IncomingMsg{
				Type: protocol.EventContextMenuClick,
				Info: info,
				Tab:  &protocol.Tab{ID: tab, URL: info.PageURL, Title: c.String("title")},
			}
			if err := server.PostEvent(ctx, cfg.RelayURL(), msg); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Sent %s to tab %s\n", info.MenuItemID, tab)
			return nil
		},
	}
}

// clickInfo builds the click for exactly one of selection, image or link.
func clickInfo(selection, image, link string) (*protocol.ClickInfo, error) {
	var info *protocol.ClickInfo
	set := 0
	if selection != "" {
		info = &protocol.ClickInfo{MenuItemID: types.MenuSaveSelection, SelectionText: selection}
		set++
	}
	if image != "" {
		info = &protocol.ClickInfo{MenuItemID: types.MenuSaveImage, SrcURL: image}
		set++
	}
	if link != "" {
		info = &protocol.ClickInfo{MenuItemID: types.MenuSaveLink, LinkURL: link}
		set++
	}
	if set != 1 {
		return nil, errors.New("exactly one of --selection, --image or --link is required")
	}
	return info, nil
}

func cardsCmd() *cli.Command {
	return &cli.Command{
		Name:  "cards",
		Usage: "List stored cards",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
		},
		Action: func(c *cli.Context) error {
			return withNotebook(c, func(ctx context.Context, nb *notebook.Notebook, _ *storage.CardStore) error {
				cards, err := nb.Cards(ctx)
				if err != nil {
					return err
				}
				return printCards(c.App.Writer, cards, c.Bool("json"))
			})
		},
	}
}

func queryCmd() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "List the cards relevant to a natural-language query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
		},
		Action: func(c *cli.Context) error {
			q := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(q) == "" {
				return errors.New("query is required")
			}
			return withNotebook(c, func(ctx context.Context, nb *notebook.Notebook, _ *storage.CardStore) error {
				cards, err := nb.Query(ctx, q)
				if err != nil {
					return err
				}
				return printCards(c.App.Writer, cards, c.Bool("json"))
			})
		},
	}
}

func printCards(w io.Writer, cards []types.Card, asJSON bool) error {
	if asJSON {
		out, err := export.JSON(cards, time.Now())
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}
	if len(cards) == 0 {
		fmt.Fprintln(w, "No cards.")
		return nil
	}
	for _, card := range cards {
		tags := "-"
		if len(card.Tags) > 0 {
			tags = strings.Join(card.Tags, ", ")
		}
		fmt.Fprintf(w, "%4d  %-5s  %s  %s  [%s]\n",
			card.ID, card.Type, card.Created().Format("2006-01-02 15:04"), card.Summary, tags)
	}
	return nil
}

func outputWriter(c *cli.Context) (io.Writer, func() error, error) {
	path := c.String("out")
	if path == "" {
		return c.App.Writer, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the notebook as markdown or JSON",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Export as JSON instead of markdown"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file path (default: stdout)"},
		},
		Action: func(c *cli.Context) error {
			return withNotebook(c, func(ctx context.Context, nb *notebook.Notebook, _ *storage.CardStore) error {
				cards, err := nb.Cards(ctx)
				if err != nil {
					return err
				}
				var out string
				if c.Bool("json") {
					if out, err = export.JSON(cards, time.Now()); err != nil {
						return err
					}
				} else {
					out = export.Markdown(cards, time.Now())
				}

				w, done, err := outputWriter(c)
				if err != nil {
					return err
				}
				if _, err := io.WriteString(w, out); err != nil {
					done()
					return err
				}
				return done()
			})
		},
	}
}

func backupCmd() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Write a compressed backup of every card",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "Backup file path"},
		},
		Action: func(c *cli.Context) error {
			return withNotebook(c, func(ctx context.Context, nb *notebook.Notebook, _ *storage.CardStore) error {
				cards, err := nb.Cards(ctx)
				if err != nil {
					return err
				}
				w, done, err := outputWriter(c)
				if err != nil {
					return err
				}
				if err := export.Backup(w, cards, time.Now()); err != nil {
					done()
					return err
				}
				if err := done(); err != nil {
					return err
				}
				applog.Info("backup.written", "cards", len(cards), "path", c.String("out"))
				fmt.Fprintf(c.App.ErrWriter, "Backed up %d cards to %s\n", len(cards), c.String("out"))
				return nil
			})
		},
	}
}

func restoreCmd() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Add the cards of a backup to the notebook",
		ArgsUsage: "<backup file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "replace", Usage: "Clear the notebook first"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return errors.New("backup file is required")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := export.ReadBackup(f)
			if err != nil {
				return err
			}

			return withNotebook(c, func(ctx context.Context, nb *notebook.Notebook, store *storage.CardStore) error {
				if c.Bool("replace") {
					if err := nb.Clear(ctx); err != nil {
						return err
					}
				}
				n, err := export.Restore(ctx, store, doc)
				applog.Info("backup.restored", "cards", n, "path", path)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Restored %d cards\n", n)
				return nil
			})
		},
	}
}

func seedCmd() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Replace the notebook with the demo cards",
		Action: func(c *cli.Context) error {
			return withNotebook(c, func(ctx context.Context, nb *notebook.Notebook, _ *storage.CardStore) error {
				ids, err := nb.SeedDemo(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Seeded %d demo cards\n", len(ids))
				return nil
			})
		},
	}
}
