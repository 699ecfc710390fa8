// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/config"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/discord"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/feed"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/sender"
	"github.com/fluffy-critter/rss2discord/internal/cli"
	"github.com/fluffy-critter/rss2discord/internal/logger"
	"github.com/fluffy-critter/rss2discord/internal/request"
)

func main() { cli.Main(new(announcer)) }

func (a *announcer) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log what would be posted, but don't post or save state.")
	fs.BoolVar(&a.populate, "populate", false, "Mark all current feed entries as announced without posting them.")
	fs.IntVar(&a.maxAgeDays, "max-age", 30, "Days to keep announced entries in state (0 to keep forever).")
	fs.StringVar(&a.stateDir, "state-dir", "", "Directory for per-feed state (overrides config and environment).")
}

type announcer struct {
	init sync.Once

	// configuration
	dry        bool
	populate   bool
	maxAgeDays int
	stateDir   string

	// now acts as time.Now, but can be mocked for testing.
	now   func() time.Time
	httpc *http.Client
	// newSender builds the delivery transport for a webhook, replaceable
	// for testing.
	newSender func(webhookURL string) sender.Sender

	// initialized by doInit
	fetcher   *feed.Fetcher
	logf      logger.Logf
	slog      *slog.Logger
	slogLevel *slog.LevelVar
}

func (a *announcer) doInit(ctx context.Context) {
	env := cli.GetEnv(ctx)
	a.logf = env.Logf

	if a.now == nil {
		a.now = time.Now
	}
	if a.httpc == nil {
		a.httpc = request.DefaultClient
	}

	l := logger.Get(ctx)
	a.slog = l.Logger
	a.slogLevel = l.Level

	a.fetcher = feed.NewFetcher(a.httpc, a.slog)
	if a.newSender == nil {
		a.newSender = func(webhookURL string) sender.Sender {
			return discord.New(discord.Config{
				WebhookURL: webhookURL,
				HTTPClient: a.httpc,
				Logger:     a.slog,
			})
		}
	}
}

func (a *announcer) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	a.init.Do(func() { a.doInit(ctx) })

	// Enable debug logging in dry-run mode.
	if a.dry {
		a.slogLevel.Set(slog.LevelDebug)
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: at least one config file is required, see -help for usage", cli.ErrInvalidArgs)
	}

	var errs []error
	for _, path := range env.Args {
		cfg, err := config.Load(path, func(msg string) { a.logf("%s", msg) })
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		stateDir, err := a.resolveStateDir(env, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		if err := a.runConfig(ctx, cfg, stateDir); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// resolveStateDir picks the state directory for a config: the -state-dir
// flag wins, then the config's state_dir, then the environment.
func (a *announcer) resolveStateDir(env *cli.Env, cfg *config.Config) (string, error) {
	dir := cmp.Or(a.stateDir, cfg.StateDir, env.Getenv("STATE_DIRECTORY"))
	if dir != "" {
		return dir, nil
	}
	xdgStateHome := env.Getenv("XDG_STATE_HOME")
	if xdgStateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		xdgStateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(xdgStateHome, "rss2discord"), nil
}

func (a *announcer) maxAge() time.Duration {
	if a.maxAgeDays <= 0 {
		return 0
	}
	return time.Duration(a.maxAgeDays) * 24 * time.Hour
}
