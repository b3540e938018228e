// Command drops-miner is the headless wiring root: Settings -> Transport ->
// Auth -> GraphQL -> WebsocketPool -> Controller, mirroring the shape
// original_source/headless.py's entrypoint drives through Twitch's own
// Python Twitch/HeadlessGUIManager pair, minus any GUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/klaro-drops/drops-miner/internal/auth"
	"github.com/klaro-drops/drops-miner/internal/cliui"
	"github.com/klaro-drops/drops-miner/internal/config"
	"github.com/klaro-drops/drops-miner/internal/constants"
	"github.com/klaro-drops/drops-miner/internal/cookiestore"
	"github.com/klaro-drops/drops-miner/internal/gql"
	"github.com/klaro-drops/drops-miner/internal/login"
	"github.com/klaro-drops/drops-miner/internal/miner"
	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/transport"
	"github.com/klaro-drops/drops-miner/internal/wspool"
)

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	priorityFlag := flag.String("priority", "", "comma-separated games to prefer, highest first")
	excludeFlag := flag.String("exclude", "", "comma-separated games to never mine")
	priorityOnly := flag.Bool("priority-only", false, "mine only games named by -priority")
	enableBadgesEmotes := flag.Bool("enable-badges-emotes", false, "also mine campaigns that only reward badges/emotes")
	debug := flag.Bool("debug", false, "force debug logging regardless of DROPS_LOG_LEVEL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("drops-miner: %v", err)
	}

	logger := minerlog.New(os.Stdout, minerlog.Settings{
		Debug: *debug || cfg.LogLevel == "debug",
		Emoji: cfg.LogEmoji,
	})

	jar, err := cookiestore.Load(cfg.CookieJarPath)
	if err != nil {
		logger.Errorf("load cookie jar: %v", err)
	}

	tr, err := transport.New(transport.Options{
		ProxyURL:         cfg.ProxyURL,
		DisableTLSVerify: cfg.DisableTLSVerify,
		Jar:              jar,
		RequestTimeout:   cfg.RequestTimeout,
	})
	if err != nil {
		logger.Errorf("build transport: %v", err)
		os.Exit(1)
	}

	ui := cliui.NewConsole(logger)
	settings := cliui.NewSettings(splitList(*priorityFlag), splitList(*excludeFlag), *priorityOnly, cfg.ProxyURL, *enableBadgesEmotes)

	deviceLogin := login.New(tr, ui, logger)
	authProvider := auth.New(tr, deviceLogin.Do, constants.ClientID, constants.UserAgent, logger)
	if token, ok := cookiestore.Find(jar, "auth-token"); ok {
		authProvider.SeedAccessToken(token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := authProvider.Validate(ctx)
	if err != nil {
		logger.Errorf("authenticate: %v", err)
		os.Exit(1)
	}
	cookiestore.Set(jar, "auth-token", state.AccessToken)
	cookiestore.Set(jar, "persistent", fmt.Sprintf("%d", state.UserID))
	if err := cookiestore.Save(jar, cfg.CookieJarPath); err != nil {
		logger.Errorf("save cookie jar: %v", err)
	}

	gqlClient := gql.New(tr, authProvider, cfg.GQLRatePerSecond, cfg.GQLBurst)
	pool, err := wspool.NewWithLimits(constants.WebsocketURL, func() string { return authProvider.State().AccessToken }, logger, cfg.WebsocketPoolCap, cfg.WSTopicsPerConn, cfg.ProxyURL)
	if err != nil {
		logger.Errorf("build websocket pool: %v", err)
		os.Exit(1)
	}

	ctrl := miner.New(gqlClient, tr, pool, ui, settings, logger, state.UserID)

	go func() {
		<-ctx.Done()
		ui.RequestClose()
		ctrl.RequestExit()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()

	ui.WaitUntilClosed()
	<-done

	if err := cookiestore.Save(jar, cfg.CookieJarPath); err != nil {
		logger.Errorf("save cookie jar: %v", err)
	}
}
