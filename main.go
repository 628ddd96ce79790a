package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"Resonate/aggregator"
	"Resonate/config"
	"Resonate/library"
	"Resonate/piped"
	"Resonate/player"
	"Resonate/proxy"
	"Resonate/song"
	"Resonate/store"
	"Resonate/utils"
	"Resonate/visualizer"
	"Resonate/yt"

	"github.com/Strum355/log"
	"github.com/spf13/viper"
)

var production *bool

func main() {
	// Sets Flag to Debug Mode
	production = flag.Bool("p", false, "enables production with json logging")
	flag.Parse()
	if *production {
		log.InitJSONLogger(&log.Config{Output: os.Stdout})
	} else {
		log.InitSimpleLogger(&log.Config{Output: os.Stdout})
	}

	// Sets up Configurations for Viper
	config.InitConfig()

	kv := openStore()

	health := piped.NewHealthTracker(time.Duration(viper.GetInt("piped.broken_ttl")) * time.Second)
	pipedClient := piped.NewClient(viper.GetStringSlice("piped.instances"), health)
	go pipedClient.RefreshInstances(context.Background())
	ytClient := yt.NewClient(viper.GetString("proxy.url"))
	agg := aggregator.New(ytClient, pipedClient, aggregator.NewLegacyExecutor())

	engine := player.NewEngine(&player.BeepFactory{}, agg, kv, nil)
	engine.RestoreSession()

	var lib *library.Library
	if dsn := viper.GetString("postgres.dsn"); dsn != "" {
		var err error
		if lib, err = library.Init(dsn); err != nil {
			log.WithError(err).Error("Library unavailable, favorites disabled")
		}
	}

	mux := http.NewServeMux()
	proxy.Mount(mux)
	srv := &http.Server{Addr: viper.GetString("server.address"), Handler: mux}
	go func() {
		log.WithFields(log.Fields{"address": srv.Addr}).Info("Proxy server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Proxy server stopped")
		}
	}()

	vis := visualizer.New(nil, nil)
	visCtx, visCancel := context.WithCancel(context.Background())
	go vis.Run(visCtx, 50*time.Millisecond)

	go commandLoop(engine, agg, lib, vis)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc
	gracefulShutdown(engine, srv, visCancel)
}

// gracefulShutdown stops playback, persists the session and closes the server.
func gracefulShutdown(engine *player.Engine, srv *http.Server, visCancel context.CancelFunc) {
	log.Info("Starting graceful shutdown...")

	visCancel()
	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	log.Info("Cleanly exiting")
}

// openStore picks Redis when configured, otherwise the local state file.
func openStore() store.KV {
	if address := viper.GetString("redis.address"); address != "" {
		return store.NewRedisKV(address)
	}
	kv, err := store.NewFileKV(viper.GetString("store.file"))
	if err != nil {
		log.WithError(err).Error("State file unavailable, falling back to memory")
		return store.NewMemoryKV()
	}
	return kv
}

// commandLoop is the interactive front-end: search, pick, control playback.
func commandLoop(engine *player.Engine, agg *aggregator.Aggregator, lib *library.Library, vis *visualizer.Visualizer) {
	scanner := bufio.NewScanner(os.Stdin)
	var results []song.Song

	fmt.Println("commands: search <kw> | play <n> | pause | next | mode <sequence|loop|shuffle> | quality <320k|128k> | queue | fav | favs | quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ctx := context.Background()

		switch fields[0] {
		case "search":
			if len(fields) < 2 {
				continue
			}
			results = agg.SearchAggregate(ctx, strings.Join(fields[1:], " "), 1)
			for i, s := range results {
				fmt.Printf("%2d. [%s] %s - %s (%s)\n", i+1, s.Source, s.Name, s.Artist, utils.FormatTrackDuration(s.Duration))
			}

		case "play":
			if len(fields) < 2 {
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 || n > len(results) {
				fmt.Println("no such result")
				continue
			}
			if err := engine.PlaySong(ctx, results[n-1]); err != nil {
				log.WithError(err).Error("Playback failed")
				continue
			}
			vis.SetAnalyzer(engine.Analyzer())
			vis.SetPlaying(true)

		case "pause":
			engine.TogglePlay()
			vis.SetPlaying(engine.Playing())

		case "next":
			if err := engine.Next(ctx); err != nil {
				log.WithError(err).Error("Skip failed")
			}

		case "mode":
			if len(fields) > 1 {
				engine.SetMode(player.Mode(fields[1]))
			}

		case "quality":
			if len(fields) > 1 {
				if err := engine.SetQuality(ctx, song.Quality(fields[1])); err != nil {
					fmt.Println(err)
				}
			}

		case "queue":
			for i, s := range engine.Queue() {
				marker := "  "
				if cur := engine.Current(); cur != nil && cur.ID == s.ID {
					marker = "> "
				}
				fmt.Printf("%s%2d. %s - %s\n", marker, i+1, s.Name, s.Artist)
			}

		case "fav":
			if lib == nil {
				fmt.Println("favorites unavailable")
				continue
			}
			if cur := engine.Current(); cur != nil {
				if err := lib.AddFavorite(*cur); err != nil {
					log.WithError(err).Error("Failed to star song")
				}
			}

		case "favs":
			if lib == nil {
				fmt.Println("favorites unavailable")
				continue
			}
			favs, err := lib.Favorites()
			if err != nil {
				log.WithError(err).Error("Failed to list favorites")
				continue
			}
			for i, s := range favs {
				fmt.Printf("%2d. [%s] %s - %s\n", i+1, s.Source, s.Name, s.Artist)
			}

		case "quit", "exit":
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		}
	}
}
