package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"masterselects/internal/server"
)

var (
	flagFile      = flag.String("file", "", "Media file to open in the preview window")
	flagServe     = flag.String("serve", "", "Run the frame server on this address instead of the preview window (e.g. 127.0.0.1:9222)")
	flagKernelDir = flag.String("kernel-dir", "", "Directory holding the NV12->RGBA kernel module")
	flagCacheMB   = flag.Int("cache-mb", 0, "Decoded-frame cache budget in MB")
	flagOrigins   = flag.String("allow-origin", "", "Extra allowed WebSocket origin for --serve")
	flagLogLevel  = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
)

func main() {
	// .env is optional; flags override anything it sets.
	_ = godotenv.Load()
	flag.Parse()

	setupLogging()

	kernelDir := *flagKernelDir
	if kernelDir == "" {
		kernelDir = os.Getenv("MASTERSELECTS_KERNEL_DIR")
	}
	cacheMB := *flagCacheMB
	if cacheMB == 0 {
		if v, err := strconv.Atoi(os.Getenv("MASTERSELECTS_CACHE_MB")); err == nil {
			cacheMB = v
		}
	}

	if *flagServe != "" {
		srv := server.New(server.Config{
			Addr:           *flagServe,
			KernelDir:      kernelDir,
			CacheMB:        cacheMB,
			AllowedOrigins: splitNonEmpty(*flagOrigins),
		})
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("frame server failed")
		}
		return
	}

	if err := runPreview(*flagFile, kernelDir, cacheMB); err != nil {
		log.Fatal().Err(err).Msg("preview failed")
	}
}

func setupLogging() {
	level := *flagLogLevel
	if level == "" {
		level = os.Getenv("MASTERSELECTS_LOG")
	}
	if level == "" {
		level = "info"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(parsed).
		With().Timestamp().Logger()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
