package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"murmur/metrics"
	"murmur/session"
	"murmur/stt"
	"murmur/web"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().
		String("deepgram-api-key", "", "Deepgram API key")
	serveCmd.Flags().Int("http-port", 8001, "HTTP server port")
	serveCmd.Flags().
		Duration("heartbeat-interval", time.Second, "Idle wait before a synthetic heartbeat")
	serveCmd.Flags().
		Duration("reap-interval", 5*time.Minute, "How often to scan for expired sessions")
	serveCmd.Flags().
		Duration("session-max-age", 30*time.Minute, "Session age ceiling before eviction")

	viper.BindPFlag(
		"deepgram_api_key",
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag("http_port", serveCmd.Flags().Lookup("http-port"))
	viper.BindPFlag(
		"heartbeat_interval",
		serveCmd.Flags().Lookup("heartbeat-interval"),
	)
	viper.BindPFlag(
		"reap_interval",
		serveCmd.Flags().Lookup("reap-interval"),
	)
	viper.BindPFlag(
		"session_max_age",
		serveCmd.Flags().Lookup("session-max-age"),
	)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "murmur",
	Short: "Murmur is a realtime speech-to-text streaming server",
	Long:  `Murmur bridges a live speech-recognition engine to many client connections over SSE and websockets.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming HTTP server",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	engine, err := stt.NewDeepgramEngine(
		viper.GetString("deepgram_api_key"),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create recognition engine", "error", err)
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	registry := session.NewRegistry(engine, logger, m)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	reaper := session.NewReaper(
		registry,
		viper.GetDuration("reap_interval"),
		viper.GetDuration("session_max_age"),
		logger,
	)
	go reaper.Run(ctx)

	handler := web.NewHandler(
		registry,
		logger,
		viper.GetDuration("heartbeat_interval"),
	)
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	handler.Routes(router)
	router.Handle("/metrics", promhttp.Handler())

	port := viper.GetInt("http_port")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			10*time.Second,
		)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	if err := server.ListenAndServe(); err != nil &&
		err != http.ErrServerClosed {
		logger.Fatal("Failed to start server", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
