package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "ragctl",
	Short:        "Manage GoRAG projects and documents",
	Long:         `Create projects, ingest documents and ask questions against a running GoRAG server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("GORAG_SERVER", "http://localhost:3000"), "GoRAG server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("GORAG_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
}

func apiClient() *client {
	return newClient(serverURL, token, timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
