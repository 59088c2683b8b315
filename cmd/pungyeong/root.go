/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lewtec/pungyeong/annotation"
	"github.com/lewtec/pungyeong/internal/repository"
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pungyeong",
	Short: "Annotate background images with a vision model",
	Long: strings.TrimSpace(`
Pull background images from the FTP share, describe each one with Gemini,
store the original in S3 and the annotation in the raw_image table.
    `),
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Optional YAML config file; environment variables take precedence")
}

func loadConfig() (*annotation.Config, error) {
	config, err := annotation.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

func openDatabase(ctx context.Context, config *annotation.Config) (*sql.DB, repository.Dialect, error) {
	if err := config.ValidateDatabase(); err != nil {
		return nil, "", err
	}
	db, dialect, err := repository.GetDatabase(ctx, config.Database.URL, repository.PoolOptions{
		MaxOpenConns: config.Database.MaxOpenConns,
		MaxIdleConns: config.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return db, dialect, nil
}

func newAnnotationClient(ctx context.Context, config *annotation.Config) (*annotation.Client, *annotation.GeminiGenerator, error) {
	if err := config.ValidateGemini(); err != nil {
		return nil, nil, err
	}
	generator, err := annotation.NewGeminiGenerator(ctx, config.Gemini.GeminiConfig)
	if err != nil {
		return nil, nil, err
	}
	return annotation.NewClient(generator, config.ClientOptions()), generator, nil
}
