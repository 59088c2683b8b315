package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lewtec/pungyeong/annotation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve single-image analysis over HTTP",
	Long: `Starts an HTTP server with:
  POST /api/analyze  multipart form with an "image" file and an optional "prompt" template
  GET  /api/prompt   the prompt template in use
  GET  /healthz
  GET  /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		template, err := annotation.LoadPromptTemplate(config.Gemini.PromptFile)
		if err != nil {
			return err
		}
		client, generator, err := newAnnotationClient(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer generator.Close()

		app := &annotation.AnalyzerApp{
			Analyzer:       client,
			PromptTemplate: template,
			Metrics:        promhttp.Handler(),
		}

		addr, _ := cmd.Flags().GetString("addr")
		server := &http.Server{
			Addr:              addr,
			Handler:           app.GetHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-cmd.Context().Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()

		log.Printf("Model: %s", generator.ModelName())
		log.Printf("Starting server on: %s", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to bind the webserver")
}
