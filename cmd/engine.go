package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/codecli/internal/engine"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run a local workflow engine",
	Long: `Run a local stand-in for the external workflow engine.

It accepts invocations on POST /webhook, answers them with the selected
responder and posts the result to each invocation's callback_url. Point
the server at it with workflow.url: http://localhost:<engine.port>/webhook

Responders:
  echo       repeat the prompt back (no credentials needed)
  anthropic  answer with a Claude model (needs anthropic.api_key)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newResponder(viper.GetString("engine.responder"))
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr)
		e := engine.New(r,
			engine.WithDelay(viper.GetDuration("engine.delay")),
			engine.WithLogger(logger),
		)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", viper.GetInt("engine.port")),
			Handler:           e.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("workflow engine listening", "addr", srv.Addr, "responder", viper.GetString("engine.responder"))
		return runHTTP(cmd.Context(), srv, e.Close)
	},
}

func init() {
	engineCmd.Flags().Int("port", 5678, "port to listen on")
	engineCmd.Flags().String("responder", "echo", "responder: echo or anthropic")
	engineCmd.Flags().Duration("delay", 0, "delay before answering each invocation")
	_ = viper.BindPFlag("engine.port", engineCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("engine.responder", engineCmd.Flags().Lookup("responder"))
	_ = viper.BindPFlag("engine.delay", engineCmd.Flags().Lookup("delay"))
	rootCmd.AddCommand(engineCmd)
}

func newResponder(name string) (engine.Responder, error) {
	switch name {
	case "", "echo":
		return engine.EchoResponder{}, nil
	case "anthropic":
		key := viper.GetString("anthropic.api_key")
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic responder needs anthropic.api_key or ANTHROPIC_API_KEY")
		}
		return engine.NewAnthropicResponder(key, viper.GetString("anthropic.model")), nil
	default:
		return nil, fmt.Errorf("unknown responder %q (want echo or anthropic)", name)
	}
}
