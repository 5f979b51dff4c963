// Package sample holds the scaffolding shared by the command line
// samples: configuration, logger and connection bootstrap, and a stdin
// command reader for the interactive loops.
package sample

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
)

// UpdateInterval is the tick driving channel and live layer updates in the
// interactive samples.
const UpdateInterval = 16 * time.Millisecond

// Config carries the sample settings. Every field can be overridden with a
// STAGELINK_* environment variable.
type Config struct {
	// Username identifies this participant on channels and in session
	// configs.
	Username string
	// AuthToken is passed to remote servers as a bearer token.
	AuthToken string
	// Insecure switches remote transports to plain HTTP.
	Insecure bool
	// BasePath is the default destination folder for created stages.
	BasePath string
	// App is the application name announced on channels.
	App string
}

// LoadConfig reads the sample configuration from the environment.
func LoadConfig(app string) Config {
	v := viper.New()
	v.SetEnvPrefix("STAGELINK")
	v.AutomaticEnv()

	username := "user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	v.SetDefault("username", username)
	v.SetDefault("auth_token", "")
	v.SetDefault("insecure", false)
	v.SetDefault("base_path", "omniverse://localhost/Users/"+username)

	return Config{
		Username:  v.GetString("username"),
		AuthToken: v.GetString("auth_token"),
		Insecure:  v.GetBool("insecure"),
		BasePath:  v.GetString("base_path"),
		App:       app,
	}
}

// NewLogger builds the sample logger; verbose enables debug output.
func NewLogger(verbose bool) logger.Logger {
	build := logger.New
	if verbose {
		build = logger.NewVerbose
	}

	lggr, err := build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}

	return lggr
}

// Connect opens a connection with the sample's settings. A connect error
// on any server ends the program, matching the original samples which
// cannot proceed without their server.
func Connect(lggr logger.Logger, cfg Config) *client.Connection {
	var opts []client.Option
	if cfg.AuthToken != "" {
		opts = append(opts, client.WithAuthToken(cfg.AuthToken))
	}
	if cfg.Insecure {
		opts = append(opts, client.WithInsecure())
	}

	conn := client.Connect(lggr.Named("Client"), opts...)
	conn.RegisterStatusCallback(func(serverURL string, status client.ConnectionStatus) {
		if status == client.StatusConnectError {
			lggr.Fatalw("Failed to connect", "server", serverURL)
		}
		lggr.Infow("Connection status", "server", serverURL, "status", status.String())
	})

	return conn
}

// stdin is shared so the prompt helpers and the command loop never steal
// buffered input from each other.
var stdin = bufio.NewReader(os.Stdin)

// ReadCommands reads single-character commands from stdin, one per line,
// until EOF or context cancellation. The returned channel closes when
// input ends.
func ReadCommands(ctx context.Context) <-chan rune {
	out := make(chan rune)
	go func() {
		defer close(out)

		for {
			line, err := stdin.ReadString('\n')
			trimmed := strings.TrimSpace(line)
			if trimmed != "" {
				select {
				case out <- []rune(strings.ToLower(trimmed))[0]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return out
}

// ReadLine reads one line from stdin, trimmed.
func ReadLine() string {
	line, _ := stdin.ReadString('\n')

	return strings.TrimSpace(line)
}
