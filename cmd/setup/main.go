package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/angeloszaimis/appwrite-keepalive/config"
	"github.com/angeloszaimis/appwrite-keepalive/internal/keepalive"
	"github.com/angeloszaimis/appwrite-keepalive/pkg/logger"
)

var rule = strings.Repeat("─", 40)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.Logging.Level, false, cfg.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg.Projects, os.Stdout, log, keepalive.NewAppwriteClientFactory(cfg.RequestTimeout()))
	cancel()

	os.Exit(code)
}

// run provisions every project and stops at the first one that fails.
func run(ctx context.Context, projects []config.ProjectConfig, out io.Writer, log *slog.Logger, newClient keepalive.ClientFactory) int {
	fmt.Fprintln(out, "appwrite-keepalive setup")
	fmt.Fprintln(out, rule)

	for _, project := range projects {
		fmt.Fprintf(out, "Endpoint: %s\n", project.Endpoint)
		fmt.Fprintf(out, "Project: %s\n\n", project.Label())

		steps, err := keepalive.Setup(ctx, newClient(project), log.With(slog.String("project", project.Label())))
		for _, step := range steps {
			status := "Exists"
			if step.Created {
				status = "Created"
			}
			fmt.Fprintf(out, "  %s: %s\n", status, step.Resource)
		}

		if err != nil {
			fmt.Fprintf(out, "\nSetup failed for %s: %v\n", project.Label(), err)
			return 1
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "Setup complete.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "1. Add these secrets to your GitHub repo:")
	fmt.Fprintf(out, "   - %s (or %s, %s, %s)\n", config.EnvProjects, config.EnvEndpoint, config.EnvProjectID, config.EnvAPIKey)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "2. Enable the GitHub Action workflow")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Your project will stay alive.")

	return 0
}
