package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jackadi-io/netbatch/cmd/netbatch/app"
	"github.com/jackadi-io/netbatch/cmd/netbatch/autocompletion"
	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/cmd/netbatch/style"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/intent"
	"github.com/jackadi-io/netbatch/internal/serializer"
	"github.com/jackadi-io/netbatch/internal/service"
	"github.com/spf13/cobra"
)

// ExitPartialFailure is the exit status when at least one device failed.
const ExitPartialFailure = 2

type flags struct {
	fromFile       bool
	plan           bool
	intents        []string
	category       string
	maxConcurrency int
	timeout        time.Duration
	stopOnFailure  bool
	acquireRetries int
	// changed reports whether a flag was set on the command line.
	changed func(name string) bool
}

func Command() *cobra.Command {
	f := flags{}

	cmd := &cobra.Command{
		Use:   "run [-f] SCOPE [-i INTENT]... [-- COMMAND...]",
		Short: "Run commands on every device of a scope",
		Example: `  netbatch run "all core routers" -- "show version" "show clock"
  netbatch run R1-R5 -i bgp -i "interface name=Gi0/1"
  netbatch run role:edge --plan -i routes`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("requires a scope")
			}
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("scope must not be empty")
			}
			if len(args) == 1 && len(f.intents) == 0 {
				return errors.New("requires at least one command or --intent")
			}
			return nil
		},
		ValidArgsFunction: autocompletion.Scopes,
		GroupID:           "operations",
		Run: func(cmd *cobra.Command, args []string) {
			code, err := execute(cmd, f, args)
			if err != nil {
				style.Fatal(err)
			}
			os.Exit(code)
		},
	}

	cmd.Flags().BoolVarP(&f.fromFile, "file", "f", false, "read the devices from the SCOPE file (one device per line)")
	cmd.Flags().BoolVar(&f.plan, "plan", false, "show the resolved devices and commands without running anything")
	cmd.Flags().StringArrayVarP(&f.intents, "intent", "i", nil, `intent to run, with its arguments: "interface name=Gi0/1"`)
	cmd.Flags().StringVarP(&f.category, "category", "c", config.DefaultCategory, "category under which results are stored")
	cmd.Flags().IntVar(&f.maxConcurrency, "max-concurrency", 0, "maximum number of devices running at the same time (default: configuration)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "timeout of a single command (default: configuration)")
	cmd.Flags().BoolVar(&f.stopOnFailure, "stop-on-failure", false, "skip the remaining commands of a device after its first failure")
	cmd.Flags().IntVar(&f.acquireRetries, "acquire-retries", 0, "connection attempts after a failed one (default: configuration)")

	_ = cmd.RegisterFlagCompletionFunc("intent", autocompletion.Intents)

	return cmd
}

func (f flags) request(args []string) (service.Request, error) {
	req := service.Request{
		Scope:    args[0],
		Commands: args[1:],
		Category: f.category,
		Options: service.Options{
			MaxConcurrency: f.maxConcurrency,
			CommandTimeout: f.timeout,
		},
	}
	if f.changed != nil && f.changed("stop-on-failure") {
		req.Options.StopOnFirstFailure = &f.stopOnFailure
	}
	if f.changed != nil && f.changed("acquire-retries") {
		req.Options.AcquireRetries = &f.acquireRetries
	}

	if f.fromFile {
		scope, err := scopeFromFile(args[0])
		if err != nil {
			return req, err
		}
		req.Scope = scope
	}

	for _, line := range f.intents {
		call, err := intent.ParseCall(line)
		if err != nil {
			return req, fmt.Errorf("invalid intent %q: %w", line, err)
		}
		req.Intents = append(req.Intents, call)
	}
	return req, nil
}

func execute(cmd *cobra.Command, f flags, args []string) (int, error) {
	f.changed = cmd.Flags().Changed
	req, err := f.request(args)
	if err != nil {
		return 1, err
	}

	cfg, err := option.LoadConfig(cmd)
	if err != nil {
		return 1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Persist: !f.plan})
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown failed", "error", err)
		}
	}()

	if f.plan {
		p, err := a.Service.Plan(req)
		if err != nil {
			return 1, err
		}
		return 0, output(p, renderPlan)
	}

	if cfg.Execution.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Execution.BatchTimeout)
		defer cancel()
	}

	resp, err := a.Service.Run(ctx, req)
	if resp.Batch.RunID == "" {
		return 1, err
	}
	if err != nil {
		slog.Error("batch interrupted", "run", resp.Batch.RunID, "error", err)
	}

	if err := output(resp, renderResponse); err != nil {
		return 1, err
	}
	if len(resp.Batch.DevicesFailed) > 0 || err != nil {
		return ExitPartialFailure, nil
	}
	return 0, nil
}

func output[T any](v T, render func(T) string) error {
	if option.GetJSONFormat() {
		out, err := serializer.JSON.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize response in JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	style.PrettyPrint(render(v))
	return nil
}

// scopeFromFile reads one device per line and returns them as a list expression.
func scopeFromFile(file string) (string, error) {
	fd, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = fd.Close()
	}()

	scanner := bufio.NewScanner(fd)
	devices := []string{}
	for scanner.Scan() {
		device := strings.TrimSpace(scanner.Text())
		if device == "" || strings.HasPrefix(device, "#") || slices.Contains(devices, device) {
			continue
		}
		devices = append(devices, device)
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no device in %s", file)
	}

	return strings.Join(devices, config.ListSeparator), nil
}
