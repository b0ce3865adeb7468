package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"netfetch/config"
	"netfetch/handler"
	"netfetch/internal/usecase/dto"
)

type getOptions struct {
	method     string
	headers    []string
	data       string
	priority   string
	allowEmpty bool
	archive    bool
	archiveKey string
	output     string
	asJSON     bool
}

func newGetCmd() *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch one URL and print the body",
		Long: `Fetch one URL through the same queue, trust policy and worker as the server.

The body goes to stdout (or --output); the status line goes to stderr.
Use --json to print the full worker response instead.

for example:
	get https://api.example.com/v1/items -H "Accept: application/json"
	get https://api.example.com/v1/items -X POST -d '{"name":"x"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runGet(ctx, cfg, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.method, "request", "X", "GET", "HTTP method")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, `request header "Name: value" (repeatable)`)
	flags.StringVarP(&opts.data, "data", "d", "", "request body")
	flags.StringVar(&opts.priority, "priority", "", "queue priority (background .. user-interactive)")
	flags.BoolVar(&opts.allowEmpty, "allow-empty", false, "treat an empty body as success")
	flags.BoolVar(&opts.archive, "archive", false, "archive the body to the configured storage")
	flags.StringVar(&opts.archiveKey, "archive-key", "", "archive under this key instead of the generated one")
	flags.StringVarP(&opts.output, "output", "o", "", "write the body to a file")
	flags.BoolVar(&opts.asJSON, "json", false, "print the worker response as JSON")

	return cmd
}

func (o *getOptions) payload(rawURL string) (dto.FetchRequest, error) {
	headers := make(map[string]string, len(o.headers))
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return dto.FetchRequest{}, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	req := dto.FetchRequest{
		URL:            rawURL,
		Method:         o.method,
		Headers:        headers,
		AllowEmptyBody: o.allowEmpty,
		Priority:       o.priority,
		Archive:        o.archive,
		ArchiveKey:     o.archiveKey,
	}
	if o.data != "" {
		req.Body = []byte(o.data)
	}
	return req, nil
}

// runGet performs one fetch through the CLI handler. Logs go to stderr so
// stdout carries only the body.
func runGet(ctx context.Context, cfg *config.Config, rawURL string, opts *getOptions, stdout, stderr io.Writer) (err error) {
	payload, err := opts.payload(rawURL)
	if err != nil {
		return err
	}

	app, err := buildApplication(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if serr := app.Shutdown(context.Background()); err == nil {
			err = serr
		}
	}()

	req, err := handler.NewRequest(dto.RequestTypeFetch, payload)
	if err != nil {
		return err
	}
	req.Source = handler.PlatformCLI

	resp, err := app.newFactory().CreateCLI().Handle(ctx, req)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}

	if !resp.Success {
		if resp.Error == nil {
			return errors.New("fetch failed")
		}
		return fmt.Errorf("%s: %s: %s", resp.Error.Code, resp.Error.Message, resp.Error.Details)
	}
	if opts.asJSON {
		return nil
	}

	var data dto.FetchResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	status := data.Status
	if status == "" {
		status = fmt.Sprint(data.StatusCode)
	}
	fmt.Fprintf(stderr, "%s %s (%d bytes, %d ms)\n", data.Proto, status, data.Size, data.DurationMS)
	if data.ArchiveKey != "" {
		fmt.Fprintf(stderr, "archived as %s\n", data.ArchiveKey)
	}

	if opts.output == "" {
		_, err = stdout.Write(data.Body)
		return err
	}
	return os.WriteFile(opts.output, data.Body, 0o644)
}
