// Command cmdproxy is the client CLI: it submits one RunRequest to a running
// cmdproxyd fleet over the configured broker and exits with the remote
// command's return code, grounded in the teacher's comet CLI shape
// (persistent flags cascading into a config struct before the subcommand
// body runs).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/broker"
	"github.com/oriys/cmdproxy/internal/cmdproxyclient"
	"github.com/oriys/cmdproxy/internal/config"
	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
)

var (
	redisURL       string
	blobBucket     string
	blobRegion     string
	blobEndpoint   string
	configFile     string
	queue          string
	requestFile    string
	commandName    string
	commandPath    string
	cwd            string
	stdoutLocal    string
	stderrLocal    string
	argsFlag       []string
	envFlag        []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cmdproxy",
		Short: "Submit a command to a cmdproxy worker fleet",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&redisURL, "redis-url", "", "broker URL (overrides config)")
	rootCmd.Flags().StringVar(&blobBucket, "blobstore-bucket", "", "object store bucket (overrides config)")
	rootCmd.Flags().StringVar(&blobRegion, "blobstore-region", "", "object store region (overrides config)")
	rootCmd.Flags().StringVar(&blobEndpoint, "blobstore-endpoint", "", "object store endpoint (overrides config)")
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.Flags().StringVar(&queue, "queue", "", "target queue; defaults to the command name when omitted")
	rootCmd.Flags().StringVar(&requestFile, "request", "", "path to a JSON-encoded RunRequest, or \"-\" for stdin")
	rootCmd.Flags().StringVar(&commandName, "command", "", "palette command name (single-command convenience mode)")
	rootCmd.Flags().StringVar(&commandPath, "path", "", "absolute command path (single-command convenience mode)")
	rootCmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the remote command")
	rootCmd.Flags().StringVar(&stdoutLocal, "stdout", "", "local file to capture stdout into")
	rootCmd.Flags().StringVar(&stderrLocal, "stderr", "", "local file to capture stderr into")
	rootCmd.Flags().StringArrayVar(&argsFlag, "arg", nil, "literal argument (repeatable, in order)")
	rootCmd.Flags().StringArrayVar(&envFlag, "env", nil, "KEY=VALUE passed to the remote environment (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if redisURL != "" {
		cfg.Broker.RedisURL = redisURL
	}
	if blobBucket != "" {
		cfg.BlobStore.Bucket = blobBucket
	}
	if blobRegion != "" {
		cfg.BlobStore.Region = blobRegion
	}
	if blobEndpoint != "" {
		cfg.BlobStore.Endpoint = blobEndpoint
	}

	req, err := buildRequest()
	if err != nil {
		return err
	}

	b, err := broker.NewRedisBroker(cfg.Broker.RedisURL, cfg.Broker.ResultTTL, cfg.Broker.WaitPollTick)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer b.Close()

	store, err := blobstore.NewS3Store(cmd.Context(), blobstore.S3Config{
		Bucket:         cfg.BlobStore.Bucket,
		Region:         cfg.BlobStore.Region,
		Endpoint:       cfg.BlobStore.Endpoint,
		ForcePathStyle: cfg.BlobStore.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("connect blob store: %w", err)
	}

	client := cmdproxyclient.New(b, store, nil)

	code, err := client.Run(context.Background(), req, queue)
	if err != nil {
		return err
	}

	os.Exit(code)
	return nil
}

// buildRequest assembles a RunRequest either by decoding --request (a file
// path or "-" for stdin) or, for the common single-command case, from the
// --command/--path/--arg/--env/--stdout/--stderr/--cwd flags.
func buildRequest() (*protocol.RunRequest, error) {
	if requestFile != "" {
		var r io.Reader
		if requestFile == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(requestFile)
			if err != nil {
				return nil, fmt.Errorf("open request file: %w", err)
			}
			defer f.Close()
			r = f
		}

		var req protocol.RunRequest
		if err := json.NewDecoder(r).Decode(&req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return &req, nil
	}

	if commandName == "" && commandPath == "" {
		return nil, fmt.Errorf("cmdproxy: one of --request, --command, or --path is required")
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("cmdproxy: determine local hostname: %w", err)
	}

	req := &protocol.RunRequest{}
	if commandPath != "" {
		req.Command = param.CmdPath(commandPath)
	} else {
		req.Command = param.CmdName(commandName)
	}

	if cwd != "" {
		req.Cwd = &cwd
	}
	if stdoutLocal != "" {
		req.Stdout = param.OutLocalFile(stdoutLocal, host)
	}
	if stderrLocal != "" {
		req.Stderr = param.OutLocalFile(stderrLocal, host)
	}

	for _, a := range argsFlag {
		req.Args = append(req.Args, param.Str(a))
	}

	if len(envFlag) > 0 {
		req.Env = make(map[string]*param.Param, len(envFlag))
		for _, kv := range envFlag {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("cmdproxy: --env value %q must be KEY=VALUE", kv)
			}
			req.Env[k] = param.Str(v)
		}
	}

	return req, nil
}
