// =============================================================================
// mmagent entry point
// =============================================================================
// Runs a four-agent mathematical modeling workflow from the command line.
//
// Usage:
//
//	mmagent run <problem_dir>                      # run the workflow
//	mmagent test [--agent coordinator]             # probe agent endpoints
//	mmagent config set-api-key <agent> <key>       # persist a credential
//	mmagent config set-model <agent> <model>       # persist a model name
//	mmagent config set-base-url <agent> <url>      # persist a base URL
//	mmagent version                                # show version info
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
	"github.com/BaSui01/mmagent/llm"
	"github.com/BaSui01/mmagent/sandbox"
	"github.com/BaSui01/mmagent/scholar"
	"github.com/BaSui01/mmagent/workflow"
)

// =============================================================================
// Version info (injected at build time)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// Main
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runWorkflow(os.Args[2:])
	case "test":
		runTest(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version":
		fmt.Printf("mmagent %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mmagent - multi-agent mathematical modeling workflow

Commands:
  run <problem_dir>                  Run the workflow on a problem directory
  test [--agent name]                Test agent endpoint connectivity
  config set-api-key <agent> <key>   Set the API key for an agent
  config set-model <agent> <model>   Set the model for an agent
  config set-base-url <agent> <url>  Set the base URL for an agent
  version                            Show version information

The problem directory must contain questions.txt; any other files and
directories are staged as data for the coder.`)
}

func loadConfig(configPath string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvFile(config.DefaultEnvFile)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	return loader.Load()
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	_ = level.Set(cfg.Level)

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// =============================================================================
// run command
// =============================================================================

func runWorkflow(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mmagent run <problem_dir>")
		os.Exit(1)
	}
	problemDir := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync()

	// The problem statement is read before anything is provisioned; a
	// missing questions file must fail fast.
	quesAll, err := workflow.ReadProblem(problemDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	taskID := workflow.NewTaskID()
	fmt.Printf("Running workflow %s for problem in %s\n", taskID, problemDir)

	var publisher channel.Publisher = channel.NopPublisher{}
	if cfg.Redis.Addr != "" {
		rp, err := channel.NewRedisPublisher(ctx, channel.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, progress broadcasting disabled", zap.Error(err))
		} else {
			publisher = rp
			defer rp.Close()
		}
	}

	providers := workflow.Providers{
		Coordinator: roleClient(config.RoleCoordinator, &cfg.Coordinator, logger),
		Modeler:     roleClient(config.RoleModeler, &cfg.Modeler, logger),
		Coder:       roleClient(config.RoleCoder, &cfg.Coder, logger),
		Writer:      roleClient(config.RoleWriter, &cfg.Writer, logger),
	}

	searcher := scholar.NewClient(cfg.Scholar, taskID, publisher, logger)
	backend := sandbox.NewProcessBackend(cfg.Sandbox.PythonBin, logger)

	wf := workflow.New(cfg, providers, backend, searcher, publisher, logger)
	output, err := wf.Execute(ctx, workflow.Problem{TaskID: taskID, QuesAll: quesAll}, problemDir)
	if err != nil {
		// Persist whatever completed before surfacing the failure.
		if output != nil && output.Len() > 0 {
			_ = output.SaveResult()
		}
		fmt.Fprintf(os.Stderr, "Workflow failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Workflow finished: %d sections saved to %s\n", output.Len(), workflow.SolutionFile)
}

func roleClient(role config.AgentRole, rc *config.RoleConfig, logger *zap.Logger) *llm.Client {
	return llm.NewClient(llm.ClientConfig{
		Name:    string(role),
		APIKey:  rc.APIKey,
		BaseURL: rc.BaseURL,
		Model:   rc.Model,
	}, logger)
}

// =============================================================================
// test command
// =============================================================================

func runTest(args []string) {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	agentName := fs.String("agent", "", "Agent to test (default: all)")
	configPath := fs.String("config", "", "Path to YAML config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	roles := config.Roles
	if *agentName != "" {
		role := config.AgentRole(strings.ToLower(*agentName))
		if cfg.Role(role) == nil {
			fmt.Fprintf(os.Stderr, "Unknown agent: %s\n", *agentName)
			os.Exit(1)
		}
		roles = []config.AgentRole{role}
	}

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		role := role
		rc := cfg.Role(role)
		g.Go(func() error {
			if rc.APIKey == "" || rc.Model == "" {
				fmt.Printf("API key or model not configured for %s, skipping.\n", role)
				return nil
			}
			client := roleClient(role, rc, logger)
			_, err := client.Completion(ctx, &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
			})
			if err != nil {
				fmt.Printf("Failed to connect to %s: %v\n", role, err)
				return nil
			}
			fmt.Printf("Connection to %s successful.\n", role)
			return nil
		})
	}
	_ = g.Wait()
}

// =============================================================================
// config command
// =============================================================================

func runConfig(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: mmagent config <set-api-key|set-model|set-base-url> <agent> <value>")
		os.Exit(1)
	}

	sub, agentName, value := args[0], strings.ToLower(args[1]), args[2]

	valid := false
	for _, role := range config.Roles {
		if string(role) == agentName {
			valid = true
			break
		}
	}
	if !valid {
		fmt.Fprintf(os.Stderr, "Unknown agent: %s (expected coordinator, modeler, coder or writer)\n", agentName)
		os.Exit(1)
	}

	var suffix string
	switch sub {
	case "set-api-key":
		suffix = "API_KEY"
	case "set-model":
		suffix = "MODEL"
	case "set-base-url":
		suffix = "BASE_URL"
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", sub)
		os.Exit(1)
	}

	key := "MMAGENT_" + strings.ToUpper(agentName) + "_" + suffix
	if err := config.SetEnvValue(config.DefaultEnvFile, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update %s: %v\n", config.DefaultEnvFile, err)
		os.Exit(1)
	}
	fmt.Printf("Set %s to %s\n", key, value)
}
