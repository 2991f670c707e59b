// Package config provides layered configuration for the mmagent workflow:
// defaults, then a YAML file, then environment variables.
package config

import (
	"fmt"
	"time"
)

// AgentRole identifies one of the four pipeline agents.
type AgentRole string

const (
	RoleCoordinator AgentRole = "coordinator"
	RoleModeler     AgentRole = "modeler"
	RoleCoder       AgentRole = "coder"
	RoleWriter      AgentRole = "writer"
)

// Roles lists all agent roles in pipeline order.
var Roles = []AgentRole{RoleCoordinator, RoleModeler, RoleCoder, RoleWriter}

// Config is the complete mmagent configuration.
type Config struct {
	// Coordinator decomposes the problem into subtasks.
	Coordinator RoleConfig `yaml:"coordinator"`
	// Modeler produces the mathematical formulation.
	Modeler RoleConfig `yaml:"modeler"`
	// Coder generates and executes analysis code.
	Coder RoleConfig `yaml:"coder"`
	// Writer produces the prose sections.
	Writer RoleConfig `yaml:"writer"`

	// Workflow bounds the coder's retry and conversation budget.
	Workflow WorkflowConfig `yaml:"workflow"`
	// Sandbox configures local code execution.
	Sandbox SandboxConfig `yaml:"sandbox"`
	// Scholar configures the OpenAlex literature search client.
	Scholar ScholarConfig `yaml:"scholar"`
	// Redis configures the optional progress broadcast channel.
	Redis RedisConfig `yaml:"redis"`
	// Output configures where run artifacts land.
	Output OutputConfig `yaml:"output"`
	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// RoleConfig holds the per-agent LLM endpoint settings. One instance per
// role is populated at startup and passed by reference; agents never look
// settings up by dynamically constructed keys.
type RoleConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// WorkflowConfig bounds per-subtask work.
type WorkflowConfig struct {
	// MaxRetries is the number of failed sandbox executions the coder
	// tolerates per subtask before returning a degraded result.
	MaxRetries int `yaml:"max_retries"`
	// MaxChatTurns bounds total model calls per subtask regardless of
	// retry count.
	MaxChatTurns int `yaml:"max_chat_turns"`
}

// SandboxConfig configures the local Python interpreter sandbox.
type SandboxConfig struct {
	// PythonBin is the interpreter binary.
	PythonBin string `yaml:"python_bin"`
	// Timeout is the wall-clock limit per execution.
	Timeout time.Duration `yaml:"timeout"`
	// MaxOutputBytes truncates stdout/stderr beyond this size.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// ScholarConfig configures literature search.
type ScholarConfig struct {
	// Email is the contact identifier OpenAlex requires for its polite pool.
	Email string `yaml:"email"`
	// BaseURL overrides the OpenAlex endpoint (tests).
	BaseURL string `yaml:"base_url"`
	// Limit is the default number of papers per query.
	Limit int `yaml:"limit"`
}

// RedisConfig configures the progress channel. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OutputConfig configures run output placement.
type OutputConfig struct {
	// RootDir is the parent of per-task working directories.
	RootDir string `yaml:"root_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the zap development encoder.
	Development bool `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	role := RoleConfig{
		Temperature: 0.7,
		MaxTokens:   8192,
	}
	return &Config{
		Coordinator: role,
		Modeler:     role,
		Coder:       role,
		Writer:      role,
		Workflow: WorkflowConfig{
			MaxRetries:   5,
			MaxChatTurns: 30,
		},
		Sandbox: SandboxConfig{
			PythonBin:      "python3",
			Timeout:        5 * time.Minute,
			MaxOutputBytes: 1024 * 1024,
		},
		Scholar: ScholarConfig{
			BaseURL: "https://api.openalex.org",
			Limit:   8,
		},
		Output: OutputConfig{
			RootDir: "work_dir",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Role returns the RoleConfig for the given agent role.
func (c *Config) Role(role AgentRole) *RoleConfig {
	switch role {
	case RoleCoordinator:
		return &c.Coordinator
	case RoleModeler:
		return &c.Modeler
	case RoleCoder:
		return &c.Coder
	case RoleWriter:
		return &c.Writer
	}
	return nil
}

// ValidationError reports a missing or invalid required setting. It is
// surfaced before any model call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks that every agent role has the settings required to issue
// a model request.
func (c *Config) Validate() error {
	for _, role := range Roles {
		rc := c.Role(role)
		if rc.APIKey == "" {
			return &ValidationError{Field: string(role) + ".api_key", Reason: "required"}
		}
		if rc.Model == "" {
			return &ValidationError{Field: string(role) + ".model", Reason: "required"}
		}
	}
	if c.Workflow.MaxRetries < 1 {
		return &ValidationError{Field: "workflow.max_retries", Reason: "must be >= 1"}
	}
	if c.Workflow.MaxChatTurns < 1 {
		return &ValidationError{Field: "workflow.max_chat_turns", Reason: "must be >= 1"}
	}
	if c.Sandbox.Timeout <= 0 {
		return &ValidationError{Field: "sandbox.timeout", Reason: "must be positive"}
	}
	return nil
}
