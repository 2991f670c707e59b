// Package channel broadcasts workflow progress messages over Redis pub/sub.
// This package is internal and should not be imported by external projects.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MessageType identifies the progress message kind.
type MessageType string

const (
	TypeSystem  MessageType = "system"
	TypeAgent   MessageType = "agent"
	TypeScholar MessageType = "scholar"
)

// Message is one progress notification for a task.
type Message struct {
	Type      MessageType    `json:"type"`
	TaskID    string         `json:"task_id"`
	Agent     string         `json:"agent,omitempty"`
	Content   string         `json:"content,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    []string       `json:"output,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SystemMessage builds a workflow-level progress message.
func SystemMessage(taskID, content string) Message {
	return Message{Type: TypeSystem, TaskID: taskID, Content: content, Timestamp: time.Now()}
}

// AgentMessage builds a per-agent progress message.
func AgentMessage(taskID, agent, content string) Message {
	return Message{Type: TypeAgent, TaskID: taskID, Agent: agent, Content: content, Timestamp: time.Now()}
}

// ScholarMessage builds a literature-search progress message carrying the
// query and result titles only.
func ScholarMessage(taskID, query string, titles []string) Message {
	return Message{
		Type:      TypeScholar,
		TaskID:    taskID,
		Input:     map[string]any{"query": query},
		Output:    titles,
		Timestamp: time.Now(),
	}
}

// Publisher broadcasts progress messages. Implementations must never block
// the workflow on subscriber absence.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Config configures the Redis publisher.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisPublisher publishes messages to the channel "task:<id>:messages".
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return &RedisPublisher{client: client, logger: logger}, nil
}

// ChannelName returns the pub/sub channel for a task.
func ChannelName(taskID string) string {
	return "task:" + taskID + ":messages"
}

// Publish sends one message. Publish errors are returned but callers treat
// progress broadcasting as best effort.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal progress message: %w", err)
	}
	if err := p.client.Publish(ctx, ChannelName(msg.TaskID), data).Err(); err != nil {
		p.logger.Warn("publish progress message failed",
			zap.String("task_id", msg.TaskID),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
		return err
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher discards all messages. Used when Redis is not configured,
// e.g. standalone CLI runs.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, msg Message) error { return nil }
func (NopPublisher) Close() error                                   { return nil }
