package language

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const grpcServicePrefix = "/leadflow.language.v1.LanguageService/"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the remote language service client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	if addr == "" {
		addr = "localhost:50051"
	}
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCClient implements Service against a remote LanguageService. Requests
// and responses travel as google.protobuf.Struct so no generated stubs are needed.
type GRPCClient struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Service = (*GRPCClient)(nil)

// NewGRPCClient connects to the remote language service and waits until the
// connection is ready or ConnectTimeout elapses.
func NewGRPCClient(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGRPCConfig(cfg.Address)
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to language service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("language service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to language service", "address", cfg.Address)
	return &GRPCClient{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GRPCClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// ExtractField implements Service.
func (c *GRPCClient) ExtractField(ctx context.Context, field, description, message string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	err := c.call(ctx, "ExtractField", map[string]any{
		"field":       field,
		"description": description,
		"message":     message,
	}, &out)
	return out.Value, err
}

// DetectQuestionOrObjection implements Service.
func (c *GRPCClient) DetectQuestionOrObjection(ctx context.Context, message, fieldKind string) (QuestionCheck, error) {
	var out QuestionCheck
	err := c.call(ctx, "DetectQuestionOrObjection", map[string]any{
		"message":   message,
		"fieldKind": fieldKind,
	}, &out)
	return out, err
}

// ValidateAnswer implements Service.
func (c *GRPCClient) ValidateAnswer(ctx context.Context, question, answer string) (AnswerCheck, error) {
	var out AnswerCheck
	err := c.call(ctx, "ValidateAnswer", map[string]any{
		"question": question,
		"answer":   answer,
	}, &out)
	return out, err
}

// GenerateText implements Service.
func (c *GRPCClient) GenerateText(ctx context.Context, systemPrompt, userMessage string, history []ChatMessage) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.call(ctx, "GenerateText", map[string]any{
		"systemPrompt": systemPrompt,
		"userMessage":  userMessage,
		"history":      history,
	}, &out)
	return out.Text, err
}

// Converse implements Service.
func (c *GRPCClient) Converse(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (ConverseResult, error) {
	var out struct {
		Text     string    `json:"text"`
		ToolCall *ToolCall `json:"toolCall"`
	}
	if err := c.call(ctx, "Converse", map[string]any{
		"messages": messages,
		"tools":    tools,
	}, &out); err != nil {
		return ConverseResult{}, err
	}
	if out.ToolCall != nil && out.ToolCall.Name == "" {
		out.ToolCall = nil
	}
	return ConverseResult{Text: out.Text, ToolCall: out.ToolCall}, nil
}

func (c *GRPCClient) call(ctx context.Context, method string, req any, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, grpcServicePrefix+method, in, resp, grpc.WaitForReady(true)); err != nil {
		c.logger.Warn("language service call failed", "method", method, "error", err)
		return fmt.Errorf("%s failed: %w", method, err)
	}

	if errMsg, ok := resp.GetFields()["error"]; ok && errMsg.GetStringValue() != "" {
		return fmt.Errorf("%s failed: %s", method, errMsg.GetStringValue())
	}

	raw, err := resp.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return s, nil
}
