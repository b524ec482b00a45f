package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/resilience"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second
)

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry sets how many times a failed request is retried and the first
// backoff delay.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry.MaxAttempts = retries + 1
		}
		if backoff > 0 {
			c.retry.InitialDelay = backoff
		}
	}
}

// WithToolCacheTTL sets how long ListTools results are reused. 0 disables
// caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client calls tools on a remote MCP server with per-request timeouts and
// retries. Failures come back as typed errors: CodeTimeout when a request
// ran out of time, CodeInternal otherwise.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration
	tools     toolCache
}

// toolCache holds the last ListTools answer until it expires.
type toolCache struct {
	mu      sync.Mutex
	tools   []mcplib.Tool
	expires time.Time
}

func (tc *toolCache) get(now time.Time) []mcplib.Tool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if len(tc.tools) == 0 || now.After(tc.expires) {
		return nil
	}
	return append([]mcplib.Tool(nil), tc.tools...)
}

func (tc *toolCache) put(tools []mcplib.Tool, until time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tools = append([]mcplib.Tool(nil), tools...)
	tc.expires = until
}

// NewClient wraps an initialized mcp-go client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(defaultRetries + 1).
			WithInitialDelay(defaultBackoff).
			WithIsRecoverable(retryable),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewClientWithStdio starts command and performs the MCP handshake with it.
func NewClientWithStdio(ctx context.Context, command string, args []string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "start mcp server", err).WithContext("command", command)
	}
	if err := stdioClient.Start(ctx); err != nil {
		_ = stdioClient.Close()
		return nil, errors.New(errors.CodeInternal, "start mcp server", err).WithContext("command", command)
	}
	if err := Initialize(ctx, stdioClient); err != nil {
		_ = stdioClient.Close()
		return nil, wrapCallError(err, "initialize").WithContext("command", command)
	}
	return NewClient(stdioClient, opts...), nil
}

// Initialize performs the MCP handshake on c.
func Initialize(ctx context.Context, c client.MCPClient) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req := mcplib.InitializeRequest{}
	req.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcplib.Implementation{
		Name:    "agentfactory",
		Version: "0.1.0",
	}
	_, err := c.Initialize(ctx, req)
	return err
}

// ListTools returns the server's tools, cached for the cache TTL.
func (c *Client) ListTools(ctx context.Context) ([]mcplib.Tool, error) {
	if c.cacheTTL > 0 {
		if cached := c.tools.get(time.Now()); cached != nil {
			return cached, nil
		}
	}
	resp, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (*mcplib.ListToolsResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.ListTools(reqCtx, mcplib.ListToolsRequest{})
	})
	if err != nil {
		return nil, wrapCallError(err, "list tools")
	}
	if c.cacheTTL > 0 {
		c.tools.put(resp.Tools, time.Now().Add(c.cacheTTL))
	}
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcplib.CallToolResult, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (*mcplib.CallToolResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.CallTool(reqCtx, req)
	})
	if err != nil {
		return nil, wrapCallError(err, "call tool").WithContext("tool", name)
	}
	return res, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func retryable(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

func wrapCallError(err error, op string) *errors.Error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "mcp "+op+" timed out", err).WithRecoverable(true)
	}
	return errors.New(errors.CodeInternal, "mcp "+op+" failed", err)
}
