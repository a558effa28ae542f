package tool

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/petal-labs/toolmux/provider"
	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

// StdioConnector launches one provider process per session and speaks MCP
// over its stdin/stdout. Closing the session kills the process.
type StdioConnector struct {
	// Logger receives provider stderr lines at debug level. Nil uses slog.Default().
	Logger *slog.Logger
	// ClientInfo overrides the identity sent during the handshake.
	ClientInfo mcpclient.ClientInfo
}

// NewStdioConnector returns a connector that logs provider stderr to logger.
func NewStdioConnector(logger *slog.Logger) *StdioConnector {
	return &StdioConnector{Logger: logger}
}

// Connect starts the provider process. The process lives until the session
// is closed or ctx is done.
func (c *StdioConnector) Connect(ctx context.Context, desc provider.Descriptor) (Session, error) {
	logger := c.logger().With("provider", desc.ID)
	stderr := &logLineWriter{logger: logger}

	transport, err := mcpclient.NewStdioTransport(ctx, mcpclient.StdioTransportConfig{
		Command: desc.Command,
		Args:    desc.Args,
		Dir:     desc.WorkingDir,
		Env:     desc.EnvList(),
		Stderr:  stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("provider process started", "pid", transport.PID())

	return &stdioSession{
		providerID: desc.ID,
		transport:  transport,
		client:     mcpclient.NewClient(transport, mcpclient.Options{ClientInfo: c.ClientInfo}),
		stderr:     stderr,
	}, nil
}

func (c *StdioConnector) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

type stdioSession struct {
	providerID string
	transport  *mcpclient.StdioTransport
	client     *mcpclient.Client
	stderr     *logLineWriter
}

func (s *stdioSession) Handshake(ctx context.Context) error {
	if s.client.Initialized() {
		return nil
	}
	_, err := s.client.Initialize(ctx)
	return err
}

func (s *stdioSession) ListTools(ctx context.Context) ([]mcpclient.Tool, error) {
	result, err := s.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	result, err := s.client.CallTool(ctx, mcpclient.ToolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return Envelope{}, err
	}
	return envelopeFromResult(result), nil
}

func (s *stdioSession) Close(ctx context.Context) error {
	err := s.client.Close(ctx)
	s.stderr.Flush()
	return err
}

// logLineWriter turns a provider's stderr stream into one debug record per line.
type logLineWriter struct {
	logger *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *logLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			rest := bytes.Clone(line)
			w.buf.Reset()
			w.buf.Write(rest)
			return len(p), nil
		}
		w.emit(line)
	}
}

// Flush logs any trailing partial line.
func (w *logLineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *logLineWriter) emit(line []byte) {
	text := string(bytes.TrimRight(line, "\r\n"))
	if text == "" {
		return
	}
	w.logger.Debug("provider stderr", "line", text)
}
