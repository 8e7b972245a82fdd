package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"golang.org/x/text/language"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// translateMethod is the full gRPC method name served by the translation
// service. Requests and replies are google.protobuf.Struct messages:
//
//	request:  {"target": "id", "texts": ["...", "..."]}
//	response: {"texts": ["...", "..."]}
const translateMethod = "/quizdeck.translate.v1.Translator/Translate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errTextCount                = errors.New("translator returned a different number of texts")
)

// Invoker is the unary call surface of a grpc.ClientConn.
type Invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// GrpcConfig holds configuration for the translation client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcTranslator translates questions through a remote translation service.
type GrpcTranslator struct {
	conn    *grpc.ClientConn
	invoker Invoker
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcTranslator dials the translation service and waits until the
// connection is ready.
func NewGrpcTranslator(cfg GrpcConfig, logger *slog.Logger) (*GrpcTranslator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create translator client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first quiz start.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close translator connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("translator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to translation service", "address", cfg.Address)

	t := NewGrpcTranslatorWithInvoker(conn, cfg.RequestTimeout, logger)
	t.conn = conn
	return t, nil
}

// NewGrpcTranslatorWithInvoker builds a translator on an existing invoker.
func NewGrpcTranslatorWithInvoker(invoker Invoker, timeout time.Duration, logger *slog.Logger) *GrpcTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrpcTranslator{invoker: invoker, timeout: timeout, logger: logger}
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
func (t *GrpcTranslator) Close() {
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Warn("failed to close translator connection", "error", err)
		}
	}
}

// Translate sends every question text and option body in one request.
// Option letter prefixes are re-attached so answer keys keep matching.
func (t *GrpcTranslator) Translate(ctx context.Context, questions []domain.Question, lang language.Tag) ([]domain.Question, error) {
	if lang == language.Und || len(questions) == 0 {
		return questions, nil
	}

	texts := make([]any, 0, len(questions)*5)
	prefixes := make([][]string, len(questions))
	for i, q := range questions {
		texts = append(texts, q.Text)
		prefixes[i] = make([]string, len(q.Options))
		for j, opt := range q.Options {
			prefix, body := splitPrefix(opt)
			prefixes[i][j] = prefix
			texts = append(texts, body)
		}
	}

	req, err := structpb.NewStruct(map[string]any{
		"target": lang.String(),
		"texts":  texts,
	})
	if err != nil {
		return nil, fmt.Errorf("build translate request: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	reply := &structpb.Struct{}
	if err := t.invoker.Invoke(ctx, translateMethod, req, reply); err != nil {
		t.logger.Warn("Translate call failed", "error", err, "language", lang.String())
		return nil, fmt.Errorf("translate to %s: %w", lang, err)
	}

	out := reply.GetFields()["texts"].GetListValue().GetValues()
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d, got %d", errTextCount, len(texts), len(out))
	}

	translated := make([]domain.Question, len(questions))
	k := 0
	for i, q := range questions {
		tq := domain.Question{AnswerKey: q.AnswerKey, Options: make([]string, len(q.Options))}
		tq.Text = out[k].GetStringValue()
		k++
		for j := range q.Options {
			tq.Options[j] = prefixes[i][j] + out[k].GetStringValue()
			k++
		}
		translated[i] = tq
	}
	return translated, nil
}
