// Package grpcclient provides a client for the local inference gRPC server.
// Requests and responses are google.protobuf.Struct messages, so the server
// can be written in any language without sharing generated stubs.
package grpcclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/resilience"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// Client wraps the inference connection
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	breaker *resilience.Breaker
}

// New creates a new inference client. The connection is established lazily.
func New(addr string, extra ...grpc.DialOption) (*Client, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithStreamInterceptor(trace.StreamClientInterceptor()),
	}, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Unavailable, "connect inference %s", addr)
	}

	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		breaker: resilience.New(resilience.InferenceConfig("inference")),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Breaker exposes the circuit breaker for status reporting.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// Transcribe asks the server to transcribe the audio file at path.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TranscribeTimeout)
	defer cancel()

	resp, err := c.invoke(ctx, MethodTranscribe, map[string]any{"audio_path": audioPath})
	if err != nil {
		return "", err
	}
	return resp.GetFields()["text"].GetStringValue(), nil
}

// Summarize produces a summary of a transcript.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	resp, err := c.invoke(ctx, MethodSummarize, map[string]any{"transcript": transcript})
	if err != nil {
		return "", err
	}
	return resp.GetFields()["summary"].GetStringValue(), nil
}

// ExtractActionItems lists the action items found in a transcript.
func (c *Client) ExtractActionItems(ctx context.Context, transcript string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	resp, err := c.invoke(ctx, MethodExtractActionItems, map[string]any{"transcript": transcript})
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()["items"].GetListValue().GetValues()
	items := make([]string, 0, len(values))
	for _, v := range values {
		if s := v.GetStringValue(); s != "" {
			items = append(items, s)
		}
	}
	return items, nil
}

// Healthy reports whether the server answers its health check with SERVING.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// invoke performs one unary call behind the breaker. Only transient failures
// count against it.
func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "inference circuit open")
	}

	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "encode request")
	}
	out := &structpb.Struct{}

	ctx, span := trace.StartSpan(ctx, method)
	err = c.conn.Invoke(ctx, method, in, out)
	span.EndErr(err)

	if err != nil {
		appErr := apperrors.FromGRPCError(err)
		if apperrors.IsRetryable(appErr) {
			c.breaker.Failure()
		}
		return nil, fmt.Errorf("%s: %w", method, appErr)
	}
	c.breaker.Success()
	return out, nil
}
