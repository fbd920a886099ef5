package alarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

// DefaultCallTimeout bounds unary calls.
const DefaultCallTimeout = 5 * time.Second

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Client wraps the AlarmService with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// callTimeout is the default timeout for unary calls.
	callTimeout time.Duration
	// dialOptions are appended to the transport defaults.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithDialOptions adds gRPC dial options, e.g. a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// Dial prepares a connection to the daemon. The connection is established lazily.
// Note: this uses insecure transport credentials; the API is meant for localhost.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: DefaultCallTimeout,
		dialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}

	for _, opt := range opts {
		opt(client)
	}

	conn, err := grpc.NewClient(address, client.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial alarm API: %w", err)
	}

	client.conn = conn

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// GetAlarmState retrieves the current alarm state.
func (c *Client) GetAlarmState(ctx context.Context) (*domain.State, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, fullMethodGetAlarmState, new(emptypb.Empty), response); err != nil {
		return nil, fmt.Errorf("get alarm state: %w", err)
	}

	return fromProtoState(response)
}

// Watch calls fn with the current state and every change until ctx is done,
// the server ends the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(*domain.State) error) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethodWatchAlarmState)
	if err != nil {
		return fmt.Errorf("watch alarm state: %w", err)
	}

	typed := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}

	if err = typed.Send(new(emptypb.Empty)); err != nil {
		return fmt.Errorf("watch alarm state: %w", err)
	}

	if err = typed.CloseSend(); err != nil {
		return fmt.Errorf("watch alarm state: %w", err)
	}

	for {
		response, err := typed.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("receive alarm state: %w", err)
		}

		state, err := fromProtoState(response)
		if err != nil {
			return err
		}

		if err = fn(state); err != nil {
			return err
		}
	}
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
