package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mandate-go/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// Dialer opens a broker connection. Swappable for tests.
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionManager owns the broker connection and re-establishes it when
// the broker drops it.
type ConnectionManager struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	maxRetries     int
	dialTimeout    time.Duration
	dial           Dialer
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
	done           chan struct{}
	closeOnce      sync.Once
	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the initial delay between dial attempts
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets how many times a failed dial is retried
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithDialTimeout bounds a single dial attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		reconnectDelay: time.Second,
		maxRetries:     5,
		dialTimeout:    30 * time.Second,
		dial:           amqp.Dial,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

func (cm *ConnectionManager) backoff() *reliability.ExponentialBackoff {
	return reliability.NewExponentialBackoff(cm.reconnectDelay, 30*time.Second, 2.0, cm.maxRetries)
}

// Connect dials the broker, retrying with exponential backoff
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if cm.IsConnected() {
		return nil
	}
	if err := validURL(cm.url); err != nil {
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err, Timestamp: time.Now()}
	}

	attempts := 0
	err := reliability.Retry(ctx, cm.backoff(), func() error {
		attempts++
		if attempts > 1 {
			cm.notifyReconnecting(attempts)
		}
		return cm.dialOnce(ctx)
	})
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  attempts,
		}
	}
	return nil
}

func (cm *ConnectionManager) dialOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		ch <- result{conn: conn, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if isConfigError(res.err) {
				return reliability.Permanent(res.err)
			}
			return res.err
		}
		cm.attach(res.conn)
		return nil
	case <-dialCtx.Done():
		if ctx.Err() != nil {
			return reliability.Permanent(ErrOperationCancelled)
		}
		return ErrConnectionTimeout
	}
}

func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.mu.Lock()
	cm.conn = conn
	cm.isConnected = true
	cm.notifyClose = make(chan *amqp.Error, 1)
	cm.conn.NotifyClose(cm.notifyClose)
	notify := cm.notifyClose
	cm.mu.Unlock()

	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()
	go cm.watch(notify)
}

// watch reconnects when the broker closes the connection
func (cm *ConnectionManager) watch(notify chan *amqp.Error) {
	select {
	case err, ok := <-notify:
		if !ok && err == nil {
			// closed by us
			select {
			case <-cm.done:
				return
			default:
			}
		}
		cm.logger.Error("connection closed", "error", err)

		cm.mu.Lock()
		cm.isConnected = false
		cm.conn = nil
		cm.mu.Unlock()
		cm.notifyDisconnected(err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-cm.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		if err := cm.Connect(ctx); err != nil {
			cm.logger.Error("reconnection failed", "error", err)
			cm.notifyDisconnected(err)
		}
		cancel()
	case <-cm.done:
	}
}

// Connection returns the live connection
func (cm *ConnectionManager) Connection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// Channel opens a fresh channel on the live connection
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	conn, err := cm.Connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err}
	}
	return ch, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Ping reports whether the broker connection is usable
func (cm *ConnectionManager) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := cm.Connection()
	return err
}

// Close closes the connection and stops reconnecting
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		defer cm.mu.Unlock()
		cm.isConnected = false
		if cm.conn != nil {
			err = cm.conn.Close()
			cm.conn = nil
		}
	})
	return err
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

func (cm *ConnectionManager) listeners() []ConnectionStateListener {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	return append([]ConnectionStateListener(nil), cm.stateListeners...)
}

func (cm *ConnectionManager) notifyConnected() {
	for _, l := range cm.listeners() {
		go l.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	for _, l := range cm.listeners() {
		go l.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	for _, l := range cm.listeners() {
		go l.OnReconnecting(attempt)
	}
}
