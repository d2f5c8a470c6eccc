package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/mediashop/api/internal/platform/config"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

var (
	// ErrProviderClosed is returned once Close has been called.
	ErrProviderClosed = errors.New("firestore: provider is closed")
	// ErrProjectIDRequired is returned when neither config nor environment names a project.
	ErrProjectIDRequired = errors.New("firestore: project id is required")
)

// Provider owns the single Firestore client shared by the order store, the payment ledger and
// the idempotency store. The client is dialled on first use; concurrent callers wait for the
// same dial and a failed dial is retried by the next caller.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	clientOpts  []option.ClientOption

	mu      sync.Mutex
	client  *firestore.Client
	dialing chan struct{}
	closed  bool
}

// ProviderOption customises the Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithCredentialsFile authenticates with a service account key instead of ambient credentials.
// Ignored when an emulator is configured.
func WithCredentialsFile(path string) ProviderOption {
	return func(p *Provider) {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			p.clientOpts = append(p.clientOpts, option.WithCredentialsFile(trimmed))
		}
	}
}

// WithClientOptions appends raw client options. Like credentials, they are not applied against
// an emulator.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:         cfg,
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// DatabaseID reports the database the client targets.
func (p *Provider) DatabaseID() string {
	if id := strings.TrimSpace(p.cfg.DatabaseID); id != "" {
		return id
	}
	return firestore.DefaultDatabaseID
}

// Client returns the shared client, dialling it if needed.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}

	for {
		p.mu.Lock()
		switch {
		case p.closed:
			p.mu.Unlock()
			return nil, ErrProviderClosed
		case p.client != nil:
			client := p.client
			p.mu.Unlock()
			return client, nil
		case p.dialing != nil:
			wait := p.dialing
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-wait:
			}
			continue
		}
		done := make(chan struct{})
		p.dialing = done
		p.mu.Unlock()

		client, err := p.dial(ctx)

		p.mu.Lock()
		p.dialing = nil
		closed := p.closed
		if err == nil && !closed {
			p.client = client
		}
		p.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		if closed {
			_ = client.Close()
			return nil, ErrProviderClosed
		}
		return client, nil
	}
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}

	opts := p.clientOpts
	if host := p.emulatorHost(); host != "" {
		// The SDK only attaches emulator credentials when the variable is present.
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		opts = []option.ClientOption{
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, p.DatabaseID(), opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s/%s: %w", projectID, p.DatabaseID(), err)
	}
	return client, nil
}

// Close releases the client. The Provider cannot be reused afterwards; a dial still in flight
// closes its own client when it completes.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RunTransaction executes fn inside a Firestore transaction using the provider's client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func (p *Provider) emulatorHost() string {
	if trimmed := strings.TrimSpace(p.cfg.EmulatorHost); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
