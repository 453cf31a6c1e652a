package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/restaurant-liveops/pkg/config"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

// Role decides which half of each stream route a process depends on and
// therefore which resources are verified at boot and on Ping.
type Role int

const (
	// RoleConsumer receives change records through per-stream subscriptions.
	RoleConsumer Role = iota
	// RolePublisher relays captured rows onto per-stream topics.
	RolePublisher
)

func (r Role) String() string {
	if r == RolePublisher {
		return "publisher"
	}
	return "consumer"
}

// Route pairs the topic and subscription carrying one change stream.
type Route struct {
	Topic        string
	Subscription string
}

// RouteFor returns the configured route for stream. Unknown streams get an
// empty route.
func RouteFor(cfg config.PubSubConfig, stream enums.Stream) Route {
	switch stream {
	case enums.StreamOrders:
		return Route{Topic: cfg.OrdersTopic, Subscription: cfg.OrdersSubscription}
	case enums.StreamReservations:
		return Route{Topic: cfg.ReservationsTopic, Subscription: cfg.ReservationsSubscription}
	case enums.StreamUsers:
		return Route{Topic: cfg.UsersTopic, Subscription: cfg.UsersSubscription}
	}
	return Route{}
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	role      Role

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and verifies that every resource the role
// depends on exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  projectID,
		cfg:        cfg,
		role:       role,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project": projectID,
			"role":    role.String(),
		}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// verify checks the subscriptions (consumer) or topics (publisher) of every
// stream. A stream with a blank name is treated as disabled, but at least one
// stream must be configured.
func (c *Client) verify(ctx context.Context) error {
	checked := 0
	for _, stream := range enums.Streams() {
		route := RouteFor(c.cfg, stream)
		var err error
		switch c.role {
		case RolePublisher:
			if strings.TrimSpace(route.Topic) == "" {
				continue
			}
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
				Topic: c.resourceName("topics", route.Topic),
			})
			err = describeLookup(err, "topic", route.Topic)
		default:
			if strings.TrimSpace(route.Subscription) == "" {
				continue
			}
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
				Subscription: c.resourceName("subscriptions", route.Subscription),
			})
			err = describeLookup(err, "subscription", route.Subscription)
		}
		if err != nil {
			return fmt.Errorf("stream %s: %w", stream, err)
		}
		checked++
	}
	if checked == 0 {
		return fmt.Errorf("no pubsub %s configured for any stream", c.role)
	}
	return nil
}

func describeLookup(err error, kind, name string) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// StreamSubscription returns the subscriber for stream, or nil when the
// stream has no subscription configured.
func (c *Client) StreamSubscription(stream enums.Stream) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName("subscriptions", RouteFor(c.cfg, stream).Subscription)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// StreamPublisher returns the shared publisher for stream's topic. Publishers
// are created once per topic and stopped by Close.
func (c *Client) StreamPublisher(stream enums.Stream) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName("topics", RouteFor(c.cfg, stream).Topic)
	if name == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.client.Publisher(name)
	c.publishers[name] = p
	return p
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

// Close flushes pending publishes and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands a short id into projects/<project>/<collection>/<id>.
// Names that are already fully qualified pass through.
func (c *Client) resourceName(collection, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+collection+"/") {
		return n
	}
	if c == nil || c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + collection + "/" + n
}
