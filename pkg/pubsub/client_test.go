package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/restaurant-liveops/pkg/config"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

func TestResourceName(t *testing.T) {
	c := &Client{projectID: "kitchen"}

	assert.Equal(t, "projects/kitchen/subscriptions/orders-sub", c.resourceName("subscriptions", "orders-sub"))
	assert.Equal(t, "projects/kitchen/topics/orders", c.resourceName("topics", " orders "))

	full := "projects/other/subscriptions/x"
	assert.Equal(t, full, c.resourceName("subscriptions", full))
	// A fully qualified name for the wrong collection is treated as a short id.
	assert.Equal(t, "projects/kitchen/topics/"+full, c.resourceName("topics", full))

	assert.Empty(t, c.resourceName("topics", "  "))
	assert.Empty(t, (&Client{}).resourceName("topics", "orders"))
}

func TestRouteFor(t *testing.T) {
	cfg := config.PubSubConfig{
		OrdersTopic:              "o-topic",
		OrdersSubscription:       "o-sub",
		ReservationsTopic:        "r-topic",
		ReservationsSubscription: "r-sub",
		UsersTopic:               "u-topic",
	}

	assert.Equal(t, Route{Topic: "r-topic", Subscription: "r-sub"}, RouteFor(cfg, enums.StreamReservations))
	assert.Equal(t, Route{Topic: "u-topic"}, RouteFor(cfg, enums.StreamUsers))
	assert.Equal(t, Route{}, RouteFor(cfg, enums.Stream("payments")))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "consumer", RoleConsumer.String())
	assert.Equal(t, "publisher", RolePublisher.String())
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.StreamSubscription(enums.StreamOrders))
	assert.Nil(t, c.StreamPublisher(enums.StreamOrders))
	require.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	require.NoError(t, c.Close())
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: " "}, config.PubSubConfig{}, RoleConsumer, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}), 1)
}
