//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/memory"
	"github.com/getpup/pupstream/es/bus/rabbitmq"
	"github.com/getpup/pupstream/es/publication"
	"github.com/getpup/pupstream/es/store/storetest"
)

func runRabbitMQ(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("rabbitmq container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

// bindQueue declares an exclusive queue receiving everything on exchange.
func bindQueue(t *testing.T, ch *amqp091.Channel, exchange string) <-chan amqp091.Delivery {
	t.Helper()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("declare queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, "#", exchange, false, nil); err != nil {
		t.Fatalf("bind queue: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	return deliveries
}

func TestPublishedBatchArrivesInOrder(t *testing.T) {
	url := runRabbitMQ(t)
	exchange := "pupstream.test." + uuid.NewString()

	conn, ch, err := rabbitmq.Connect(url, exchange, rabbitmq.AuthConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	consumerCh, err := conn.Channel()
	if err != nil {
		t.Fatal(err)
	}
	deliveries := bindQueue(t, consumerCh, exchange)

	cfg := rabbitmq.DefaultConfig()
	cfg.Exchange = exchange
	publisher, err := rabbitmq.NewPublisher(ch, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer publisher.Close()

	staging := memory.NewStagingStore()
	orchestrator := publication.New(staging, memory.NewStreamStore(), publisher)

	batch := storetest.NewBatch(es.NewStreamID(), 0, 5)
	if err := orchestrator.Publish(context.Background(), batch); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i := 0; i < batch.Len(); i++ {
		select {
		case d := <-deliveries:
			want := batch.At(i)
			if d.MessageId != want.EntryID.String() {
				t.Fatalf("delivery %d: got message %s, want %s", i, d.MessageId, want.EntryID)
			}
			if d.Headers["sequence"] == nil {
				t.Fatalf("delivery %d has no sequence header", i)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}

	all, err := staging.ReadAllUnmarked(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected staging to be empty, got %d records", len(all))
	}
}

func TestPublishToMissingExchangeFails(t *testing.T) {
	url := runRabbitMQ(t)

	conn, ch, err := rabbitmq.Connect(url, "", rabbitmq.AuthConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	cfg := rabbitmq.DefaultConfig()
	cfg.Exchange = "missing." + uuid.NewString()
	cfg.ConfirmationTimeout = 5 * time.Second
	publisher, err := rabbitmq.NewPublisher(ch, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer publisher.Close()

	entry := storetest.NewBatch(es.NewStreamID(), 0, 1).At(0)
	if err := publisher.Publish(context.Background(), entry); err == nil {
		t.Fatal("expected publishing to a missing exchange to fail")
	}
}
