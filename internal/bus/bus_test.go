package bus

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardCopiesDeliveries(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 2)
	out := make(chan []byte, 2)
	done := make(chan struct{})

	deliveries <- amqp.Delivery{Body: []byte("one")}
	deliveries <- amqp.Delivery{Body: []byte("two")}
	close(deliveries)

	forward(deliveries, out, done)

	assert.Equal(t, []byte("one"), <-out)
	assert.Equal(t, []byte("two"), <-out)
	_, ok := <-out
	assert.False(t, ok, "out closes once the consumer stops")
}

func TestForwardUnblocksOnClose(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	out := make(chan []byte, 1)
	done := make(chan struct{})

	exited := make(chan struct{})
	go func() {
		forward(deliveries, out, done)
		close(exited)
	}()

	// fill the buffer, then park the forwarder on a send nobody receives
	deliveries <- amqp.Delivery{Body: []byte("buffered")}
	deliveries <- amqp.Delivery{Body: []byte("parked")}

	close(done)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder still blocked after the subscription closed")
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	out := make(chan []byte)
	sub := &Subscription{C: out, done: make(chan struct{})}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "second close must not panic on the done channel")
}
