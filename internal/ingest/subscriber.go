package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	connectTimeout     = 10 * time.Second
	initialBackoff     = time.Second
	maxBackoff         = 30 * time.Second
	disconnectQuiesce  = 250 // milliseconds, paho's own unit
	maxReconnectPeriod = time.Minute
)

// Subscriber runs the broker subscription for the lifetime of the process.
// The initial connect retries with capped exponential backoff; once
// connected, paho's auto-reconnect takes over, and the on-connect hook
// re-subscribes after every reconnect.
type Subscriber struct {
	brokerURL string
	namespace string
	pipeline  *Pipeline
}

// NewSubscriber returns a subscriber for <namespace>/sensors/# on the
// broker at brokerURL (e.g. "tcp://broker.mqtt.cool:1883").
func NewSubscriber(brokerURL, namespace string, p *Pipeline) *Subscriber {
	return &Subscriber{
		brokerURL: brokerURL,
		namespace: namespace,
		pipeline:  p,
	}
}

func (s *Subscriber) topic() string {
	return s.namespace + "/sensors/#"
}

// Run connects and blocks until ctx is cancelled. Transport failures are
// never fatal: the loop keeps retrying until cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	topic := s.topic()

	opts := mqtt.NewClientOptions().
		AddBroker(s.brokerURL).
		SetClientID("impact-report-" + uuid.NewString()[:8]).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectPeriod).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("broker connection lost: %v", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions do not survive a clean-session reconnect.
			token := c.Subscribe(topic, 0, s.handleMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Printf("failed to subscribe to %q: %v", topic, err)
				return
			}
			log.Printf("subscribed to %q", topic)
		})

	client := mqtt.NewClient(opts)
	defer client.Disconnect(disconnectQuiesce)

	backoff := initialBackoff
	for {
		token := client.Connect()
		token.Wait()
		if token.Error() == nil {
			break
		}
		log.Printf("failed to connect to broker %s: %v (retrying in %s)",
			s.brokerURL, token.Error(), backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	log.Printf("connected to broker %s", s.brokerURL)

	<-ctx.Done()
	return ctx.Err()
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, err := deviceFromTopic(msg.Topic())
	if err != nil {
		log.Printf("ignoring message on unexpected topic: %v", err)
		return
	}
	s.pipeline.Handle(deviceID, msg.Payload())
}

// deviceFromTopic extracts the device id from a topic like
// "espboxing/sensors/64E833ACC838652B".
func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	last := parts[len(parts)-1]
	if last == "" || last == "sensors" {
		return "", fmt.Errorf("topic %q carries no device id", topic)
	}
	return last, nil
}
