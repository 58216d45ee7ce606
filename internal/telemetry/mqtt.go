package telemetry

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/neurobile/internal/monitoring"
)

// mqttClient is the subset of mqtt.Client used for publishing.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each event as JSON to Topic/<kind>.
type MQTTPublisher struct {
	client mqttClient
	topic  string
}

// NewMQTTPublisher connects to broker (tcp://host:port) and returns a
// publisher. The client reconnects on its own after a lost connection.
func NewMQTTPublisher(broker, topic, clientID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("[mqtt] connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("MQTT connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect to %s failed: %w", broker, err)
	}
	monitoring.Logf("[mqtt] connected to %s as %s, topic %s", broker, clientID, topic)
	return newMQTTPublisher(client, topic), nil
}

func newMQTTPublisher(client mqttClient, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.marshal()
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic+"/"+e.Kind, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
