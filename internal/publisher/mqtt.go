package publisher

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"

	"github.com/rewired-gh/crowdcast/internal/logger"
	"github.com/rewired-gh/crowdcast/internal/models"
)

// mqttClient is the subset of mqtt.Client used by MQTT.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each location's labels as a retained message on
// "<topicPrefix>/<location>", so late subscribers get the latest labels.
type MQTT struct {
	client      mqttClient
	topicPrefix string
	qos         byte
	timeout     time.Duration
}

// NewMQTT connects to broker (tcp://host:1883).
func NewMQTT(broker, clientID, topicPrefix string, qos byte, timeout time.Duration) (*MQTT, error) {
	if clientID == "" {
		clientID = "crowdcast-" + time.Now().Format("20060102150405")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("mqtt connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if err := connect(client, broker, timeout); err != nil {
		return nil, err
	}
	return newMQTT(client, topicPrefix, qos, timeout), nil
}

// connect waits for the connection and disconnects the client again when it
// cannot be established.
func connect(client mqttClient, broker string, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeoutOrDefault(timeout)) {
		client.Disconnect(0)
		return eris.Errorf("publisher: mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return eris.Wrapf(err, "publisher: mqtt connect to %s", broker)
	}
	return nil
}

func newMQTT(client mqttClient, topicPrefix string, qos byte, timeout time.Duration) *MQTT {
	if topicPrefix == "" {
		topicPrefix = "crowdcast/congestion"
	}
	if qos > 2 {
		qos = 1
	}
	return &MQTT{client: client, topicPrefix: topicPrefix, qos: qos, timeout: timeoutOrDefault(timeout)}
}

// Topic returns the topic of a location.
func (m *MQTT) Topic(locationID string) string {
	return m.topicPrefix + "/" + locationID
}

// Publish sends the retained payload and waits for the broker acknowledgement.
func (m *MQTT) Publish(ctx context.Context, profile models.LocationProfile, records []models.CongestionRecord) error {
	data, err := encode(profile, records)
	if err != nil {
		return eris.Wrap(err, "publisher: encode message")
	}

	token := m.client.Publish(m.Topic(profile.ID), m.qos, true, data)
	select {
	case <-token.Done():
	case <-time.After(m.timeout):
		return eris.Errorf("publisher: mqtt publish for %s timed out", profile.ID)
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "publisher: mqtt publish cancelled")
	}
	if err := token.Error(); err != nil {
		return eris.Wrapf(err, "publisher: mqtt publish for %s", profile.ID)
	}
	return nil
}

// Close disconnects after giving in-flight messages 250ms.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
