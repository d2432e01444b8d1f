package app

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// publishTimeout bounds how long a tick waits on the broker.
const publishTimeout = 250 * time.Millisecond

// mqttPublisher publishes at QoS 0. Topics in retained keep their last
// message on the broker so late subscribers get the current state.
type mqttPublisher struct {
	client   mqtt.Client
	retained map[string]bool
}

func newMQTTPublisher(client mqtt.Client, retained ...string) *mqttPublisher {
	p := &mqttPublisher{client: client, retained: make(map[string]bool, len(retained))}
	for _, t := range retained {
		p.retained[t] = true
	}
	return p
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, p.retained[topic], payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish to %s timed out", topic)
	}
	return token.Error()
}

// connectMQTT connects to the broker with the given client ID.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect to %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to %s as %s", broker, clientID)
	return client, nil
}

// subscribe registers handler on topic and waits for the broker to confirm.
func subscribe(client mqtt.Client, topic string, handler func(payload []byte)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("mqtt: subscribed to %s", topic)
	return nil
}
