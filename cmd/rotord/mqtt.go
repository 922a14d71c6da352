package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends status snapshots to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	topic  string
	// last is the most recent payload, to skip unchanged updates.
	last []byte
}

func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "rotord_" + hex.EncodeToString(bytes)
}

// NewPublisher connects to broker and publishes under topic.
func NewPublisher(broker, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(generateClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish sends st as a retained message if it differs from the last one.
func (p *Publisher) Publish(st Status) {
	if !p.client.IsConnected() {
		return
	}
	// NextMove changes on every move and would defeat the dedup.
	st.NextMove = time.Time{}
	data, err := json.Marshal(st)
	if err != nil {
		log.Print(err)
		return
	}
	if string(data) == string(p.last) {
		return
	}
	p.last = data
	token := p.client.Publish(p.topic, 0, true, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to publish to %s: %v", p.topic, token.Error())
		}
	}()
}

func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
