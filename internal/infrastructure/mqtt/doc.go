// Package mqtt provides MQTT client connectivity for Hearth Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Hearth uses MQTT as its outward event feed and discovery channel. The hub
// publishes canonical device state and change events; push-capable vendor
// transports announce devices on the discovery topics.
//
//	Vendor transports → MQTT Broker → Hearth Core → MQTT Broker → Consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all vendor discovery announcements
//	err = client.Subscribe(mqtt.Topics{}.AllDiscovery(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish canonical device state, retained for late subscribers
//	topic := mqtt.Topics{}.DeviceState("ac-livingroom")
//	client.Publish(topic, snapshotJSON, 1, true)
package mqtt
