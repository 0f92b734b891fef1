// Package history provides the optional InfluxDB state-history sink.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched, non-blocking writes, and couples it to the
// hub's change-event fan-out: every state change and availability edge
// becomes a time-series point.
//
// # Usage
//
//	client, err := history.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // history.ErrDisabled when the sink is off in config
//	}
//	defer client.Close()
//
//	sink := history.NewSink(client, broker)
//	sink.Start()
//	defer sink.Stop()
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; a slow or
// unreachable InfluxDB drops history but never blocks the hub.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
package history
