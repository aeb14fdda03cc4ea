// Package mqtt wraps the Eclipse Paho client for the RemoteRelay bridge.
//
// The bridge uses MQTT for three things: publishing each device's view and
// availability (retained), receiving commands for devices, and handing
// Wake-on-LAN requests to an external network utility. The bridge's own
// online/offline status is retained on {prefix}/bridge/status and backed by
// a Last Will so a crash shows up as offline.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllDeviceCommands(), client.QoS(), handler)
package mqtt
