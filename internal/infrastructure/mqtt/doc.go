// Package mqtt publishes run lifecycle to an MQTT broker and accepts remote
// stop requests.
//
// # Topics
//
//	{prefix}/system/status          retained online/offline (with LWT)
//	{prefix}/run/{id}/event         every lifecycle event
//	{prefix}/run/{id}/state         retained latest state
//	{prefix}/control/stop/{id}      inbound stop requests
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	fanout.Add("mqtt", mqtt.NewClientSink(client))
//	client.SubscribeStopRequests(runID, func(req mqtt.StopRequest) { ... })
//
// Child output is never published; only lifecycle transitions are.
package mqtt
