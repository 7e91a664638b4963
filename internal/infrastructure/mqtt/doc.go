// Package mqtt provides MQTT client connectivity for the gateway core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topic tree
//
//	otgw/state/{gateway}/{item}            retained item state
//	otgw/command/{gateway}/{item}          item writes
//	otgw/ack/{gateway}/{target}            command results
//	otgw/gateway/{gateway}/command         raw gateway commands
//	otgw/circuit/{gateway}/{name}/state    retained circuit state
//	otgw/circuit/{gateway}/{name}/command  circuit mode and targets
//	otgw/setpoint/{gateway}/{source}       external setpoint sources
//	otgw/health/{gateway}                  link health
//	otgw/system/status                     process online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllItemCommands("boiler"), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
