// Package otgw publishes the gateway's data items to MQTT and accepts
// commands for them.
//
// The bridge sits between an engine.Engine and an MQTT broker:
//
//   - Registry changes are published as retained JSON state on
//     otgw/state/{gateway}/{item}
//   - Writes to otgw/command/{gateway}/{item} are queued as engine writes
//   - Raw gateway commands ("HW=P", "GW=R") arrive on otgw/gateway/{gateway}/command
//   - Heating circuits publish their state on every transition and accept
//     mode and target changes
//   - External setpoint sources write to otgw/setpoint/{gateway}/{source}
//
// Every command is acknowledged on otgw/ack/{gateway}/{target}, first with
// "accepted" when queued and then with "completed", "failed" or "timeout"
// once the transaction ends. Acks carry the command id, or a generated uuid
// when the command had none.
//
// A HealthReporter publishes link and engine health at a fixed interval, and
// optional Home Assistant discovery configs describe every catalog item.
//
// Usage:
//
//	b, err := otgw.New(otgw.Options{
//	    GatewayID: "boiler",
//	    Engine:    eng,
//	    MQTT:      client,
//	    Link:      link,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package otgw
