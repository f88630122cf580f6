// Package control reconciles solar availability, temperature and miner
// state into power profile and board commands.
//
// A Coordinator owns one ticker for all registered devices. Every poll it
// queries each device, applies temperature protection and, on the coarser
// curtailment cadence, asks its Policy for a DesiredState. Plan diffs that
// state against the reported status so only commands whose effect is not
// already in place are sent. Every command outcome lands in the cycle's
// DeviceResult, so a partially applied state is always visible.
//
// # Cadence
//
//   - PollInterval (30s): status query and temperature protection
//   - CurtailInterval (10m): policy evaluation, unless forced by a preset,
//     a solar input change or protection release
//
// # Usage Example
//
//	coord := control.New(control.DefaultSettings())
//	client := miner.NewDeviceClient(miner.NewEndpoint("s21", "192.168.1.40"))
//	if err := coord.Register(client, control.DefaultDeviceSettings()); err != nil {
//	    return err
//	}
//	coord.OnCycle(func(r control.CycleResult) { publish(r) })
//	return coord.Run(ctx)
package control
