package modbusdevices

import (
	"context"
	"time"
)

// Run polls the device every interval until ctx is done. onCycle, when not
// nil, is called after every cycle from the polling goroutine.
func (d *Device) Run(ctx context.Context, interval time.Duration, onCycle func(CycleResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := d.Poll(ctx)
		if err != nil {
			return err
		}
		if res.Aborted {
			d.logger.Warn().Uint64("tick", res.Tick).Msg("cycle aborted, connection lost")
		}
		if onCycle != nil {
			onCycle(res)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
