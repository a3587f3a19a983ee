// Package lifecycle drives browser instances through their states.
//
// The Controller owns every transition of an instance:
//
//	absent -> starting -> running -> stopping -> absent
//	starting -> absent   (launch failed)
//	running  -> absent   (browser died or disconnected)
//
// Usage:
//
//	c := lifecycle.NewController(store, launcher, lifecycle.DefaultConfig(),
//	    lifecycle.WithBus(bus), lifecycle.WithLogger(logger))
//	c.Start()
//	defer c.Close(context.Background())
//
//	id, err := c.Launch(ctx, p)
//	...
//	err = c.Stop(ctx, id)
//
// Each transition happens while the instance's operation lock is held, and
// every status change is published on the event bus as an
// instance.StatusEvent. The Controller also implements health.Reconciler, so
// deaths detected by polling flow through the same removal path as deaths
// detected by a lost DevTools connection.
package lifecycle
