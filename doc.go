// Package dealroom is the composition root of the deal room.
//
// It connects the negotiation core (proposal state machine, message feed,
// conversation coordinator) and matchmaking with the document store and the
// match cache backends chosen in config.Config.
//
// Usage:
//
//	app, err := dealroom.Open(cfg, dealroom.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer app.Close()
//
//	sess, err := app.Coordinator.Bind(ctx, party, "c1")
package dealroom
