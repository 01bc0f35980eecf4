// Package event provides a synchronous pub-sub bus for partition lifecycle
// and supervision events.
//
// The lifecycle manager publishes creation, start, status and destroy events;
// the supervisor publishes missed heartbeats and restart attempts. The CLI's
// watch view and the daemon's log sink subscribe to them.
//
//	bus := event.NewBus(event.WithLogger(logger))
//	bus.Subscribe(event.TypeStatusChanged, func(e event.Event) {
//	    sc := e.(event.StatusChangedEvent)
//	    fmt.Println(sc.Name, sc.From, "->", sc.To)
//	})
//
// Handlers run on the publishing goroutine. A panicking handler is recovered
// and does not stop delivery to the others.
package event
