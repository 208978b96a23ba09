// Package exaroton is a client for the exaroton API.
//
// A Client serves the REST endpoints directly and keeps one real-time
// session per opened server:
//
//	c, err := exaroton.New(os.Getenv("EXAROTON_TOKEN"))
//	if err != nil {
//		return err
//	}
//	defer c.Close(ctx)
//
//	if err := c.Open(ctx, serverID); err != nil {
//		return err
//	}
//	err = c.Subscribe(ctx, serverID, exaroton.ChannelConsole, "printer",
//		exaroton.ListenerFunc(func(ctx context.Context, ev exaroton.Event) error {
//			if line, ok := ev.(exaroton.ConsoleLine); ok {
//				fmt.Println(line.Line)
//			}
//			return nil
//		}))
//
// Sessions reconnect on their own and replay their subscriptions.
// Problems that need no answer from the caller arrive on Notifications.
//
// Request failures can be matched with errors.Is against ErrTimeout,
// ErrOverloaded or ErrConnectionLost, and with errors.As against
// *RequestError for commands the server refused.
package exaroton
