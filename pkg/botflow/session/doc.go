// Package session lets a listener suspend until a later event supplies a
// correlated value.
//
// A Context is a keyed table of live sessions. Start runs a body function in its own
// goroutine; inside the body, Await blocks until some other goroutine calls
// Push for the same key, computes a reply for the pusher, and hands the
// pushed value back to the body:
//
//	s, err := session.Start(sessions, userID, session.FailIfExists,
//	    func(ctx context.Context, in *session.InSession[string, string]) error {
//	        name, err := in.AwaitTimeout(ctx, time.Minute, func(v string) (string, error) {
//	            return "nice to meet you, " + v, nil
//	        })
//	        if err != nil {
//	            return err
//	        }
//	        return save(name)
//	    })
//
//	// Later, while handling the user's next message:
//	reply, err := session.Push[string, string](ctx, sessions, userID, text)
//
// At most one session lives under a key. Start resolves conflicts with an
// explicit ConflictStrategy. A session leaves the table exactly once, when
// its body returns.
//
// Errors:
//   - PushFailureError: there is no waiter that can take the value.
//   - AwaitFailureError: the await function failed; both sides receive it.
//   - TimeoutError: AwaitTimeout expired inside the body. The body may
//     wait again.
package session
