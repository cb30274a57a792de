/*
Package botflow provides the event dispatch core of a chat bot.

# Overview

Adapters turn platform traffic into events and hand them to a Dispatcher.
The dispatcher runs every registered listener in priority order and
reports one Outcome per listener. Listeners never break each other: a
listener that fails or panics yields an Error result and the next
listener still runs.

# Basic Usage

	d := botflow.NewDispatcher(botflow.WithLogger(logger))
	defer d.Close()

	d.RegisterListener(10, botflow.NewListener("echo",
	    func(ctx context.Context, lc *botflow.ListenerContext) (botflow.Result, error) {
	        return botflow.Success(lc.Text()), nil
	    },
	    botflow.WithKeys(event.MessageKey),
	))

	stream, err := d.Dispatch(ctx, event.NewMessage("cli", event.Message{Text: "hi"}))
	if err != nil {
	    log.Fatal(err)
	}
	for o := range stream.All() {
	    fmt.Println(o.ListenerID, o.Result.Kind)
	}

# Streams

Dispatch returns a lazy Stream. Listeners run as outcomes are consumed, so
a caller that only wants the first answer stops early:

	o, ok, err := stream.FirstSuccess()

A consumer that stops early must Close the stream; All and FirstSuccess do
this automatically.

# Interceptors

Dispatch interceptors wrap the whole dispatch. They can replace the event,
observe outcomes, short-circuit with Single, or fail the dispatch.

Listener interceptors wrap a single listener, either before matching
(BeforeMatch, able to skip the listener) or around its invocation
(AfterMatch). Global listener interceptors registered on the dispatcher
are merged with each listener's own by priority.

# Sessions

Listeners can suspend a conversation and resume it with later events via
the session package. The dispatcher owns the session table; listeners
reach it with ListenerContext.Sessions or session.FromContext.

# Cancellation

Cancelling the dispatch context, or closing the dispatcher, stops the
stream. Stream.Err reports the cause. Cancellation is never reported as an
Error result.
*/
package botflow
