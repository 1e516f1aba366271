// Package client is the Go SDK for the project ledger HTTP API.
//
// Appending an event as an authenticated actor:
//
//	c, err := client.New("https://ledger.example.com", client.WithToken(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ev, err := c.CreateEvent(ctx, projectID, "PROGRESS_UPDATE", map[string]any{"progress": 25})
//
// A concurrent write to the same project surfaces as ErrConflict. The call is
// safe to repeat; WithConflictRetries makes the client do so itself.
//
// Reading the history and checking it has not been altered:
//
//	events, err := c.Timeline(ctx, projectID)
//	res, err := c.Verify(ctx, projectID)
//	if !res.Valid {
//	    log.Printf("chain broken at %s (%s)", res.BrokenAt, res.Reason)
//	}
package client
