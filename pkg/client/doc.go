// Package client connects to VIP2P servers.
//
// Connect dials the server, waits for its SEND grant, sends INIT and returns
// a Handle carrying the identity the server assigned. Disconnect runs the
// DISCONN exchange and closes the connection.
//
//	c := client.New(client.DefaultConfig())
//	h, err := c.Connect(ctx, "127.0.0.1:9595")
//	if err != nil {
//		return err
//	}
//	fmt.Println(h.Identity)
//	return c.Disconnect(ctx, h, "bye")
//
// Nothing is retried automatically. ConnectWithRetry wraps Connect in the
// connection package's backoff for callers that want it.
package client
