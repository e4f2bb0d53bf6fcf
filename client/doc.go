// Package client implements the connection engine: a single long lived,
// full duplex connection to a RESP3 server that multiplexes pipelined
// requests, delivers server pushes out of band, health checks the peer and
// reconnects transparently.
//
// A minimal round trip:
//
//	conn, _ := client.New(client.DefaultConfig())
//	go conn.Run(context.Background())
//
//	req := client.NewRequest()
//	req.Push("PING")
//	var pong resp3.AsString
//	_, err := conn.Exec(ctx, req, &pong)
package client
