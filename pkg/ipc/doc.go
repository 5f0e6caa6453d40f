// Package ipc implements the transport roles of a murmur channel: who
// binds the channel's Unix socket and who connects to it.
//
// The transport provides:
//
//   - Bind: exclusive listener, failing with ChannelBusyError when a live
//     listener exists and reclaiming stale socket files
//   - Connect and ConnectWithRetry: one-shot and polling connects for
//     senders that may start before the listener
//   - Pair: first caller binds and accepts one peer, second connects
//   - Negotiator: the duplex Probing/Peer/Host/BindRace state machine
//     with host failover
//
// Example usage:
//
//	transport, err := ipc.New(registry, cfg.Transport, log)
//	if err != nil {
//	    return err
//	}
//
//	conn, err := transport.ConnectWithRetry(ctx, "work", 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	if err := framing.WriteLine(conn, "hello"); err != nil {
//	    return err
//	}
package ipc
