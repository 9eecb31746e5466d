// Package shmstack provides a stack shared between processes through a
// memory-mapped arena, served over a line-oriented TCP protocol.
//
// A Server creates the arena, listens, and serves every connection in its own
// worker. By default each worker is a separate OS process running the same
// executable, so programs that embed a Server must call RunWorker early in
// main:
//
//	func main() {
//	    if shmstack.IsWorker() {
//	        ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
//	        defer stop()
//	        if err := shmstack.RunWorker(ctx); err != nil {
//	            log.Fatal(err)
//	        }
//	        return
//	    }
//
//	    srv := shmstack.NewServer(shmstack.WithCapacity(1000))
//	    if err := srv.ListenAndServe(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	    defer srv.Shutdown(context.Background())
//	}
//
// # Protocol
//
// Clients send newline-terminated commands:
//
//	PUSH <payload>   push payload; no reply
//	POP              remove the top element; no reply, no-op when empty
//	TOP              reply with the top element, or "-" when empty
//	PING             reply "PONG"
//	EXIT             end the session
//
// Failures are answered with "ERR <reason>". The payloads "-" and anything
// starting with "ERR " are refused so replies stay unambiguous.
//
// # Clients
//
// Dial returns a Client that follows PUSH and POP with PING, so each call
// returns once the server has processed it:
//
//	c, err := shmstack.Dial(ctx, "localhost:3500")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	if err := c.Push(ctx, []byte("hello")); err != nil {
//	    log.Fatal(err)
//	}
//	top, err := c.Top(ctx) // "hello"
//
// # Worker modes
//
// WithWorkerMode(GoroutinePerConnection) serves connections in goroutines of
// the server process instead. Sessions are isolated from each other's
// crashes only in the default process mode.
package shmstack
