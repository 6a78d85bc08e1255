/*
Package tinyweb is a small static-file web server built on a single epoll
reactor and a pool of worker goroutines.

The reactor accepts connections, reads and writes sockets and evicts idle
clients from a timer heap. Workers parse requests and stage responses; file
bodies are memory-mapped and sent with writev next to the header bytes.
Login and registration forms are checked against a pooled credential store.

Quick Start

	package main

	import (
	    "log"

	    "github.com/searchktools/tinyweb/app"
	    "github.com/searchktools/tinyweb/config"
	)

	func main() {
	    cfg := config.New()
	    application, err := app.New(cfg)
	    if err != nil {
	        log.Fatal(err)
	    }
	    if err := application.Run(); err != nil {
	        log.Fatal(err)
	    }
	}

Trigger modes select level or edge triggering for the listener and the
client sockets:

	0  LT listen, LT connections
	1  LT listen, ET connections
	2  ET listen, LT connections
	3  ET listen, ET connections

Modules

  - app: Application lifecycle and signal handling
  - config: Flags, JSON file and TINYWEB_* environment configuration
  - core: Reactor loop, accept path and engine statistics
  - core/buffer: Growable read/write byte buffer
  - core/http: Request parser, response builder and connection
  - core/poller: epoll wrapper and eventfd waker
  - core/timer: Indexed min-heap of idle timeouts
  - core/pools: Worker pool and connection object pool
  - core/store: Credential store with a bounded session pool
  - core/observability: Async logger and per-route monitor
*/
package tinyweb
