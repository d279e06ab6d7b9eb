package main

// Backend blank imports: each import registers a pub/sub URL scheme for the
// bridge.

import (
	_ "github.com/orderline/eventgate/internal/adapter/memory"
	_ "github.com/orderline/eventgate/internal/adapter/nats"
	_ "github.com/orderline/eventgate/internal/adapter/redis"
)
