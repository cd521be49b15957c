// Package starter brings the process's long running components up and down in order.
package starter

import (
	"context"

	"moff.io/moff-wallet/internal/config"
)

type Startable interface {
	Start(ctx context.Context)
}

type Configurable interface {
	Apply(*config.Configuration)
}

type Stopable interface {
	Stop()
}

// Start applies conf to every configurable element, then starts the elements in order.
func Start(ctx context.Context, conf *config.Configuration, elems ...Startable) {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok && conf != nil {
			configurable.Apply(conf)
		}
		ele.Start(ctx)
	}
}

// Stop stops elems in reverse order.
func Stop(elems ...Stopable) {
	for i := len(elems) - 1; i >= 0; i-- {
		elems[i].Stop()
	}
}
