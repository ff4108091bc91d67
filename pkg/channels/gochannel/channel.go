// Package gochannel provides the in-process lifecycle channel used when no
// broker is configured and in tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const defaultBuffer = 1000

// CreateChannel creates a GoChannel-based publisher and subscriber. The same
// instance serves both sides. Publishing never waits for subscribers, so a
// slow consumer cannot stall an actor.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            defaultBuffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
