// Package gochannel provides the in-process watermill Pub/Sub used by single-process deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const DefaultBuffer = 1000

// CreateChannel returns one GoChannel acting as both publisher and subscriber. Jobs published before the
// worker subscribes are lost, so the queue subscribes when it is created.
func CreateChannel(logger watermill.LoggerAdapter, buffer int64) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, logger)

	return pubSub, pubSub, nil
}
