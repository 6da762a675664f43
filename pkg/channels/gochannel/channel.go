// Package gochannel provides the in-process event channel used by single-binary deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// OutputBuffer is the per-subscriber buffer of the in-process channel.
const OutputBuffer = 1024

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
// Messages published while nobody subscribes are dropped.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: OutputBuffer,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
