package command

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// noopAnnounce logs a message and does nothing else. It is useful as a
// placeholder step in pre and post blocks and in tests.
type noopAnnounce struct {
	Message string `mapstructure:"message" plugin:"expand"`

	base
}

func noopAnnounceFactory() Command   { return &noopAnnounce{} }
func (c *noopAnnounce) Name() string { return "noop.announce" }

func (c *noopAnnounce) ParseParams(params map[string]interface{}) error {
	if err := mapstructure.Decode(params, c); err != nil {
		return errors.Wrapf(err, "error decoding %s params", c.Name())
	}
	return nil
}

func (c *noopAnnounce) Execute(ctx context.Context, logger LoggerProducer, conf *JobContext) error {
	msg := c.Message
	if msg == "" {
		msg = "nothing to do"
	}
	logger.Task().Info(msg)
	return nil
}
