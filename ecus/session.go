package ecus

import (
	"context"
	"time"

	"vehiclediag/uds"
)

// TesterPresentLoop keeps a non-default session alive until ctx is done.
// Failed keep-alives are logged and the loop carries on.
func (c *Client) TesterPresentLoop(ctx context.Context) {
	interval := c.cfg.TesterPresentInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.exchangeHex(ctx, uds.TesterPresent(false)); err != nil && ctx.Err() == nil {
				c.log.Warnf("tester present failed: %v", err)
			}
		}
	}
}

// Disconnect returns the ECU to the default session and resets the session
// state. The state is reset even when the ECU does not answer.
func (c *Client) Disconnect(ctx context.Context) error {
	var err error
	if c.codec.CurrentSession() != uds.SubfunctionDefaultSession {
		err = c.StartSession(ctx, uds.SubfunctionDefaultSession)
	}
	c.codec.Reset()
	c.security.Reset()
	c.log.Info("disconnected from ecu")
	return err
}
