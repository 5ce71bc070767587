package ecus

import (
	"context"
	"fmt"

	"vehiclediag/utils"
)

// vendorExchange sends a manufacturer request and decodes the reply with the
// protocol's own convention. There is no ResponsePending handling here.
func (c *Client) vendorExchange(ctx context.Context, what, requestHex string) ([]byte, error) {
	request, err := utils.HexStringToBytes(requestHex)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.log.Debugf("-> %s %s: %s", c.protocol.Name(), what, requestHex)
	if err := c.write(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", what, err)
	}
	readCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
	defer cancel()
	raw, err := c.readRaw(ctx, readCtx, c.cfg.ResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	data, err := c.protocol.ParseResponse(utils.BytesToHexString(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return data, nil
}

func (c *Client) ReadAdaptation(ctx context.Context, channel uint16) ([]byte, error) {
	if c.protocolErr != nil {
		return nil, c.protocolErr
	}
	request, err := c.protocol.ReadAdaptation(channel)
	if err != nil {
		return nil, err
	}
	return c.vendorExchange(ctx, fmt.Sprintf("read adaptation channel %d", channel), request)
}

func (c *Client) WriteAdaptation(ctx context.Context, channel, value uint16) error {
	if c.protocolErr != nil {
		return c.protocolErr
	}
	what := fmt.Sprintf("write adaptation channel %d", channel)
	if err := c.checkWrite(what); err != nil {
		return err
	}
	request, err := c.protocol.WriteAdaptation(channel, value, c.cfg.WorkshopCode)
	if err != nil {
		return err
	}
	if _, err := c.vendorExchange(ctx, what, request); err != nil {
		return err
	}
	c.log.Infof("adaptation channel %d set to %d", channel, value)
	return nil
}

func (c *Client) ReadCoding(ctx context.Context) ([]byte, error) {
	if c.protocolErr != nil {
		return nil, c.protocolErr
	}
	request, err := c.protocol.ReadCoding()
	if err != nil {
		return nil, err
	}
	return c.vendorExchange(ctx, "read coding", request)
}

func (c *Client) WriteCoding(ctx context.Context, coding []byte) error {
	if c.protocolErr != nil {
		return c.protocolErr
	}
	if err := c.checkWrite("write coding"); err != nil {
		return err
	}
	request, err := c.protocol.WriteCoding(coding, c.cfg.WorkshopCode)
	if err != nil {
		return err
	}
	if _, err := c.vendorExchange(ctx, "write coding", request); err != nil {
		return err
	}
	c.log.Infof("coding written: %s", utils.BytesToHexString(coding))
	return nil
}

// ComponentTest drives an actuator, so it is gated like a write.
func (c *Client) ComponentTest(ctx context.Context, componentID uint16, testType byte) ([]byte, error) {
	if c.protocolErr != nil {
		return nil, c.protocolErr
	}
	what := fmt.Sprintf("component test 0x%04X", componentID)
	if err := c.checkWrite(what); err != nil {
		return nil, err
	}
	request, err := c.protocol.ComponentTest(componentID, testType)
	if err != nil {
		return nil, err
	}
	return c.vendorExchange(ctx, what, request)
}

func (c *Client) ReadIdentification(ctx context.Context, identType byte) ([]byte, error) {
	if c.protocolErr != nil {
		return nil, c.protocolErr
	}
	request, err := c.protocol.ReadECUIdentification(identType)
	if err != nil {
		return nil, err
	}
	return c.vendorExchange(ctx, "read identification", request)
}
