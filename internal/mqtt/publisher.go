package mqtt

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"floradaemon/internal/report"
)

// Bus is the broker session capability the Publisher needs. *Client implements it.
type Bus interface {
	Publish(msg report.Message) error
	SwitchIdentity(username string) error
	Disconnect()
}

// Publisher delivers encoded messages to the bus in order.
type Publisher struct {
	bus    Bus
	logger zerolog.Logger
}

// NewPublisher creates a new Publisher instance
func NewPublisher(bus Bus, logger zerolog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger}
}

// Deliver publishes every message, continuing past failures. The returned
// error joins all individual failures.
func (p *Publisher) Deliver(msgs []report.Message) error {
	var errs []error
	for _, msg := range msgs {
		if msg.Identity != "" {
			if err := p.bus.SwitchIdentity(msg.Identity); err != nil {
				p.logger.Error().Err(err).Str("identity", msg.Identity).Msg("Failed to switch MQTT identity")
				errs = append(errs, err)
				continue
			}
		}

		p.logger.Info().Str("topic", msg.Topic).Msgf("Publishing to MQTT topic %q", msg.Topic)
		if err := p.bus.Publish(msg); err != nil {
			p.logger.Error().Err(err).Str("topic", msg.Topic).Msg("Failed to publish")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the bus connection.
func (p *Publisher) Close() error {
	p.bus.Disconnect()
	return nil
}

// Printer writes messages to a local stream instead of a bus.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Deliver prints one line per message. The message topic carries the sensor name.
func (p *Printer) Deliver(msgs []report.Message) error {
	for _, msg := range msgs {
		if _, err := fmt.Fprintf(p.w, "Data for %q: %s\n", msg.Topic, msg.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the stream belongs to the caller.
func (p *Printer) Close() error {
	return nil
}
