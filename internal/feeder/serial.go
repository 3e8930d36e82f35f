package feeder

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// CommandSender is the part of serialmux.SerialMuxInterface the serial
// publisher needs.
type CommandSender interface {
	SendCommand(string) error
}

// SerialPublisher writes "<topic> <payload>" lines to the feeder
// microcontroller. Payloads that are not single-line text (msgpack) are sent
// as "<topic> b64:<base64>".
type SerialPublisher struct {
	port CommandSender
}

func NewSerialPublisher(port CommandSender) *SerialPublisher {
	return &SerialPublisher{port: port}
}

func (p *SerialPublisher) Publish(topic string, payload []byte) error {
	if err := p.port.SendCommand(serialLine(topic, payload)); err != nil {
		return fmt.Errorf("serial publish to %s: %w", topic, err)
	}
	return nil
}

func serialLine(topic string, payload []byte) string {
	if utf8.Valid(payload) && !containsLineBreak(payload) {
		return topic + " " + string(payload)
	}
	return topic + " b64:" + base64.StdEncoding.EncodeToString(payload)
}

func containsLineBreak(b []byte) bool {
	for _, c := range b {
		if c == '\n' || c == '\r' {
			return true
		}
	}
	return false
}

// LogPublisher only logs what it would publish. It is used when no broker or
// serial feeder is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(topic string, payload []byte) error {
	if utf8.Valid(payload) {
		logf("(log only) %s: %s", topic, payload)
	} else {
		logf("(log only) %s: %d byte payload", topic, len(payload))
	}
	return nil
}

// MultiPublisher publishes to every publisher in order and returns the first
// error after trying all of them.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(topic string, payload []byte) error {
	var first error
	for _, p := range m {
		if err := p.Publish(topic, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
