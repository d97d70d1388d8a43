package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/models"
)

// Packet is the closed set of decoded messages. Anything outside the known
// types decodes to UnsupportedPacket.
type Packet interface {
	PacketType() string
	packet()
}

type HumidityPacket struct {
	models.HumidityMessage
}

type HeartbeatPacket struct {
	models.HeartbeatMessage
}

type WaterAckPacket struct{}

type UnsupportedPacket struct {
	Type string
}

func (HumidityPacket) PacketType() string { return models.TypeHumidity }
func (HeartbeatPacket) PacketType() string { return models.TypeHeartbeat }
func (WaterAckPacket) PacketType() string { return models.TypeWaterAck }
func (p UnsupportedPacket) PacketType() string { return p.Type }

func (HumidityPacket) packet() {}
func (HeartbeatPacket) packet() {}
func (WaterAckPacket) packet() {}
func (UnsupportedPacket) packet() {}

// Decode parses body as a single JSON object and picks the variant from its
// "type" field. Keys match exactly. Numbers are kept as json.Number so they
// reach the store in their original textual form.
func Decode(body []byte) (Packet, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&fields); err != nil {
		return nil, apperrors.ErrDecode.WithCause(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperrors.ErrDecode.WithDetail("message", "trailing data after JSON object")
	}
	if fields == nil {
		return nil, apperrors.ErrDecode.WithDetail("message", "payload is null")
	}

	packetType, ok := stringField(fields, "type")
	if !ok {
		return UnsupportedPacket{Type: string(fields["type"])}, nil
	}

	if !models.IsSupported(packetType) {
		return UnsupportedPacket{Type: packetType}, nil
	}

	switch packetType {
	case models.TypeHumidity:
		return HumidityPacket{models.HumidityMessage{
			Type:   packetType,
			Zone1:  field(fields, "zone1"),
			Zone2:  field(fields, "zone2"),
			Zone3:  field(fields, "zone3"),
			Zone4:  field(fields, "zone4"),
			Zone5:  field(fields, "zone5"),
			Zone6:  field(fields, "zone6"),
			Zone7:  field(fields, "zone7"),
			Zone8:  field(fields, "zone8"),
			Serial: field(fields, "serial"),
		}}, nil
	case models.TypeHeartbeat:
		return HeartbeatPacket{models.HeartbeatMessage{
			Type:        packetType,
			Battery:     field(fields, "battery"),
			DevTime:     field(fields, "dev_time"),
			Temperature: field(fields, "temperature"),
			DevHumidity: field(fields, "dev_humidity"),
			Serial:      field(fields, "serial"),
		}}, nil
	case models.TypeWaterAck:
		return WaterAckPacket{}, nil
	}
	return UnsupportedPacket{Type: packetType}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// field returns the decoded value for key, or nil when absent. The raw value
// already passed validation as part of the outer object.
func field(fields map[string]json.RawMessage, key string) interface{} {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
