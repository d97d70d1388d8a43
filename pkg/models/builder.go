package models

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	serialLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	serialDigits  = "0123456789"

	minSyntheticHumidity = 30.0
	maxSyntheticHumidity = 80.0

	minSyntheticTemperature = 15.0
	maxSyntheticTemperature = 35.0
)

// PacketGenerator produces synthetic packets for load and loss testing.
// It is not safe for concurrent use.
type PacketGenerator struct {
	rnd *rand.Rand
}

func NewPacketGenerator(seed uint64) *PacketGenerator {
	return &PacketGenerator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func NewRandomPacketGenerator() *PacketGenerator {
	return NewPacketGenerator(uint64(time.Now().UnixNano()))
}

// Humidity returns a humidity packet with zones uniform in [30, 80) rounded
// to one decimal and a fresh serial.
func (g *PacketGenerator) Humidity() HumidityMessage {
	var zones [8]float64
	for i := range zones {
		zones[i] = g.uniform(minSyntheticHumidity, maxSyntheticHumidity)
	}
	return NewHumidityMessage(zones, g.Serial())
}

// Heartbeat returns a heartbeat packet stamped with devTime. Battery is a
// whole percentage; temperature and humidity are rounded to one decimal.
func (g *PacketGenerator) Heartbeat(devTime time.Time) HeartbeatMessage {
	battery := float64(g.rnd.IntN(101))
	temperature := g.uniform(minSyntheticTemperature, maxSyntheticTemperature)
	humidity := g.uniform(minSyntheticHumidity, maxSyntheticHumidity)
	return NewHeartbeatMessage(battery, devTime, temperature, humidity, g.Serial())
}

func (g *PacketGenerator) uniform(lo, hi float64) float64 {
	return math.Round((g.rnd.Float64()*(hi-lo)+lo)*10) / 10
}

// Serial returns three uppercase letters followed by six digits.
func (g *PacketGenerator) Serial() string {
	var b strings.Builder
	b.Grow(9)
	for i := 0; i < 3; i++ {
		b.WriteByte(serialLetters[g.rnd.IntN(len(serialLetters))])
	}
	for i := 0; i < 6; i++ {
		b.WriteByte(serialDigits[g.rnd.IntN(len(serialDigits))])
	}
	return b.String()
}

func NewHumidityMessage(zones [8]float64, serial string) HumidityMessage {
	return HumidityMessage{
		Type:   TypeHumidity,
		Zone1:  zones[0],
		Zone2:  zones[1],
		Zone3:  zones[2],
		Zone4:  zones[3],
		Zone5:  zones[4],
		Zone6:  zones[5],
		Zone7:  zones[6],
		Zone8:  zones[7],
		Serial: serial,
	}
}

func NewHeartbeatMessage(battery float64, devTime time.Time, temperature, devHumidity float64, serial string) HeartbeatMessage {
	return HeartbeatMessage{
		Type:        TypeHeartbeat,
		Battery:     battery,
		DevTime:     devTime.UTC().Format(time.RFC3339),
		Temperature: temperature,
		DevHumidity: devHumidity,
		Serial:      serial,
	}
}

func NewWaterAckMessage() WaterAckMessage {
	return WaterAckMessage{Type: TypeWaterAck}
}
