package models

const (
	TypeHumidity  = "humidity"
	TypeHeartbeat = "heartbeat"
	TypeWaterAck  = "water_ack"
)

// SupportedTypes is the closed set of packet types the ingestor routes.
var SupportedTypes = []string{TypeHumidity, TypeHeartbeat, TypeWaterAck}

func IsSupported(packetType string) bool {
	for _, t := range SupportedTypes {
		if t == packetType {
			return true
		}
	}
	return false
}

// Field values are left untyped: decoded packets carry strings, json.Number or
// nil for absent fields, and are stored without coercion.

type HumidityMessage struct {
	Type   string      `json:"type"`
	Zone1  interface{} `json:"zone1"`
	Zone2  interface{} `json:"zone2"`
	Zone3  interface{} `json:"zone3"`
	Zone4  interface{} `json:"zone4"`
	Zone5  interface{} `json:"zone5"`
	Zone6  interface{} `json:"zone6"`
	Zone7  interface{} `json:"zone7"`
	Zone8  interface{} `json:"zone8"`
	Serial interface{} `json:"serial"`
}

func (m HumidityMessage) Zones() [8]interface{} {
	return [8]interface{}{m.Zone1, m.Zone2, m.Zone3, m.Zone4, m.Zone5, m.Zone6, m.Zone7, m.Zone8}
}

type HeartbeatMessage struct {
	Type        string      `json:"type"`
	Battery     interface{} `json:"battery"`
	DevTime     interface{} `json:"dev_time"`
	Temperature interface{} `json:"temperature"`
	DevHumidity interface{} `json:"dev_humidity"`
	Serial      interface{} `json:"serial"`
}

type WaterAckMessage struct {
	Type string `json:"type"`
}
