package models

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func missingFields(fields map[string]interface{}, order []string) error {
	var missing []string
	for _, name := range order {
		if fields[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{
		Field:   strings.Join(missing, ","),
		Message: "required field is missing or null",
	}
}

var humidityFields = []string{"zone1", "zone2", "zone3", "zone4", "zone5", "zone6", "zone7", "zone8", "serial"}

// ValidateHumidity reports absent zone or serial fields. Values are not
// range-checked.
func ValidateHumidity(msg *HumidityMessage) error {
	if msg == nil {
		return &ValidationError{Field: "packet", Message: "packet cannot be nil"}
	}
	z := msg.Zones()
	return missingFields(map[string]interface{}{
		"zone1": z[0], "zone2": z[1], "zone3": z[2], "zone4": z[3],
		"zone5": z[4], "zone6": z[5], "zone7": z[6], "zone8": z[7],
		"serial": msg.Serial,
	}, humidityFields)
}

var heartbeatFields = []string{"battery", "dev_time", "temperature", "dev_humidity", "serial"}

func ValidateHeartbeat(msg *HeartbeatMessage) error {
	if msg == nil {
		return &ValidationError{Field: "packet", Message: "packet cannot be nil"}
	}
	return missingFields(map[string]interface{}{
		"battery":      msg.Battery,
		"dev_time":     msg.DevTime,
		"temperature":  msg.Temperature,
		"dev_humidity": msg.DevHumidity,
		"serial":       msg.Serial,
	}, heartbeatFields)
}
