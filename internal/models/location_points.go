package models

import "time"

// LocationPoint is immutable once recorded, except for Address which an
// asynchronous geocoder may fill in later.
type LocationPoint struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Accuracy       float64   `json:"accuracy"`
	Timestamp      time.Time `json:"timestamp"`
	Speed          *float64  `json:"speed,omitempty"`
	Bearing        *float64  `json:"bearing,omitempty"`
	Altitude       *float64  `json:"altitude,omitempty"`
	BatteryLevel   *int      `json:"battery_level,omitempty"`
	ConnectionType string    `json:"connection_type,omitempty"`
	Address        string    `json:"address,omitempty"`
}
