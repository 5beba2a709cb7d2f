package models

import "telemetry-logger/utils"

// AxisPrecision is the number of decimals written for every axis column.
const AxisPrecision = 2

// SensorFrame is one six-axis motion sample relayed from a node.
// A frame is never mutated after the parser builds it; it is passed by value.
type SensorFrame struct {
	NodeID      string  `json:"id"`
	AX          float64 `json:"ax"` // acceleration
	AY          float64 `json:"ay"`
	AZ          float64 `json:"az"`
	GX          float64 `json:"gx"` // angular rate
	GY          float64 `json:"gy"`
	GZ          float64 `json:"gz"`
	TimestampUs uint64  `json:"ts_us"` // node-local monotonic clock, microseconds
}

// CSVHeader returns the recording columns. Recorded files and snapshot
// exports share the same layout.
func (SensorFrame) CSVHeader() []string {
	return []string{
		"ID", "Status",
		"AccX", "AccY", "AccZ",
		"GyroX", "GyroY", "GyroZ",
		"Timestamp", "Timestamp_us",
	}
}

// CSVRow serialises the frame as an Active sample.
func (f SensorFrame) CSVRow() []string {
	return f.CSVRowWithStatus(StatusActive)
}

// CSVRowWithStatus serialises the frame with an explicit status column.
func (f SensorFrame) CSVRowWithStatus(status NodeStatus) []string {
	return []string{
		f.NodeID,
		status.String(),
		ftoa(f.AX, AxisPrecision), ftoa(f.AY, AxisPrecision), ftoa(f.AZ, AxisPrecision),
		ftoa(f.GX, AxisPrecision), ftoa(f.GY, AxisPrecision), ftoa(f.GZ, AxisPrecision),
		utils.FormatMicros(f.TimestampUs),
		utoa64(f.TimestampUs),
	}
}

// Accel returns the acceleration triple, in the order the charts plot it.
func (f SensorFrame) Accel() [3]float64 { return [3]float64{f.AX, f.AY, f.AZ} }

// Gyro returns the angular-rate triple.
func (f SensorFrame) Gyro() [3]float64 { return [3]float64{f.GX, f.GY, f.GZ} }
