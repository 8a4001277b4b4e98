package domain

// LogEntry is one line of the log kept for a test run.
type LogEntry struct {
	Time     int64  `json:"time"`
	DriverId string `json:"driverId"`
	Test     string `json:"test"`
	Run      string `json:"run"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}
