package serialmux

import "strings"

// Commands understood by the feeder firmware.
const (
	CmdFeed   = "FEED"
	CmdClock  = "CLOCK"
	CmdEcho   = "ECHO"
	CmdStatus = "STATUS?"
)

// Line types reported by the feeder.
const (
	LineAck     = "ack"
	LineDone    = "done"
	LineError   = "error"
	LineStatus  = "status"
	LineUnknown = "unknown"
)

// ClassifyLine returns the type of a line received from the feeder.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	word, _, _ := strings.Cut(line, " ")
	switch strings.ToUpper(word) {
	case "OK", "ACK":
		return LineAck
	case "DONE":
		return LineDone
	case "ERR", "ERROR":
		return LineError
	case "STATUS":
		return LineStatus
	}
	if strings.HasPrefix(line, "{") {
		return LineStatus
	}
	return LineUnknown
}
