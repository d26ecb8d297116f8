package eventclient

import (
	"encoding/json"

	"github.com/shanda/dolphind/internal/frame"
)

// detectedEnvelope and packagedEnvelope mirror the notifier's wire schema
// exactly: a cmdType/data envelope, with coordinates double-encoded as a
// JSON string inside the data object.
type detectedEnvelope struct {
	CmdType  string       `json:"cmdType"`
	AppID    string       `json:"appId"`
	ClientID string       `json:"clientId"`
	Data     detectedData `json:"data"`
}

type detectedData struct {
	NotifyType  string `json:"notifyType"`
	VideoStream string `json:"videoStream"`
	Channel     int    `json:"channel"`
	Timestamp   int64  `json:"timestamp"`
	Coordinates string `json:"coordinates"`
}

type packagedEnvelope struct {
	CmdType  string       `json:"cmdType"`
	ClientID string       `json:"clientId"`
	Data     packagedData `json:"data"`
}

type packagedData struct {
	NotifyType string `json:"notifyType"`
	Filename   string `json:"filename"`
	Path       string `json:"path"`
}

// appID and clientID are fixed identifiers the notifier protocol expects on
// every envelope, carried over unchanged from the original wire format.
const (
	appID    = "10080"
	clientID = "jt001"
)

type coordinate struct {
	LX int `json:"lx"`
	LY int `json:"ly"`
	RX int `json:"rx"`
	RY int `json:"ry"`
}

// EncodeDetected builds the JSON payload for a "detected" notification:
// lx=x, ly=y, rx=x+w, ry=y+h per rectangle.
func EncodeDetected(videoStream string, channel int, timestamp frame.Index, rects []frame.Rect) (string, error) {
	coords := make([]coordinate, len(rects))
	for i, r := range rects {
		coords[i] = coordinate{LX: r.X, LY: r.Y, RX: r.X + r.W, RY: r.Y + r.H}
	}
	coordsJSON, err := json.Marshal(coords)
	if err != nil {
		return "", err
	}

	env := detectedEnvelope{
		CmdType:  "notify",
		AppID:    appID,
		ClientID: clientID,
		Data: detectedData{
			NotifyType:  "detectedNotify",
			VideoStream: videoStream,
			Channel:     channel,
			Timestamp:   int64(timestamp),
			Coordinates: string(coordsJSON),
		},
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodePackaged builds the JSON payload for a "packaged" notification,
// emitted once a clip's render tasks complete.
func EncodePackaged(filename, path string) (string, error) {
	env := packagedEnvelope{
		CmdType:  "notify",
		ClientID: clientID,
		Data: packagedData{
			NotifyType: "packagedNotify",
			Filename:   filename,
			Path:       path,
		},
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeCoordinates parses the double-encoded coordinates string back into
// rectangles, used by tests to round-trip EncodeDetected's output
// round-trips back into rectangles for verification.
func DecodeCoordinates(coordinates string) ([]frame.Rect, error) {
	var coords []coordinate
	if err := json.Unmarshal([]byte(coordinates), &coords); err != nil {
		return nil, err
	}
	rects := make([]frame.Rect, len(coords))
	for i, c := range coords {
		rects[i] = frame.Rect{X: c.LX, Y: c.LY, W: c.RX - c.LX, H: c.RY - c.LY}
	}
	return rects, nil
}
