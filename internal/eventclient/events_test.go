package eventclient

import (
	"encoding/json"
	"testing"

	"github.com/shanda/dolphind/internal/frame"
)

func TestEncodeDetectedRoundTrips(t *testing.T) {
	rects := []frame.Rect{{X: 10, Y: 20, W: 5, H: 8}, {X: 1, Y: 2, W: 3, H: 4}}
	payload, err := EncodeDetected("rtsp://cam1", 3, 100, rects)
	if err != nil {
		t.Fatal(err)
	}

	var env map[string]any
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatal(err)
	}
	data := env["data"].(map[string]any)
	if data["notifyType"] != "detectedNotify" {
		t.Errorf("notifyType = %v, want detectedNotify", data["notifyType"])
	}
	if int(data["timestamp"].(float64)) != 100 {
		t.Errorf("timestamp = %v, want 100", data["timestamp"])
	}

	got, err := DecodeCoordinates(data["coordinates"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(rects) {
		t.Fatalf("got %d rects, want %d", len(got), len(rects))
	}
	for i, r := range got {
		if r != rects[i] {
			t.Errorf("rect %d = %+v, want %+v", i, r, rects[i])
		}
	}
}

func TestEncodeDetectedCoordinatesOrdering(t *testing.T) {
	payload, err := EncodeDetected("rtsp://cam1", 1, 5, []frame.Rect{{X: 10, Y: 20, W: 5, H: 8}})
	if err != nil {
		t.Fatal(err)
	}
	var env map[string]any
	json.Unmarshal([]byte(payload), &env)
	data := env["data"].(map[string]any)

	var coords []map[string]int
	if err := json.Unmarshal([]byte(data["coordinates"].(string)), &coords); err != nil {
		t.Fatal(err)
	}
	c := coords[0]
	if c["lx"] != 10 || c["ly"] != 20 || c["rx"] != 15 || c["ry"] != 28 {
		t.Errorf("coordinate = %+v, want lx=10 ly=20 rx=15 ry=28", c)
	}
}

func TestEncodePackaged(t *testing.T) {
	payload, err := EncodePackaged("clip.mp4", "/data/render-streams/clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatal(err)
	}
	data := env["data"].(map[string]any)
	if data["notifyType"] != "packagedNotify" {
		t.Errorf("notifyType = %v, want packagedNotify", data["notifyType"])
	}
	if data["filename"] != "clip.mp4" {
		t.Errorf("filename = %v, want clip.mp4", data["filename"])
	}
}
