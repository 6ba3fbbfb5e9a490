package lighting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HueV1Lamp drives one light through the Hue bridge v1 REST API, either by
// hue/saturation or by CIE xy.
type HueV1Lamp struct {
	stateURL string
	lightID  string
	useXY    bool
	http     *http.Client
}

type hueHSBody struct {
	Hue uint16 `json:"hue"`
	Sat uint8  `json:"sat"`
	On  bool   `json:"on"`
}

type hueXYBody struct {
	XY [2]float64 `json:"xy"`
	On bool       `json:"on"`
}

type hueV1Result struct {
	Error *struct {
		Type        int    `json:"type"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"error"`
}

// NewHueV1Lamp creates a v1 lamp. bridge is a host or URL.
func NewHueV1Lamp(bridge, username, lightID string, useXY bool, client *http.Client) (*HueV1Lamp, error) {
	bridge = strings.TrimRight(strings.TrimSpace(bridge), "/")
	if bridge == "" {
		return nil, errors.New("hue bridge required")
	}
	if username == "" || lightID == "" {
		return nil, errors.New("hue username and light id required")
	}
	if !strings.Contains(bridge, "://") {
		bridge = "http://" + bridge
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HueV1Lamp{
		stateURL: fmt.Sprintf("%s/api/%s/lights/%s/state", bridge, username, lightID),
		lightID:  lightID,
		useXY:    useXY,
		http:     client,
	}, nil
}

func (l *HueV1Lamp) Name() string {
	if l.useXY {
		return "hue_xy:" + l.lightID
	}
	return "hue_hs:" + l.lightID
}

// SetColor issues one PUT to the light state endpoint.
func (l *HueV1Lamp) SetColor(ctx context.Context, c Color) error {
	var body any
	if l.useXY {
		body = hueXYBody{XY: [2]float64{c.XY.X, c.XY.Y}, On: true}
	} else {
		hue, sat, _ := c.HueSat()
		body = hueHSBody{Hue: hue, Sat: sat, On: true}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, l.stateURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("hue bridge error: %s", resp.Status)
	}
	var results []hueV1Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil
	}
	for _, res := range results {
		if res.Error != nil {
			return fmt.Errorf("hue bridge error %d: %s", res.Error.Type, res.Error.Description)
		}
	}
	return nil
}
