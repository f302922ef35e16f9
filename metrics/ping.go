package metrics

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/xrjr/mcutils/pkg/ping"
)

// Status is the server list ping view of a server.
type Status struct {
	Version     string
	Protocol    int
	Online      int
	Max         int
	Description string
	Latency     int
}

type pingVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type pingPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

type pingResponse struct {
	Version     pingVersion `json:"version"`
	Players     pingPlayers `json:"players"`
	Description interface{} `json:"description"`
}

// Ping queries the game port of host for version and player counts.
func Ping(host string, port int) (*Status, error) {
	properties, latency, err := ping.Ping(host, port)
	if err != nil {
		return nil, errors.Wrapf(err, "ping %s:%d", host, port)
	}
	raw, err := sonic.Marshal(properties)
	if err != nil {
		return nil, errors.Wrap(err, "encode ping properties")
	}
	status, err := decodeStatus(raw)
	if err != nil {
		return nil, err
	}
	status.Latency = int(latency)
	return status, nil
}

func decodeStatus(raw []byte) (*Status, error) {
	var resp pingResponse
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode ping properties")
	}
	version := resp.Version.Name
	if version == "" {
		version = "Unknown version"
	}
	return &Status{
		Version:     version,
		Protocol:    resp.Version.Protocol,
		Online:      resp.Players.Online,
		Max:         resp.Players.Max,
		Description: descriptionText(resp.Description),
	}, nil
}

// descriptionText flattens the motd, which is either a plain string or a
// chat component with optional extra parts.
func descriptionText(desc interface{}) string {
	switch d := desc.(type) {
	case string:
		return d
	case map[string]interface{}:
		text, _ := d["text"].(string)
		if extra, ok := d["extra"].([]interface{}); ok {
			for _, item := range extra {
				if part, ok := item.(map[string]interface{}); ok {
					if s, ok := part["text"].(string); ok {
						text += s
					}
				}
			}
		}
		return text
	}
	return ""
}
