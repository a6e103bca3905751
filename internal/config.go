package internal

import "encoding/json"

// MissiveConfig holds the process-wide default payload encoding. Packages
// read it at call time, so swapping the functions before start-up rebinds
// every codec that did not pick an explicit format.
type MissiveConfig struct {
	Unmarshal func(data []byte, v any) error
	Marshal   func(v any) ([]byte, error)
}

var Config = MissiveConfig{
	Marshal:   json.Marshal,
	Unmarshal: json.Unmarshal,
}
