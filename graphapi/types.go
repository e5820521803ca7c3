package graphapi

import (
	"encoding/json"
)

// Pos is a node's canvas position
type Pos struct {
	X float64
	Y float64
}

// it seems the json code can have either an array of values, or a dictionary of values
// keyed "0" and "1". When marshaling, we'll always output as an array.
func (p *Pos) UnmarshalJSON(b []byte) error {
	return decodePair(b, &p.X, &p.Y)
}

func (p Pos) MarshalJSON() ([]byte, error) {
	tmp := []float64{p.X, p.Y}
	return json.Marshal(tmp)
}

// Size is a node's canvas size
type Size struct {
	Width  float64
	Height float64
}

func (s *Size) UnmarshalJSON(b []byte) error {
	return decodePair(b, &s.Width, &s.Height)
}

func (s Size) MarshalJSON() ([]byte, error) {
	tmp := []float64{s.Width, s.Height}
	return json.Marshal(tmp)
}

func decodePair(b []byte, first, second *float64) error {
	if isNull(b) {
		return nil
	}

	// First try to unmarshal as array
	var tmpArr []interface{}
	if err := json.Unmarshal(b, &tmpArr); err == nil {
		for i, v := range tmpArr {
			value, ok := v.(float64)
			if !ok {
				continue
			}
			switch i {
			case 0:
				*first = value
			case 1:
				*second = value
			}
		}
		return nil
	}

	// If not array, try to unmarshal as map
	var tmpMap map[string]interface{}
	if err := json.Unmarshal(b, &tmpMap); err != nil {
		return err
	}

	for k, v := range tmpMap {
		value, ok := v.(float64)
		if !ok {
			continue
		}
		switch k {
		case "0":
			*first = value
		case "1":
			*second = value
		}
	}

	return nil
}
