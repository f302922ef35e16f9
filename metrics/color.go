package metrics

// Colour is a 24 bit RGB value.
type Colour uint32

const (
	Green  Colour = 6_736_998
	Amber  Colour = 16_769_536
	Orange Colour = 16_737_843
	Red    Colour = 13_382_451
)

func (c Colour) String() string {
	switch c {
	case Green:
		return "green"
	case Amber:
		return "amber"
	case Orange:
		return "orange"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// EmbedColor picks the report colour band for a tick time.
func EmbedColor(mspt uint32) Colour {
	switch {
	case mspt >= 50:
		return Red
	case mspt >= 40:
		return Orange
	case mspt >= 30:
		return Amber
	default:
		return Green
	}
}
