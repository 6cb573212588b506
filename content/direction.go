package content

import "fmt"

// Direction distinguishes who asked for the exchange: an import pulls
// content from a peer, an export or share pushes content to one.
type Direction int

const (
	DirectionImport Direction = iota
	DirectionExport
	DirectionShare
)

var directionNames = map[Direction]string{
	DirectionImport: "import",
	DirectionExport: "export",
	DirectionShare:  "share",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "invalid"
}

// ParseDirection resolves a direction name as used on the wire.
func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return DirectionImport, fmt.Errorf("content: unknown direction %q", s)
}

// SelectionType flags whether a transfer may carry more than one item.
type SelectionType int

const (
	SelectionSingle SelectionType = iota
	SelectionMultiple
)

func (s SelectionType) String() string {
	if s == SelectionMultiple {
		return "multiple"
	}
	return "single"
}

// ParseSelectionType resolves a selection-type name as used on the wire.
func ParseSelectionType(s string) (SelectionType, error) {
	switch s {
	case "single":
		return SelectionSingle, nil
	case "multiple":
		return SelectionMultiple, nil
	}
	return SelectionSingle, fmt.Errorf("content: unknown selection type %q", s)
}
