package transport

import (
	"os"

	"github.com/fiberfleet/distrun/internal/base"
)

// Roster is the fixed, JSON-loaded list of peer addresses for a run: one
// entry per rank, Roster[i] is where rank i's QUICGroup listens. This
// replaces the teacher's dynamic file-brokerage peer discovery
// (cluster/discovery.go's Announce/Touch/Discover): SPEC_FULL.md's rank
// model is fixed for the lifetime of a run, so there is nothing left for
// a discovery protocol to discover — membership is decided once, at
// launch, by whoever writes this file.
type Roster []string

// LoadRoster reads a Roster from a JSON file, using the same
// JsonDeserialize helper internal/base/Json.go wraps goccy/go-json with.
func LoadRoster(path string) (Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var roster Roster
	if err := base.JsonDeserialize(&roster, f); err != nil {
		return nil, err
	}
	return roster, nil
}

// SaveRoster writes a Roster to a JSON file.
func SaveRoster(path string, roster Roster) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return base.JsonSerialize(roster, f, base.OptionJsonPrettyPrint(true))
}
