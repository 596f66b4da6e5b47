package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/control"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/ratelearn"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/tuning"
)

// CurrentVersion is the snapshot schema version this build writes.
//
// History:
//
//	v1  gains and integral only, flat at the top level
//	v2  control state nested, tuning history and rate bins added,
//	    single scalar confidence
//	v3  per-mode confidence map, change-log entries carry the auto flag
const CurrentVersion = 3

// Snapshot is the full persistent state of one zone.
type Snapshot struct {
	Version  int             `json:"version"`
	Zone     string          `json:"zone"`
	Mode     model.Mode      `json:"mode"`
	Setpoint float64         `json:"setpoint"`
	Control  control.State   `json:"control"`
	Tuning   tuning.State    `json:"tuning"`
	Rates    ratelearn.State `json:"rates"`
}

// Encode serializes a snapshot.
func Encode(s Snapshot) ([]byte, error) {
	s.Version = CurrentVersion
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot of any known version, migrating one version at
// a time up to CurrentVersion. Corrupt or unknown input degrades to an
// empty snapshot with a warning; decoding never fails hard, so a bad blob
// in the store costs learned state but not regulation.
func Decode(data []byte, logger *slog.Logger) Snapshot {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("corrupt snapshot, starting from defaults", "error", err)
		return Snapshot{Version: CurrentVersion}
	}

	version := 0
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			logger.Warn("corrupt snapshot version, starting from defaults", "error", err)
			return Snapshot{Version: CurrentVersion}
		}
	}
	if version < 1 || version > CurrentVersion {
		logger.Warn("unknown snapshot version, starting from defaults", "version", version)
		return Snapshot{Version: CurrentVersion}
	}

	for v := version; v < CurrentVersion; v++ {
		var err error
		raw, err = migrate(v, raw)
		if err != nil {
			logger.Warn("snapshot migration failed, starting from defaults",
				"from_version", v, "error", err)
			return Snapshot{Version: CurrentVersion}
		}
	}

	merged, err := json.Marshal(raw)
	if err != nil {
		logger.Warn("corrupt snapshot, starting from defaults", "error", err)
		return Snapshot{Version: CurrentVersion}
	}
	var s Snapshot
	if err := json.Unmarshal(merged, &s); err != nil {
		logger.Warn("corrupt snapshot, starting from defaults", "error", err)
		return Snapshot{Version: CurrentVersion}
	}
	s.Version = CurrentVersion
	return s
}

// migrate lifts a raw snapshot one schema version.
func migrate(from int, raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	switch from {
	case 1:
		return migrateV1(raw)
	case 2:
		return migrateV2(raw)
	default:
		return nil, fmt.Errorf("no migration from version %d", from)
	}
}

// migrateV1 nests the flat v1 gains and integral under a control object.
// Tuning history and rate bins did not exist yet and start empty.
func migrateV1(raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	ctrl := map[string]json.RawMessage{}
	if g, ok := raw["gains"]; ok {
		ctrl["gains"] = g
		delete(raw, "gains")
	}
	if i, ok := raw["integral"]; ok {
		ctrl["integral"] = i
		delete(raw, "integral")
	}
	data, err := json.Marshal(ctrl)
	if err != nil {
		return nil, err
	}
	raw["control"] = data
	raw["version"] = json.RawMessage("2")
	return raw, nil
}

// migrateV2 widens the scalar v2 confidence into the per-mode map. The
// scalar only ever described heating; cooling starts at the default.
func migrateV2(raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	tun := map[string]json.RawMessage{}
	if t, ok := raw["tuning"]; ok {
		if err := json.Unmarshal(t, &tun); err != nil {
			return nil, err
		}
	}
	if c, ok := tun["confidence"]; ok {
		var scalar float64
		if err := json.Unmarshal(c, &scalar); err == nil {
			widened, err := json.Marshal(map[model.Mode]float64{
				model.ModeHeat: scalar,
				model.ModeCool: 0.2,
			})
			if err != nil {
				return nil, err
			}
			tun["confidence"] = widened
		}
	}
	data, err := json.Marshal(tun)
	if err != nil {
		return nil, err
	}
	raw["tuning"] = data
	raw["version"] = json.RawMessage("3")
	return raw, nil
}
