package scaleout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"riskgate/internal/logger"
)

const fractionTolerance = 1e-6

// Level is one rung of a scale-out ladder.
type Level struct {
	TriggerR        float64 `yaml:"trigger_r"`
	CloseFraction   float64 `yaml:"close_fraction"`
	MoveToBreakeven bool    `yaml:"move_to_breakeven"`
}

// Ladder is an ordered list of take-profit levels, ascending by trigger R.
type Ladder struct {
	ID     string  `yaml:"id"`
	Levels []Level `yaml:"levels"`
}

type ladderFile struct {
	Ladders map[string]Ladder `yaml:"ladders"`
}

// LadderSnapshot is the registry's published, immutable view.
type LadderSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Ladders  map[string]Ladder
}

const ladderSchemaJSON = `{
  "type": "object",
  "required": ["ladders"],
  "properties": {
    "ladders": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["levels"],
        "properties": {
          "id": {"type": "string"},
          "levels": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["trigger_r", "close_fraction"],
              "properties": {
                "trigger_r": {"type": "number", "exclusiveMinimum": 0},
                "close_fraction": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
                "move_to_breakeven": {"type": "boolean"}
              }
            }
          }
        }
      }
    }
  }
}`

var ladderSchema = jsonschema.MustCompileString("ladders.schema.json", ladderSchemaJSON)

// Registry loads scale-out ladders from a YAML file and watches for updates.
// Invariant violations (fraction sum above 1.0, non-ascending triggers) are
// fatal at load time, never clamped.
type Registry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot LadderSnapshot
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ladder registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("ladder reload failed, keeping previous set: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current ladder set.
func (r *Registry) Snapshot() LadderSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Ladder returns the ladder for an ID.
func (r *Registry) Ladder(id string) (Ladder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.snapshot.Ladders[strings.TrimSpace(id)]
	return l, ok
}

func (r *Registry) reload() error {
	cfg, err := readLadderFile(r.path)
	if err != nil {
		return err
	}
	ladders := make(map[string]Ladder, len(cfg.Ladders))
	for name, l := range cfg.Ladders {
		if l.ID == "" {
			l.ID = name
		}
		if err := ValidateLadder(l); err != nil {
			return fmt.Errorf("ladder %s: %w", l.ID, err)
		}
		ladders[l.ID] = l
	}
	r.mu.Lock()
	r.snapshot = LadderSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Ladders:  ladders,
	}
	r.mu.Unlock()
	logger.Infof("ladder registry loaded %d ladders from %s", len(ladders), filepath.Base(r.path))
	return nil
}

func readLadderFile(path string) (ladderFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ladderFile{}, fmt.Errorf("read ladder config failed: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return ladderFile{}, fmt.Errorf("parse ladder config failed: %w", err)
	}
	if err := ladderSchema.Validate(jsonify(generic)); err != nil {
		return ladderFile{}, fmt.Errorf("ladder config schema: %w", err)
	}
	var cfg ladderFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return ladderFile{}, fmt.Errorf("decode ladder config failed: %w", err)
	}
	return cfg, nil
}

// jsonify converts yaml's map[any]any shapes into the map[string]any forms
// the schema validator expects.
func jsonify(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = jsonify(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = jsonify(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = jsonify(child)
		}
		return out
	case int:
		return json.Number(fmt.Sprint(val))
	default:
		return val
	}
}

// ValidateLadder enforces the ladder invariants: at least one level,
// strictly ascending trigger R, and close fractions summing to at most 1.0.
func ValidateLadder(l Ladder) error {
	if len(l.Levels) == 0 {
		return fmt.Errorf("needs at least 1 level")
	}
	sum := 0.0
	prevR := 0.0
	for i, lvl := range l.Levels {
		if lvl.TriggerR <= 0 {
			return fmt.Errorf("level#%d trigger_r must be > 0", i+1)
		}
		if lvl.TriggerR <= prevR {
			return fmt.Errorf("level#%d trigger_r must be strictly ascending", i+1)
		}
		if lvl.CloseFraction <= 0 || lvl.CloseFraction > 1 {
			return fmt.Errorf("level#%d close_fraction must be in (0,1]", i+1)
		}
		sum += lvl.CloseFraction
		prevR = lvl.TriggerR
	}
	if sum > 1+fractionTolerance {
		return fmt.Errorf("close fractions sum to %.4f, must not exceed 1.0", sum)
	}
	return nil
}
