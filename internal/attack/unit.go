package attack

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"

	"github.com/poisonlab/poisonbench/internal/config"
)

// Unit is one point of the sweep grid: a model, a trigger recipe, a
// poison budget, and an iteration counter.
type Unit struct {
	Model           string
	FeatureStrategy string
	ValueStrategy   string
	PoisonSize      float64
	WatermarkSize   int
	Iteration       int
}

// Key is the canonical unit identifier. It names artifact directories,
// result rows, and the per-unit RNG stream, so two runs of the same
// config produce identical keys.
func (u Unit) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%d",
		u.Model, u.FeatureStrategy, u.ValueStrategy,
		strconv.FormatFloat(u.PoisonSize, 'g', -1, 64),
		u.WatermarkSize, u.Iteration)
}

// Seed derives the unit's RNG seed from the sweep seed and the unit
// key, so every unit gets an independent, reproducible stream.
func (u Unit) Seed(sweepSeed uint64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(u.Key()))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], sweepSeed)
	_, _ = h.Write(b[:])
	return h.Sum64()
}

// RNG returns the unit's seeded generator.
func (u Unit) RNG(sweepSeed uint64) *rand.Rand {
	s := u.Seed(sweepSeed)
	return rand.New(rand.NewPCG(s, s))
}

// Expand enumerates the config grid in deterministic order: feature
// strategy, then value strategy, then poison size, then watermark
// size, then iteration.
func Expand(cfg *config.Config) []Unit {
	units := make([]Unit, 0, cfg.Units())
	for _, fs := range cfg.FeatureSelection {
		for _, vs := range cfg.ValueSelection {
			for _, ps := range cfg.PoisonSizes {
				for _, ws := range cfg.WatermarkSizes {
					for it := 0; it < cfg.Iterations; it++ {
						units = append(units, Unit{
							Model:           cfg.Model,
							FeatureStrategy: fs,
							ValueStrategy:   vs,
							PoisonSize:      ps,
							WatermarkSize:   ws,
							Iteration:       it,
						})
					}
				}
			}
		}
	}
	return units
}
