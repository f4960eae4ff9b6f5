package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/OCAP2/mpsc/internal/stress"

	"gorm.io/datatypes"
)

// Run is one stored stress run.
type Run struct {
	ID          uint      `gorm:"primarykey"`
	CreatedAt   time.Time `gorm:"index"`
	RunID       string    `gorm:"size:36;uniqueIndex"`
	Mode        string    `gorm:"size:32;index"`
	Producers   int
	Messages    int
	Duration    time.Duration
	Throughput  float64
	Passed      bool
	PerProducer datatypes.JSON
	Detail      string
}

// TableName overrides the default table name.
func (Run) TableName() string {
	return "stress_runs"
}

// NewRun converts a stress result into its stored form.
func NewRun(r stress.Result) (Run, error) {
	perProducer, err := json.Marshal(r.PerProducer)
	if err != nil {
		return Run{}, fmt.Errorf("encoding per-producer counts: %w", err)
	}
	return Run{
		RunID:       r.ID,
		Mode:        string(r.Mode),
		Producers:   r.Producers,
		Messages:    r.Messages,
		Duration:    r.Duration,
		Throughput:  r.Throughput,
		Passed:      r.Passed,
		PerProducer: datatypes.JSON(perProducer),
		Detail:      r.Detail,
	}, nil
}

// Result converts a stored run back into a stress result.
func (r Run) Result() (stress.Result, error) {
	var perProducer []int
	if len(r.PerProducer) > 0 {
		if err := json.Unmarshal(r.PerProducer, &perProducer); err != nil {
			return stress.Result{}, fmt.Errorf("decoding per-producer counts: %w", err)
		}
	}
	return stress.Result{
		ID:          r.RunID,
		Mode:        stress.Mode(r.Mode),
		Producers:   r.Producers,
		Messages:    r.Messages,
		Duration:    r.Duration,
		Throughput:  r.Throughput,
		Passed:      r.Passed,
		PerProducer: perProducer,
		Detail:      r.Detail,
	}, nil
}
