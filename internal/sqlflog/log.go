// Package sqlflog centralizes structured logging conventions used across
// SQLFlow's components: one logrus field vocabulary shared by the parser,
// planner, connectors, and executor.
package sqlflog

import (
	"github.com/sirupsen/logrus"
)

// Field names shared by every structured log entry and error envelope.
const (
	FieldStepID   = "step_id"
	FieldStepType = "step_type"
	FieldPhase    = "phase"
	FieldPipeline = "pipeline"
	FieldSource   = "source"
	FieldTarget   = "target"
	FieldRunID    = "run_id"
)

// Base is the process-wide logger. Callers derive scoped entries from it
// with WithFields rather than constructing new loggers.
var Base = logrus.New()

// Step returns a logger entry scoped to one execution step.
func Step(stepID, stepType string) *logrus.Entry {
	return Base.WithFields(logrus.Fields{
		FieldStepID:   stepID,
		FieldStepType: stepType,
	})
}

// Run returns a logger entry scoped to one pipeline run.
func Run(pipeline, runID string) *logrus.Entry {
	return Base.WithFields(logrus.Fields{
		FieldPipeline: pipeline,
		FieldRunID:    runID,
	})
}
