package reporting_test

import (
	"testing"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/reporting"
	"github.com/stretchr/testify/require"
)

func TestReportLossDoesNotPanicAcrossFormats(t *testing.T) {
	logger := reporting.NewLogger(reporting.LoggerConfig{Level: reporting.LogLevelError})
	report := lossagg.Report{
		Total:   lossagg.Snapshot{SumSquaredLoss: 24.0, Count: 7},
		PerRank: map[model.Rank]lossagg.Snapshot{1: {SumSquaredLoss: 10, Count: 5}, 2: {SumSquaredLoss: 14, Count: 2}},
		RMSE:    lossagg.RMSE(24.0, 7),
		At:      time.Now(),
	}

	for _, format := range []reporting.OutputFormat{reporting.FormatText, reporting.FormatJSON, reporting.FormatTUI} {
		reporter := reporting.NewTrainingProgressReporter(format, logger, time.Now())
		require.NotPanics(t, func() { reporter.ReportLoss(report) })
		require.NotPanics(t, func() { reporter.ReportRoutingExhaustion(9, model.Rank(2)) })
		require.NotPanics(t, func() { reporter.ReportTrainingStopped(report, "drain-and-stop") })
	}
}
