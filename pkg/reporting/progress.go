package reporting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
)

// OutputFormat represents the progress output format.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatTUI  OutputFormat = "tui"
)

// TrainingProgressReporter prints loss-aggregator reports (§4.4/§4.7) to
// the console in one of three formats, the same three-way switch the
// teacher's test-run reporter used for scenario progress.
type TrainingProgressReporter struct {
	format    OutputFormat
	logger    *Logger
	startedAt time.Time
}

// NewTrainingProgressReporter creates a reporter. startedAt is used to
// compute the elapsed-time field every report line carries.
func NewTrainingProgressReporter(format OutputFormat, logger *Logger, startedAt time.Time) *TrainingProgressReporter {
	return &TrainingProgressReporter{format: format, logger: logger, startedAt: startedAt}
}

// ReportLoss prints one polling cycle's aggregate RMSE (§4.4).
func (pr *TrainingProgressReporter) ReportLoss(report lossagg.Report) {
	switch pr.format {
	case FormatJSON:
		pr.reportJSON(report)
	case FormatTUI:
		pr.reportTUI(report)
	default:
		pr.reportText(report)
	}
}

// ReportRoutingExhaustion logs a dropped column (§4.5/§7 error kind 3).
func (pr *TrainingProgressReporter) ReportRoutingExhaustion(item int, rank model.Rank) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "routing_exhaustion",
			"item":      item,
			"rank":      rank,
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Printf("⚠️  Dropped column %d at rank %d: routing exhausted\n", item, rank)
	default:
		fmt.Printf("[ROUTING] dropped column %d at rank %d: exhausted off-machine retries\n", item, rank)
	}
}

// ReportTrainingStopped prints a final summary when a run ends, whether
// by drain-and-stop or natural completion.
func (pr *TrainingProgressReporter) ReportTrainingStopped(final lossagg.Report, reason string) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "training_stopped",
			"reason":    reason,
			"report":    final,
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		pr.printStoppedSummary(final, reason)
	default:
		fmt.Printf("[STOPPED] %s | RMSE=%.4f updates=%d\n", reason, final.RMSE, final.Total.Count)
	}
}

func (pr *TrainingProgressReporter) reportText(report lossagg.Report) {
	elapsed := time.Since(pr.startedAt).Round(time.Second)
	fmt.Printf("[%s] rmse=%.4f updates=%d elapsed=%s\n",
		time.Now().Format("15:04:05"), report.RMSE, report.Total.Count, elapsed)
}

func (pr *TrainingProgressReporter) reportJSON(report lossagg.Report) {
	data, err := json.Marshal(report)
	if err != nil {
		pr.logger.Error("failed to marshal loss report", "error", err)
		return
	}
	fmt.Println(string(data))
}

func (pr *TrainingProgressReporter) reportTUI(report lossagg.Report) {
	pr.clearScreen()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("   NOMAD training progress")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Printf("📉 RMSE: %.4f\n", report.RMSE)
	fmt.Printf("🔄 Updates: %d\n", report.Total.Count)
	fmt.Printf("⏱️  Elapsed: %s\n", time.Since(pr.startedAt).Round(time.Second))
	fmt.Println()

	if len(report.PerRank) > 0 {
		fmt.Printf("📈 Per-worker loss (%d ranks):\n", len(report.PerRank))
		for rank, snap := range report.PerRank {
			fmt.Printf("   • rank %d: sum_sq=%.4f count=%d\n", rank, snap.SumSquaredLoss, snap.Count)
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("─", 80))
}

func (pr *TrainingProgressReporter) printStoppedSummary(final lossagg.Report, reason string) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("   TRAINING STOPPED")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
	fmt.Printf("🛑 Reason: %s\n", reason)
	fmt.Printf("📉 Final RMSE: %.4f\n", final.RMSE)
	fmt.Printf("🔄 Total updates: %d\n", final.Total.Count)
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
}

// clearScreen clears the terminal screen.
func (pr *TrainingProgressReporter) clearScreen() {
	fmt.Print("\033[2J\033[H")
}

// clearLine clears the current line.
func (pr *TrainingProgressReporter) clearLine() {
	fmt.Print("\033[K")
}
