// Command costwatch analyzes a cost ledger workbook from the command line
// and writes the four-sheet Excel report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"costwatch/internal/anomaly"
	"costwatch/internal/config"
	"costwatch/internal/ingest"
	"costwatch/internal/report"
)

func main() {
	inPath := flag.String("in", "", "input workbook (long-format cost ledger)")
	outPath := flag.String("out", "AI_anomaly_report.xlsx", "output report path")
	targetYM := flag.String("month", "", "target period YYYY-MM (defaults to the latest in the data)")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "usage: costwatch -in ledger.xlsx [-out report.xlsx] [-month 2025-12]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if err := run(*inPath, *outPath, *targetYM, logger); err != nil {
		slog.Error("Analysis failed", "error", err)
		os.Exit(1)
	}
}

func run(inPath, outPath, targetYM string, logger *slog.Logger) error {
	cfg := config.Default()
	overlay, err := cfg.RuleOverlay()
	if err != nil {
		return err
	}
	pipeline, err := anomaly.NewPipeline(cfg.PipelineOptions(), overlay, logger)
	if err != nil {
		return err
	}

	table, err := ingest.NewReader(logger).ReadWorkbook(inPath)
	if err != nil {
		return err
	}

	annotated, err := pipeline.Run(context.Background(), table)
	if err != nil {
		return err
	}

	if targetYM == "" {
		for _, r := range annotated {
			if r.YearMonth > targetYM {
				targetYM = r.YearMonth
			}
		}
	}

	printSummary(annotated, targetYM)

	if err := report.NewWriter(logger).Save(annotated, targetYM, outPath); err != nil {
		return err
	}
	fmt.Printf("\n리포트 저장 완료: %s (대상 월: %s)\n", outPath, targetYM)
	return nil
}

func printSummary(t anomaly.Table, targetYM string) {
	var total, issues, missing, anomalies int
	for _, r := range t {
		if r.YearMonth != targetYM {
			continue
		}
		total++
		switch r.IssueType {
		case anomaly.IssueMissing:
			issues++
			missing++
		case anomaly.IssueAnomaly:
			issues++
			anomalies++
		}
	}

	fmt.Println("[탐지 결과 요약]")
	fmt.Printf(" - 전체 행 수: %d건\n", total)
	fmt.Printf(" - 이상/결측 의심: %d건\n", issues)
	fmt.Printf("   · 결측 의심: %d건\n", missing)
	fmt.Printf("   · 이상치 의심: %d건\n", anomalies)
}
